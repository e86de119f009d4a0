package models

import (
	"errors"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	MaxSlugLength = 80
	// How many numbered variants of a slug are tried before giving up.
	MaxSlugAttempts = 1000

	fallbackSlug = "untitled"
)

var ErrSlugExhausted = errors.New("no free slug left")

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lowercases the title, drops accents, and joins the remaining runs of
// letters and digits with dashes. It never returns an empty string.
func Slugify(title string) string {
	plain, _, err := transform.String(stripMarks, title)
	if err != nil {
		plain = title
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(plain) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
		} else {
			dash = true
		}
	}

	slug := b.String()
	if len(slug) > MaxSlugLength {
		slug = strings.TrimRight(slug[:MaxSlugLength], "-")
	}
	if slug == "" {
		return fallbackSlug
	}
	return slug
}

// SlugWithCounter gives the n-th variant of a slug: "intro", "intro-1",
// "intro-2", and so on. The base is shortened so the result still fits.
func SlugWithCounter(slug string, n int) string {
	if n <= 0 {
		return slug
	}
	suffix := "-" + strconv.Itoa(n)
	if len(slug)+len(suffix) > MaxSlugLength {
		slug = strings.TrimRight(slug[:MaxSlugLength-len(suffix)], "-")
	}
	return slug + suffix
}

// Disambiguate returns the first variant of slug that taken reports as free.
// The result depends only on which slugs are taken, so two calls over the
// same state agree.
func Disambiguate(slug string, taken func(candidate string) (bool, error)) (string, error) {
	for n := 0; n <= MaxSlugAttempts; n++ {
		candidate := SlugWithCounter(slug, n)
		isTaken, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !isTaken {
			return candidate, nil
		}
	}
	return "", ErrSlugExhausted
}
