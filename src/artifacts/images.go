package artifacts

import (
	"regexp"
	"strings"

	"mvdan.cc/xurls/v2"
)

const (
	// Where images live in a content's repository.
	RepoImagesDir = "images"
	// Where they are copied in a published directory.
	ImagesDir = "extra/images"
)

// Gallery maps absolute image URLs to the address they should be served
// from in the editions. Images are stored and resized elsewhere.
type Gallery interface {
	Rewrite(url string) (string, bool)
}

// NoGallery leaves every URL alone.
type NoGallery struct{}

func (NoGallery) Rewrite(url string) (string, bool) { return "", false }

// Host prefix rewriting, e.g. from the upload host to a CDN.
type PrefixGallery map[string]string

func (g PrefixGallery) Rewrite(url string) (string, bool) {
	for from, to := range g {
		if strings.HasPrefix(url, from) {
			return to + strings.TrimPrefix(url, from), true
		}
	}
	return "", false
}

var (
	markdownImage = regexp.MustCompile(`(!\[[^\]]*\]\()([^)\s]+)`)
	strictURL     = xurls.Strict()
)

// RewriteImages points the images of an assembled text at their published
// location: repository images at the copy under ImagesDir, and absolute URLs
// wherever the gallery says.
func RewriteImages(md []byte, g Gallery) []byte {
	return markdownImage.ReplaceAllFunc(md, func(m []byte) []byte {
		sub := markdownImage.FindSubmatch(m)
		prefix, dest := string(sub[1]), string(sub[2])

		switch {
		case strings.HasPrefix(dest, RepoImagesDir+"/"):
			dest = ImagesDir + strings.TrimPrefix(dest, RepoImagesDir)
		case isURL(dest):
			if rewritten, ok := g.Rewrite(dest); ok {
				dest = rewritten
			}
		}
		return []byte(prefix + dest)
	})
}

func isURL(s string) bool {
	loc := strictURL.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}
