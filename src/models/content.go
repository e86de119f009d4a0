package models

import "time"

type ContentType int

const (
	ContentTypeArticle ContentType = iota + 1
	ContentTypeTutorial
)

func (t ContentType) String() string {
	switch t {
	case ContentTypeArticle:
		return "article"
	case ContentTypeTutorial:
		return "tutorial"
	}
	return "unknown"
}

func (t ContentType) Valid() bool {
	return t == ContentTypeArticle || t == ContentTypeTutorial
}

// Content is the mutable draft record of an article or tutorial. Its text
// lives in the content's git repository; the Sha* fields point at commits in
// that repository and any of them except ShaDraft may be unset.
type Content struct {
	ID int `db:"id"`

	Slug        string      `db:"slug"`
	Title       string      `db:"title"`
	Type        ContentType `db:"type"`
	Licence     string      `db:"licence"`
	Description string      `db:"description"`

	ShaDraft      string  `db:"sha_draft"`
	ShaBeta       *string `db:"sha_beta"`
	ShaValidation *string `db:"sha_validation"`
	ShaPublic     *string `db:"sha_public"`

	PublicVersionID *int `db:"public_version_id"`

	DateCreated time.Time `db:"date_created"`
	DateUpdated time.Time `db:"date_updated"`
}

func (c *Content) InBeta() bool       { return c.ShaBeta != nil }
func (c *Content) InValidation() bool { return c.ShaValidation != nil }
func (c *Content) InPublic() bool     { return c.ShaPublic != nil }

// Returns which pointer, if any, names the given commit. Draft wins over the
// others when several point at the same commit.
func (c *Content) PointerFor(sha string) (string, bool) {
	switch {
	case sha == c.ShaDraft:
		return "draft", true
	case c.ShaPublic != nil && *c.ShaPublic == sha:
		return "public", true
	case c.ShaBeta != nil && *c.ShaBeta == sha:
		return "beta", true
	case c.ShaValidation != nil && *c.ShaValidation == sha:
		return "validation", true
	}
	return "", false
}

type ContentAuthor struct {
	ContentID int       `db:"content_id"`
	UserID    int       `db:"user_id"`
	Position  int       `db:"position"`
	DateAdded time.Time `db:"date_added"`
}
