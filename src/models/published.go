package models

import "time"

// PublishedContent is one publication event. Only the row that
// Content.PublicVersionID points to has MustRedirect unset; older rows are kept
// so their slugs keep resolving.
type PublishedContent struct {
	ID        int `db:"id"`
	ContentID int `db:"content_id"`

	PublicSlug string      `db:"content_public_slug"`
	Title      string      `db:"title"`
	Type       ContentType `db:"content_type"`
	ShaPublic  string      `db:"sha_public"`

	PublicationDate time.Time  `db:"publication_date"`
	UpdateDate      *time.Time `db:"update_date"`
	MustRedirect    bool       `db:"must_redirect"`

	// Where the content was originally published, if it was imported.
	Source string `db:"source"`

	ValidationID *int `db:"validation_id"`
}

type ArtifactKind string

const (
	ArtifactMarkdown ArtifactKind = "md"
	ArtifactHTML     ArtifactKind = "html"
	ArtifactPDF      ArtifactKind = "pdf"
	ArtifactEPUB     ArtifactKind = "epub"
	ArtifactZIP      ArtifactKind = "zip"
)

// Every kind offered for download, in display order. Markdown is the
// assembled source and is always written.
var ArtifactKinds = []ArtifactKind{ArtifactMarkdown, ArtifactHTML, ArtifactPDF, ArtifactEPUB, ArtifactZIP}

// Name of the artifact file inside the published directory.
func (k ArtifactKind) Filename(slug string) string {
	return slug + "." + string(k)
}

type ArtifactSize struct {
	PublishedID int          `db:"published_id"`
	Kind        ArtifactKind `db:"kind"`
	Sha         string       `db:"sha"`
	Size        int64        `db:"size"`
}

// An artifact that failed to render during publication and is waiting to be
// retried by the background job.
type ArtifactFailure struct {
	ID          int          `db:"id"`
	PublishedID int          `db:"published_id"`
	Kind        ArtifactKind `db:"kind"`
	Error       string       `db:"error"`
	Attempts    int          `db:"attempts"`
	NextAttempt time.Time    `db:"next_attempt"`
}
