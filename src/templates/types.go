package templates

import (
	"html/template"
	"time"
)

// Edition is the data of edition.html, the single-page HTML artifact.
type Edition struct {
	Title       string
	Description string
	Licence     string
	Type        string
	Authors     []string

	// Used to derive the document identifier.
	PublicSlug string
	Commit     string

	PublicationDate time.Time
	UpdateDate      *time.Time

	Body       template.HTML
	Stylesheet template.CSS
}

// Data of edition.css.
type Stylesheet struct {
	Highlight template.CSS
}
