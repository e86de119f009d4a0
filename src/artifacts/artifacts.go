// Package artifacts turns an assembled tutorial into its downloadable
// editions. Every kind renders independently; one failing never stops the
// others.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.handmade.network/hmn/tutorials/src/config"
	"git.handmade.network/hmn/tutorials/src/doctree"
	"git.handmade.network/hmn/tutorials/src/models"
	"github.com/google/uuid"
)

var ErrKindDisabled = errors.New("artifact kind is not enabled")

// ArtifactError reports one kind that failed to render. It matches
// models.ErrArtifactFailed as well as its cause.
type ArtifactError struct {
	Kind models.ArtifactKind
	Err  error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("failed to generate %s: %v", e.Kind, e.Err)
}

func (e *ArtifactError) Unwrap() []error {
	return []error{models.ErrArtifactFailed, e.Err}
}

// Document is everything needed to render the editions of one publication.
type Document struct {
	Tree       *doctree.Tree
	PublicSlug string
	Commit     string
	Authors    []string

	PublicationDate time.Time
	UpdateDate      *time.Time

	// The assembled text with image references already rewritten.
	Markdown []byte
	// Image files keyed by their path below extra/images/.
	Images map[string][]byte
}

type Renderer interface {
	// The kinds this renderer produces, in the order they should be rendered.
	Kinds() []models.ArtifactKind
	Render(ctx context.Context, doc *Document, kind models.ArtifactKind) ([]byte, error)
}

// Standard renders HTML and ZIP in process, and PDF and EPUB through pandoc
// when a pandoc binary is configured.
type Standard struct {
	PandocPath string
	Timeout    time.Duration
}

var _ Renderer = &Standard{}

func New(cfg config.ArtifactConfig) *Standard {
	return &Standard{
		PandocPath: cfg.PandocPath,
		Timeout:    cfg.Timeout,
	}
}

func (r *Standard) Kinds() []models.ArtifactKind {
	kinds := []models.ArtifactKind{models.ArtifactHTML, models.ArtifactZIP}
	if r.PandocPath != "" {
		kinds = append(kinds, models.ArtifactPDF, models.ArtifactEPUB)
	}
	return kinds
}

func (r *Standard) Render(ctx context.Context, doc *Document, kind models.ArtifactKind) (res []byte, err error) {
	defer func() {
		if err != nil {
			err = &ArtifactError{Kind: kind, Err: err}
		}
	}()

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	switch kind {
	case models.ArtifactHTML:
		return renderHTML(doc)
	case models.ArtifactZIP:
		return renderZIP(doc)
	case models.ArtifactPDF, models.ArtifactEPUB:
		if r.PandocPath == "" {
			return nil, ErrKindDisabled
		}
		return runPandoc(ctx, r.PandocPath, doc, kind)
	}
	return nil, ErrKindDisabled
}

// Matches the identifier in the HTML edition's head.
func editionID(doc *Document) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(doc.PublicSlug+"@"+doc.Commit)).URN()
}
