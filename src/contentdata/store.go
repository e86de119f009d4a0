// Package contentdata holds the database side of the pipeline: draft content
// rows, their authors, validations, and publication snapshots.
//
// Every pointer move is a conditional update. AdvanceDraft and
// SwapPublicVersion only apply if the row still holds the value the caller
// last read, which is what turns concurrent edits and publications into
// ErrConcurrentEdit and ErrConcurrentPublication instead of lost updates.
package contentdata

import (
	"context"
	"time"

	"git.handmade.network/hmn/tutorials/src/models"
)

type Queries interface {
	GetUser(ctx context.Context, id int) (*models.User, error)
	CreateUser(ctx context.Context, u models.User) (*models.User, error)

	CreateContent(ctx context.Context, c models.Content, authorID int) (*models.Content, error)
	GetContent(ctx context.Context, id int) (*models.Content, error)
	ListContents(ctx context.Context) ([]*models.Content, error)
	// Whether any content other than exceptID uses slug. Pass 0 to check all.
	ContentSlugTaken(ctx context.Context, slug string, exceptID int) (bool, error)
	AdvanceDraft(ctx context.Context, id int, oldSha, newSha string) error
	SetTitleAndSlug(ctx context.Context, id int, title, slug string) error
	SetBeta(ctx context.Context, id int, sha *string) error
	SetValidationSha(ctx context.Context, id int, sha *string) error
	// Moves the public pointer from expected to next and sets sha_public.
	SwapPublicVersion(ctx context.Context, id int, expected, next *int, sha *string) error
	DeleteContent(ctx context.Context, id int) error

	ListAuthors(ctx context.Context, contentID int) ([]int, error)
	AddAuthor(ctx context.Context, contentID, userID int) error
	// Returns how many authors remain.
	RemoveAuthor(ctx context.Context, contentID, userID int) (int, error)

	GetValidation(ctx context.Context, id int) (*models.Validation, error)
	// The Pending or PendingReserved validation of a content, or ErrNotFound.
	ActiveValidation(ctx context.Context, contentID int) (*models.Validation, error)
	ListValidations(ctx context.Context, contentID int) ([]*models.Validation, error)
	CreateValidation(ctx context.Context, v models.Validation) (*models.Validation, error)
	UpdateValidation(ctx context.Context, v *models.Validation) error

	GetPublished(ctx context.Context, id int) (*models.PublishedContent, error)
	// Every publication of a content, newest first.
	ListPublished(ctx context.Context, contentID int) ([]*models.PublishedContent, error)
	// Whether a publication of any content other than exceptContentID uses
	// slug, live or not.
	PublicSlugTaken(ctx context.Context, slug string, exceptContentID int) (bool, error)
	InsertPublished(ctx context.Context, p models.PublishedContent) (*models.PublishedContent, error)
	MarkRedirect(ctx context.Context, id int) error
	DeletePublished(ctx context.Context, id int) error

	GetArtifactSize(ctx context.Context, publishedID int, kind models.ArtifactKind) (*models.ArtifactSize, error)
	SaveArtifactSize(ctx context.Context, s models.ArtifactSize) error
	DeleteArtifactSize(ctx context.Context, publishedID int, kind models.ArtifactKind) error

	// Inserts or replaces the failure for (published, kind).
	RecordArtifactFailure(ctx context.Context, f models.ArtifactFailure) error
	DueArtifactFailures(ctx context.Context, now time.Time, limit int) ([]*models.ArtifactFailure, error)
	ListArtifactFailures(ctx context.Context, publishedID int) ([]*models.ArtifactFailure, error)
	UpdateArtifactFailure(ctx context.Context, f *models.ArtifactFailure) error
	DeleteArtifactFailure(ctx context.Context, id int) error
}

// A Store runs queries directly or inside a transaction. fn's changes are
// committed only if it returns nil.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}
