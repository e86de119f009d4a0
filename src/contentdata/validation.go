package contentdata

import (
	"context"
	"errors"
	"time"

	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
)

// CancelActiveValidation moves the content's Pending or PendingReserved
// proposal, if any, to Canceled. Returns whether there was one.
func CancelActiveValidation(ctx context.Context, q Queries, contentID int, now time.Time) (bool, error) {
	active, err := q.ActiveValidation(ctx, contentID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	active.Status = models.ValidationStatusCanceled
	active.DateValidation = &now
	if err := q.UpdateValidation(ctx, active); err != nil {
		return false, oops.New(err, "failed to cancel validation %d", active.ID)
	}
	return true, nil
}

// OpenValidation cancels any active proposal and creates a Pending one pinned
// at version, pointing sha_validation at it. Run it inside a transaction.
func OpenValidation(ctx context.Context, q Queries, contentID int, version, comment string, now time.Time) (*models.Validation, error) {
	if _, err := CancelActiveValidation(ctx, q, contentID, now); err != nil {
		return nil, err
	}

	v, err := q.CreateValidation(ctx, models.Validation{
		ContentID:       contentID,
		Version:         version,
		Status:          models.ValidationStatusPending,
		CommentAuthor:   comment,
		DateProposition: now,
	})
	if err != nil {
		return nil, oops.New(err, "failed to create validation for content %d", contentID)
	}
	if err := q.SetValidationSha(ctx, contentID, &version); err != nil {
		return nil, oops.New(err, "failed to set validation pointer of content %d", contentID)
	}
	return v, nil
}
