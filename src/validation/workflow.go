package validation

import (
	"context"
	"strings"
	"time"

	"git.handmade.network/hmn/tutorials/src/contentdata"
	"git.handmade.network/hmn/tutorials/src/logging"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
	"git.handmade.network/hmn/tutorials/src/perms"
	"git.handmade.network/hmn/tutorials/src/publication"
)

type Publisher interface {
	Publish(ctx context.Context, contentID int, opts publication.PublishOptions) (*publication.Result, error)
}

var _ Publisher = &publication.Service{}

type Workflow struct {
	Store     contentdata.Store
	Perms     perms.Checker
	Publisher Publisher

	now func() time.Time
}

func New(store contentdata.Store, checker perms.Checker, publisher Publisher) *Workflow {
	return &Workflow{Store: store, Perms: checker, Publisher: publisher}
}

func (w *Workflow) Now() time.Time {
	if w.now != nil {
		return w.now()
	}
	return time.Now()
}

func (w *Workflow) SetClock(now func() time.Time) {
	w.now = now
}

// Ask puts the current draft of a content up for review. A proposal already
// open for the content is canceled in favour of the new one.
func (w *Workflow) Ask(ctx context.Context, user *models.User, contentID int, comment string) (*models.Validation, error) {
	c, err := w.Store.GetContent(ctx, contentID)
	if err != nil {
		return nil, oops.New(err, "failed to load content %d", contentID)
	}
	isAuthor, err := perms.IsAuthor(ctx, w.Store, user, c.ID)
	if err := perms.Require(isAuthor, err, "only authors can ask for validation of content %d", c.ID); err != nil {
		return nil, err
	}

	var v *models.Validation
	err = w.Store.InTx(ctx, func(q contentdata.Queries) error {
		// Read the draft inside the transaction so the proposal pins the commit
		// that is current when it is created.
		c, err := q.GetContent(ctx, contentID)
		if err != nil {
			return err
		}
		v, err = contentdata.OpenValidation(ctx, q, c.ID, c.ShaDraft, comment, w.Now())
		return err
	})
	if err != nil {
		return nil, oops.New(err, "failed to ask for validation of content %d", contentID)
	}

	logging.ExtractLogger(ctx).Info().
		Int("content", contentID).
		Int("validation", v.ID).
		Str("commit", v.Version).
		Msg("validation asked")
	return v, nil
}

func (w *Workflow) Reserve(ctx context.Context, user *models.User, validationID int) (*models.Validation, error) {
	return w.transition(ctx, user, validationID, EventReserve, func(q contentdata.Queries, v *models.Validation) error {
		now := w.Now()
		v.ValidatorID = &user.ID
		v.DateReserve = &now
		return nil
	})
}

// Unreserve hands a proposal back to the pool. Only the validator holding it,
// or staff, may do so.
func (w *Workflow) Unreserve(ctx context.Context, user *models.User, validationID int) (*models.Validation, error) {
	return w.transition(ctx, user, validationID, EventUnreserve, func(q contentdata.Queries, v *models.Validation) error {
		v.ValidatorID = nil
		v.DateReserve = nil
		return nil
	})
}

// Cancel withdraws a proposal. Authors may cancel it until a validator has
// reserved it; validators may cancel it in either state.
func (w *Workflow) Cancel(ctx context.Context, user *models.User, validationID int) (*models.Validation, error) {
	return w.transition(ctx, user, validationID, EventCancel, func(q contentdata.Queries, v *models.Validation) error {
		now := w.Now()
		v.DateValidation = &now
		return q.SetValidationSha(ctx, v.ContentID, nil)
	})
}

func (w *Workflow) Reject(ctx context.Context, user *models.User, validationID int, comment string) (*models.Validation, error) {
	if strings.TrimSpace(comment) == "" {
		return nil, oops.New(models.ErrCommentRequired, "rejecting validation %d needs a comment", validationID)
	}
	return w.transition(ctx, user, validationID, EventReject, func(q contentdata.Queries, v *models.Validation) error {
		now := w.Now()
		v.CommentValidator = comment
		v.DateValidation = &now
		return q.SetValidationSha(ctx, v.ContentID, nil)
	})
}

type AcceptOptions struct {
	Comment     string
	MajorUpdate bool
	Source      string
}

// Accept publishes the commit a proposal was pinned at. The proposal is closed
// in the same transaction that makes the publication live, so either both
// happen or neither does. Artifacts that failed to render are reported in the
// result and retried later; they do not fail the acceptance.
func (w *Workflow) Accept(ctx context.Context, user *models.User, validationID int, opts AcceptOptions) (*models.Validation, *publication.Result, error) {
	v, c, err := w.load(ctx, w.Store, validationID)
	if err != nil {
		return nil, nil, err
	}
	a, err := w.actorFor(ctx, user, c)
	if err != nil {
		return nil, nil, err
	}
	if _, err := Next(v.Status, EventAccept); err != nil {
		return nil, nil, err
	}
	if err := a.allowed(v, EventAccept); err != nil {
		return nil, nil, err
	}

	var accepted *models.Validation
	res, err := w.Publisher.Publish(ctx, c.ID, publication.PublishOptions{
		Commit:       v.Version,
		MajorUpdate:  opts.MajorUpdate,
		Source:       opts.Source,
		ValidationID: &v.ID,
		InTx: func(ctx context.Context, q contentdata.Queries, pub *models.PublishedContent) error {
			// Someone may have canceled or unreserved it while we rendered.
			current, err := q.GetValidation(ctx, validationID)
			if err != nil {
				return err
			}
			to, err := Next(current.Status, EventAccept)
			if err != nil {
				return err
			}
			if err := a.allowed(current, EventAccept); err != nil {
				return err
			}
			now := w.Now()
			current.Status = to
			current.CommentValidator = opts.Comment
			current.DateValidation = &now
			if err := q.UpdateValidation(ctx, current); err != nil {
				return err
			}
			accepted = current
			return q.SetValidationSha(ctx, current.ContentID, nil)
		},
	})
	if err != nil {
		return nil, nil, oops.New(err, "failed to accept validation %d", validationID)
	}

	logging.ExtractLogger(ctx).Info().
		Int("content", c.ID).
		Int("validation", validationID).
		Str("commit", v.Version).
		Str("slug", res.Published.PublicSlug).
		Msg("validation accepted")
	return accepted, res, nil
}

// History lists the proposals of a content, newest first.
func (w *Workflow) History(ctx context.Context, contentID int) ([]*models.Validation, error) {
	vs, err := w.Store.ListValidations(ctx, contentID)
	if err != nil {
		return nil, oops.New(err, "failed to list validations of content %d", contentID)
	}
	return vs, nil
}

// transition applies one event inside a transaction. apply may adjust the
// proposal and touch other rows.
func (w *Workflow) transition(ctx context.Context, user *models.User, validationID int, event Event, apply func(q contentdata.Queries, v *models.Validation) error) (*models.Validation, error) {
	_, c, err := w.load(ctx, w.Store, validationID)
	if err != nil {
		return nil, err
	}
	a, err := w.actorFor(ctx, user, c)
	if err != nil {
		return nil, err
	}

	var updated *models.Validation
	err = w.Store.InTx(ctx, func(q contentdata.Queries) error {
		v, err := q.GetValidation(ctx, validationID)
		if err != nil {
			return err
		}
		to, err := Next(v.Status, event)
		if err != nil {
			return err
		}
		if err := a.allowed(v, event); err != nil {
			return err
		}
		if err := apply(q, v); err != nil {
			return err
		}
		v.Status = to
		if err := q.UpdateValidation(ctx, v); err != nil {
			return err
		}
		updated = v
		return nil
	})
	if err != nil {
		return nil, oops.New(err, "failed to %s validation %d", event, validationID)
	}

	logging.ExtractLogger(ctx).Info().
		Int("content", updated.ContentID).
		Int("validation", updated.ID).
		Stringer("status", updated.Status).
		Msgf("validation %s", event)
	return updated, nil
}

func (w *Workflow) load(ctx context.Context, q contentdata.Queries, validationID int) (*models.Validation, *models.Content, error) {
	v, err := q.GetValidation(ctx, validationID)
	if err != nil {
		return nil, nil, oops.New(err, "failed to load validation %d", validationID)
	}
	c, err := q.GetContent(ctx, v.ContentID)
	if err != nil {
		return nil, nil, oops.New(err, "failed to load content %d", v.ContentID)
	}
	return v, c, nil
}

// An actor is a user as seen by one content's review.
type actor struct {
	user        *models.User
	isAuthor    bool
	canValidate bool
}

func (w *Workflow) actorFor(ctx context.Context, user *models.User, c *models.Content) (actor, error) {
	isAuthor, err := perms.IsAuthor(ctx, w.Store, user, c.ID)
	if err != nil {
		return actor{}, err
	}
	canValidate, err := w.Perms.CanValidate(ctx, user, c)
	if err != nil {
		return actor{}, oops.New(err, "failed to check validation rights on content %d", c.ID)
	}
	return actor{user: user, isAuthor: isAuthor, canValidate: canValidate}, nil
}

// allowed decides who may fire an event. Authors only ever cancel, and only
// an unreserved proposal. Everything else is for validators who did not write
// the content, and once a proposal is reserved, for the validator holding it.
func (a actor) allowed(v *models.Validation, event Event) error {
	if event == EventCancel {
		switch {
		case a.canValidate && !a.isAuthor:
			return nil
		case a.isAuthor && v.Status == models.ValidationStatusPendingReserved:
			return oops.New(models.ErrForbidden, "validation %d is reserved and can no longer be canceled by its authors", v.ID)
		case a.isAuthor:
			return nil
		}
		return oops.New(models.ErrForbidden, "user cannot cancel validation %d", v.ID)
	}

	if !a.canValidate {
		return oops.New(models.ErrForbidden, "user cannot %s validation %d", event, v.ID)
	}
	if a.isAuthor && event != EventUnreserve {
		return oops.New(models.ErrSelfValidationForbidden, "user wrote content %d", v.ContentID)
	}
	if event != EventReserve && !a.user.IsStaff {
		if v.ValidatorID == nil || *v.ValidatorID != a.user.ID {
			return oops.New(models.ErrForbidden, "validation %d is reserved by someone else", v.ID)
		}
	}
	return nil
}
