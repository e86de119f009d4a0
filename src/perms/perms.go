// Package perms decides who may see and change content. Authentication lives
// elsewhere; callers pass the user they already resolved, or nil for a
// visitor who is not logged in.
package perms

import (
	"context"
	"slices"

	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
)

type Checker interface {
	// Draft, validation, and arbitrary historical commits.
	CanReadDraft(ctx context.Context, user *models.User, c *models.Content) (bool, error)
	CanReadBeta(ctx context.Context, user *models.User, c *models.Content) (bool, error)
	CanEdit(ctx context.Context, user *models.User, c *models.Content) (bool, error)
	// Whether the user reviews content in general. Authors reviewing their own
	// work is refused separately by the validation workflow.
	CanValidate(ctx context.Context, user *models.User, c *models.Content) (bool, error)
}

type AuthorLister interface {
	ListAuthors(ctx context.Context, contentID int) ([]int, error)
}

func IsAuthor(ctx context.Context, authors AuthorLister, user *models.User, contentID int) (bool, error) {
	if user == nil {
		return false, nil
	}
	ids, err := authors.ListAuthors(ctx, contentID)
	if err != nil {
		return false, oops.New(err, "failed to list authors of content %d", contentID)
	}
	return slices.Contains(ids, user.ID), nil
}

// Roles grants access from the user's staff and validator flags plus
// authorship.
type Roles struct {
	Authors AuthorLister
}

var _ Checker = Roles{}

func (r Roles) CanReadDraft(ctx context.Context, user *models.User, c *models.Content) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.IsStaff || user.IsValidator {
		return true, nil
	}
	return IsAuthor(ctx, r.Authors, user, c.ID)
}

// Any member may read a beta.
func (r Roles) CanReadBeta(ctx context.Context, user *models.User, c *models.Content) (bool, error) {
	return user != nil && c.InBeta(), nil
}

func (r Roles) CanEdit(ctx context.Context, user *models.User, c *models.Content) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.IsStaff {
		return true, nil
	}
	return IsAuthor(ctx, r.Authors, user, c.ID)
}

func (r Roles) CanValidate(ctx context.Context, user *models.User, c *models.Content) (bool, error) {
	return user != nil && (user.IsStaff || user.IsValidator), nil
}

// Require turns a denied check into ErrForbidden.
func Require(allowed bool, err error, format string, args ...any) error {
	if err != nil {
		return err
	}
	if !allowed {
		return oops.New(models.ErrForbidden, format, args...)
	}
	return nil
}
