package perms

import (
	"context"
	"testing"

	"git.handmade.network/hmn/tutorials/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedAuthors []int

func (a fixedAuthors) ListAuthors(ctx context.Context, contentID int) ([]int, error) {
	return a, nil
}

func TestRoles(t *testing.T) {
	ctx := context.Background()
	r := Roles{Authors: fixedAuthors{1}}

	beta := "abc"
	content := &models.Content{ID: 7, ShaBeta: &beta}
	author := &models.User{ID: 1}
	member := &models.User{ID: 2}
	validator := &models.User{ID: 3, IsValidator: true}
	staff := &models.User{ID: 4, IsStaff: true}

	type check func(context.Context, *models.User, *models.Content) (bool, error)
	cases := []struct {
		name    string
		check   check
		allowed []*models.User
		denied  []*models.User
	}{
		{"read draft", r.CanReadDraft, []*models.User{author, validator, staff}, []*models.User{nil, member}},
		{"read beta", r.CanReadBeta, []*models.User{author, member, validator, staff}, []*models.User{nil}},
		{"edit", r.CanEdit, []*models.User{author, staff}, []*models.User{nil, member, validator}},
		{"validate", r.CanValidate, []*models.User{validator, staff}, []*models.User{nil, author, member}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			for _, u := range c.allowed {
				ok, err := c.check(ctx, u, content)
				require.NoError(t, err)
				assert.True(t, ok, "user %+v", u)
			}
			for _, u := range c.denied {
				ok, err := c.check(ctx, u, content)
				require.NoError(t, err)
				assert.False(t, ok, "user %+v", u)
			}
		})
	}

	t.Run("no beta", func(t *testing.T) {
		ok, err := r.CanReadBeta(ctx, member, &models.Content{ID: 7})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("require", func(t *testing.T) {
		assert.NoError(t, Require(true, nil, "nope"))
		assert.ErrorIs(t, Require(false, nil, "nope"), models.ErrForbidden)
	})
}
