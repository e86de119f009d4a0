package contentdata_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"git.handmade.network/hmn/tutorials/src/contentdata"
	"git.handmade.network/hmn/tutorials/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

// testStore runs the same behavior checks against any Store. It expects an
// empty store.
func testStore(t *testing.T, store contentdata.Store) {
	ctx := context.Background()

	author, err := store.CreateUser(ctx, models.User{Username: "ada", Name: "Ada"})
	require.NoError(t, err)
	validator, err := store.CreateUser(ctx, models.User{Username: "grace", IsValidator: true})
	require.NoError(t, err)
	coauthor, err := store.CreateUser(ctx, models.User{Username: "linus"})
	require.NoError(t, err)

	newContent := func(t *testing.T, slug string) *models.Content {
		c, err := store.CreateContent(ctx, models.Content{
			Slug:     slug,
			Title:    slug,
			Type:     models.ContentTypeTutorial,
			ShaDraft: "draft-" + slug,
		}, author.ID)
		require.NoError(t, err)
		return c
	}

	t.Run("users", func(t *testing.T) {
		got, err := store.GetUser(ctx, author.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ada", got.BestName())
		assert.True(t, validator.IsValidator)

		_, err = store.CreateUser(ctx, models.User{Username: "ADA"})
		assert.ErrorIs(t, err, contentdata.ErrDuplicate)

		_, err = store.GetUser(ctx, 999999)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("content pointers", func(t *testing.T) {
		c := newContent(t, "pointers")
		assert.Nil(t, c.ShaBeta)
		assert.Nil(t, c.PublicVersionID)

		_, err := store.CreateContent(ctx, models.Content{Slug: "pointers", Type: models.ContentTypeArticle}, author.ID)
		assert.ErrorIs(t, err, contentdata.ErrDuplicate)

		taken, err := store.ContentSlugTaken(ctx, "pointers", 0)
		require.NoError(t, err)
		assert.True(t, taken)
		taken, err = store.ContentSlugTaken(ctx, "pointers", c.ID)
		require.NoError(t, err)
		assert.False(t, taken)

		require.NoError(t, store.AdvanceDraft(ctx, c.ID, "draft-pointers", "second"))
		err = store.AdvanceDraft(ctx, c.ID, "draft-pointers", "third")
		assert.ErrorIs(t, err, models.ErrConcurrentEdit)

		require.NoError(t, store.SetBeta(ctx, c.ID, strp("second")))
		require.NoError(t, store.SetValidationSha(ctx, c.ID, strp("second")))
		require.NoError(t, store.SetTitleAndSlug(ctx, c.ID, "Pointers, again", "pointers-again"))

		got, err := store.GetContent(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "second", got.ShaDraft)
		assert.Equal(t, "second", *got.ShaBeta)
		assert.True(t, got.InValidation())
		assert.Equal(t, "pointers-again", got.Slug)

		require.NoError(t, store.SetBeta(ctx, c.ID, nil))
		got, err = store.GetContent(ctx, c.ID)
		require.NoError(t, err)
		assert.False(t, got.InBeta())

		err = store.AdvanceDraft(ctx, 999999, "a", "b")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("authors", func(t *testing.T) {
		c := newContent(t, "authors")

		require.NoError(t, store.AddAuthor(ctx, c.ID, coauthor.ID))
		require.NoError(t, store.AddAuthor(ctx, c.ID, coauthor.ID))
		ids, err := store.ListAuthors(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, []int{author.ID, coauthor.ID}, ids)

		remaining, err := store.RemoveAuthor(ctx, c.ID, author.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, remaining)
	})

	t.Run("validations", func(t *testing.T) {
		c := newContent(t, "validations")

		_, err := store.ActiveValidation(ctx, c.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)

		first, err := store.CreateValidation(ctx, models.Validation{
			ContentID:       c.ID,
			Version:         c.ShaDraft,
			Status:          models.ValidationStatusPending,
			CommentAuthor:   "please",
			DateProposition: time.Now(),
		})
		require.NoError(t, err)

		_, err = store.CreateValidation(ctx, models.Validation{
			ContentID:       c.ID,
			Version:         c.ShaDraft,
			Status:          models.ValidationStatusPending,
			DateProposition: time.Now(),
		})
		assert.ErrorIs(t, err, contentdata.ErrDuplicate)

		now := time.Now()
		first.Status = models.ValidationStatusPendingReserved
		first.ValidatorID = &validator.ID
		first.DateReserve = &now
		require.NoError(t, store.UpdateValidation(ctx, first))

		active, err := store.ActiveValidation(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, active.ID)
		assert.Equal(t, validator.ID, *active.ValidatorID)
		assert.Equal(t, "please", active.CommentAuthor)

		first.Status = models.ValidationStatusRejected
		first.CommentValidator = "not yet"
		first.DateValidation = &now
		require.NoError(t, store.UpdateValidation(ctx, first))
		_, err = store.ActiveValidation(ctx, c.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)

		second, err := store.CreateValidation(ctx, models.Validation{
			ContentID:       c.ID,
			Version:         c.ShaDraft,
			Status:          models.ValidationStatusPending,
			DateProposition: time.Now(),
		})
		require.NoError(t, err)

		all, err := store.ListValidations(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, second.ID, all[0].ID)
		assert.Equal(t, models.ValidationStatusRejected, all[1].Status)
		assert.Equal(t, "not yet", all[1].CommentValidator)
	})

	t.Run("publications", func(t *testing.T) {
		c := newContent(t, "publications")
		other := newContent(t, "publications-other")

		first, err := store.InsertPublished(ctx, models.PublishedContent{
			ContentID:       c.ID,
			PublicSlug:      "publications",
			Title:           "Publications",
			Type:            models.ContentTypeTutorial,
			ShaPublic:       "v1",
			PublicationDate: time.Now(),
		})
		require.NoError(t, err)
		require.NoError(t, store.SwapPublicVersion(ctx, c.ID, nil, &first.ID, strp("v1")))

		_, err = store.InsertPublished(ctx, models.PublishedContent{
			ContentID:       c.ID,
			PublicSlug:      "publications",
			Type:            models.ContentTypeTutorial,
			ShaPublic:       "v2",
			PublicationDate: time.Now(),
		})
		assert.ErrorIs(t, err, contentdata.ErrDuplicate, "only one live publication per content")

		require.NoError(t, store.MarkRedirect(ctx, first.ID))
		second, err := store.InsertPublished(ctx, models.PublishedContent{
			ContentID:       c.ID,
			PublicSlug:      "publications-renamed",
			Type:            models.ContentTypeTutorial,
			ShaPublic:       "v2",
			PublicationDate: time.Now(),
		})
		require.NoError(t, err)

		err = store.SwapPublicVersion(ctx, c.ID, nil, &second.ID, strp("v2"))
		assert.ErrorIs(t, err, models.ErrConcurrentPublication)
		require.NoError(t, store.SwapPublicVersion(ctx, c.ID, &first.ID, &second.ID, strp("v2")))

		got, err := store.GetContent(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, *got.PublicVersionID)
		assert.Equal(t, "v2", *got.ShaPublic)

		pubs, err := store.ListPublished(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, pubs, 2)
		assert.Equal(t, second.ID, pubs[0].ID)
		assert.True(t, pubs[1].MustRedirect)

		taken, err := store.PublicSlugTaken(ctx, "publications", other.ID)
		require.NoError(t, err)
		assert.True(t, taken, "redirecting slugs stay reserved")
		taken, err = store.PublicSlugTaken(ctx, "publications", c.ID)
		require.NoError(t, err)
		assert.False(t, taken)

		require.NoError(t, store.SaveArtifactSize(ctx, models.ArtifactSize{PublishedID: second.ID, Kind: models.ArtifactHTML, Sha: "v2", Size: 10}))
		require.NoError(t, store.SaveArtifactSize(ctx, models.ArtifactSize{PublishedID: second.ID, Kind: models.ArtifactHTML, Sha: "v2", Size: 12}))
		size, err := store.GetArtifactSize(ctx, second.ID, models.ArtifactHTML)
		require.NoError(t, err)
		assert.EqualValues(t, 12, size.Size)

		require.NoError(t, store.DeletePublished(ctx, second.ID))
		_, err = store.GetArtifactSize(ctx, second.ID, models.ArtifactHTML)
		assert.ErrorIs(t, err, models.ErrNotFound)
		got, err = store.GetContent(ctx, c.ID)
		require.NoError(t, err)
		assert.Nil(t, got.PublicVersionID)
	})

	t.Run("artifact failures", func(t *testing.T) {
		c := newContent(t, "failures")
		pub, err := store.InsertPublished(ctx, models.PublishedContent{
			ContentID:       c.ID,
			PublicSlug:      "failures",
			Type:            models.ContentTypeTutorial,
			ShaPublic:       "v1",
			PublicationDate: time.Now(),
		})
		require.NoError(t, err)

		now := time.Now()
		require.NoError(t, store.RecordArtifactFailure(ctx, models.ArtifactFailure{
			PublishedID: pub.ID, Kind: models.ArtifactPDF, Error: "pandoc exploded", Attempts: 1, NextAttempt: now.Add(-time.Minute),
		}))
		require.NoError(t, store.RecordArtifactFailure(ctx, models.ArtifactFailure{
			PublishedID: pub.ID, Kind: models.ArtifactEPUB, Error: "later", Attempts: 1, NextAttempt: now.Add(time.Hour),
		}))
		require.NoError(t, store.RecordArtifactFailure(ctx, models.ArtifactFailure{
			PublishedID: pub.ID, Kind: models.ArtifactPDF, Error: "pandoc exploded again", Attempts: 1, NextAttempt: now.Add(-time.Minute),
		}))

		all, err := store.ListArtifactFailures(ctx, pub.ID)
		require.NoError(t, err)
		assert.Len(t, all, 2, "failures are unique per kind")

		due, err := store.DueArtifactFailures(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, models.ArtifactPDF, due[0].Kind)
		assert.Equal(t, "pandoc exploded again", due[0].Error)

		due[0].Attempts = 2
		due[0].NextAttempt = now.Add(time.Hour)
		require.NoError(t, store.UpdateArtifactFailure(ctx, due[0]))
		due, err = store.DueArtifactFailures(ctx, now, 10)
		require.NoError(t, err)
		assert.Empty(t, due)

		for _, f := range all {
			require.NoError(t, store.DeleteArtifactFailure(ctx, f.ID))
		}
		all, err = store.ListArtifactFailures(ctx, pub.ID)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("transactions roll back", func(t *testing.T) {
		c := newContent(t, "rollback")
		boom := errors.New("boom")

		err := store.InTx(ctx, func(q contentdata.Queries) error {
			require.NoError(t, q.AdvanceDraft(ctx, c.ID, c.ShaDraft, "lost"))
			require.NoError(t, q.SetBeta(ctx, c.ID, strp("lost")))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := store.GetContent(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.ShaDraft, got.ShaDraft)
		assert.Nil(t, got.ShaBeta)

		err = store.InTx(ctx, func(q contentdata.Queries) error {
			return q.AdvanceDraft(ctx, c.ID, c.ShaDraft, "kept")
		})
		require.NoError(t, err)
		got, err = store.GetContent(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "kept", got.ShaDraft)
	})

	t.Run("delete content cascades", func(t *testing.T) {
		c := newContent(t, "doomed")
		pub, err := store.InsertPublished(ctx, models.PublishedContent{
			ContentID:       c.ID,
			PublicSlug:      "doomed",
			Type:            models.ContentTypeTutorial,
			ShaPublic:       c.ShaDraft,
			PublicationDate: time.Now(),
		})
		require.NoError(t, err)
		require.NoError(t, store.SwapPublicVersion(ctx, c.ID, nil, intp(pub.ID), strp(c.ShaDraft)))
		_, err = store.CreateValidation(ctx, models.Validation{
			ContentID: c.ID, Version: c.ShaDraft, Status: models.ValidationStatusPending, DateProposition: time.Now(),
		})
		require.NoError(t, err)

		require.NoError(t, store.DeleteContent(ctx, c.ID))

		_, err = store.GetContent(ctx, c.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = store.GetPublished(ctx, pub.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
		vs, err := store.ListValidations(ctx, c.ID)
		require.NoError(t, err)
		assert.Empty(t, vs)
		ids, err := store.ListAuthors(ctx, c.ID)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}
