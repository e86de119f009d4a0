package publication

import (
	"context"

	"git.handmade.network/hmn/tutorials/src/contentdata"
	"git.handmade.network/hmn/tutorials/src/logging"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
	"git.handmade.network/hmn/tutorials/src/perms"
)

// Revoke takes the live publication of a content down and sends the current
// draft back to validation, with reason as the author's comment. Superseded
// publications stay, but have nothing left to redirect to.
func (s *Service) Revoke(ctx context.Context, user *models.User, contentID int, reason string) error {
	defer s.lock(contentID)()

	c, err := s.Store.GetContent(ctx, contentID)
	if err != nil {
		return oops.New(err, "failed to load content %d", contentID)
	}
	canValidate, err := s.Perms.CanValidate(ctx, user, c)
	if err := perms.Require(canValidate, err, "user cannot revoke content %d", contentID); err != nil {
		return err
	}
	if c.PublicVersionID == nil {
		return oops.New(models.ErrNotFound, "content %d is not published", contentID)
	}
	pub, err := s.Store.GetPublished(ctx, *c.PublicVersionID)
	if err != nil {
		return oops.New(err, "failed to load live publication of content %d", contentID)
	}

	sw, err := s.retire(pub.PublicSlug)
	if err != nil {
		return err
	}
	var reopened *models.Validation
	err = s.Store.InTx(ctx, func(q contentdata.Queries) error {
		if err := q.SwapPublicVersion(ctx, c.ID, c.PublicVersionID, nil, nil); err != nil {
			return err
		}
		if err := q.DeletePublished(ctx, pub.ID); err != nil {
			return err
		}
		var err error
		reopened, err = contentdata.OpenValidation(ctx, q, c.ID, c.ShaDraft, reason, s.Now())
		return err
	})
	if err != nil {
		if undoErr := sw.undo(); undoErr != nil {
			logging.ExtractLogger(ctx).Error().Err(undoErr).Str("slug", pub.PublicSlug).Msg("failed to restore public directory")
		}
		return oops.New(err, "failed to revoke content %d", contentID)
	}

	s.dropped(ctx, c.ID, []*swap{sw}, []string{pub.PublicSlug})
	logging.ExtractLogger(ctx).Info().
		Int("content", c.ID).
		Str("slug", pub.PublicSlug).
		Int("validation", reopened.ID).
		Msg("revoked publication")
	return nil
}

// Unpublish removes every publication of a content, live or superseded, with
// their directories. Validation is left alone. Content deletion uses it.
func (s *Service) Unpublish(ctx context.Context, contentID int) error {
	defer s.lock(contentID)()

	c, err := s.Store.GetContent(ctx, contentID)
	if err != nil {
		return oops.New(err, "failed to load content %d", contentID)
	}
	pubs, err := s.Store.ListPublished(ctx, contentID)
	if err != nil {
		return oops.New(err, "failed to list publications of content %d", contentID)
	}
	if len(pubs) == 0 {
		return nil
	}

	var (
		swaps []*swap
		slugs []string
		seen  = map[string]bool{}
	)
	undoAll := func() {
		for i := len(swaps) - 1; i >= 0; i-- {
			if err := swaps[i].undo(); err != nil {
				logging.ExtractLogger(ctx).Error().Err(err).Str("dir", swaps[i].target).Msg("failed to restore public directory")
			}
		}
	}
	for _, pub := range pubs {
		if seen[pub.PublicSlug] {
			continue
		}
		seen[pub.PublicSlug] = true
		sw, err := s.retire(pub.PublicSlug)
		if err != nil {
			undoAll()
			return err
		}
		swaps = append(swaps, sw)
		slugs = append(slugs, pub.PublicSlug)
	}

	err = s.Store.InTx(ctx, func(q contentdata.Queries) error {
		if c.PublicVersionID != nil {
			if err := q.SwapPublicVersion(ctx, c.ID, c.PublicVersionID, nil, nil); err != nil {
				return err
			}
		}
		for _, pub := range pubs {
			if err := q.DeletePublished(ctx, pub.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		undoAll()
		return oops.New(err, "failed to unpublish content %d", contentID)
	}

	s.dropped(ctx, c.ID, swaps, slugs)
	logging.ExtractLogger(ctx).Info().Int("content", c.ID).Strs("slugs", slugs).Msg("unpublished content")
	return nil
}

// dropped finishes the removal of public directories once the database no
// longer references them.
func (s *Service) dropped(ctx context.Context, contentID int, swaps []*swap, slugs []string) {
	for _, sw := range swaps {
		if err := sw.finish(); err != nil {
			logging.ExtractLogger(ctx).Warn().Err(err).Str("dir", sw.target).Msg("failed to remove public directory")
		}
	}
	s.purgeSizes(contentID)
	revocationsTotal.Inc()
	for _, slug := range slugs {
		s.mirrorRemove(ctx, slug)
	}
}
