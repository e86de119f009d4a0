package publication

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
)

// ArtifactSize returns the byte size of one edition of a publication. Sizes
// are measured the first time someone asks, then remembered in the database
// and in memory. A missing edition is ErrNotFound.
func (s *Service) ArtifactSize(ctx context.Context, pub *models.PublishedContent, kind models.ArtifactKind) (int64, error) {
	key := sizeKey{contentID: pub.ContentID, kind: kind, commit: pub.ShaPublic}
	if size, ok := s.sizes.Get(key); ok {
		sizeCacheHits.Inc()
		return size, nil
	}
	sizeCacheMisses.Inc()

	stored, err := s.Store.GetArtifactSize(ctx, pub.ID, kind)
	if err == nil && stored.Sha == pub.ShaPublic {
		s.sizes.Add(key, stored.Size)
		return stored.Size, nil
	} else if err != nil && !errors.Is(err, models.ErrNotFound) {
		return 0, oops.New(err, "failed to load %s size of publication %d", kind, pub.ID)
	}

	if pub.MustRedirect {
		shadowed, err := s.slugReused(ctx, pub)
		if err != nil {
			return 0, err
		}
		if shadowed {
			return 0, oops.New(models.ErrNotFound, "publication %d was replaced at %s", pub.ID, pub.PublicSlug)
		}
	}

	info, err := os.Stat(s.ArtifactPath(pub, kind))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, oops.New(models.ErrNotFound, "publication %d has no %s edition", pub.ID, kind)
	} else if err != nil {
		return 0, oops.New(errors.Join(models.ErrIO, err), "failed to stat %s edition of publication %d", kind, pub.ID)
	}

	err = s.Store.SaveArtifactSize(ctx, models.ArtifactSize{
		PublishedID: pub.ID,
		Kind:        kind,
		Sha:         pub.ShaPublic,
		Size:        info.Size(),
	})
	if err != nil {
		return 0, oops.New(err, "failed to save %s size of publication %d", kind, pub.ID)
	}
	s.sizes.Add(key, info.Size())
	return info.Size(), nil
}

// slugReused reports whether the live publication of pub's content now owns
// pub's directory, so the files there are not pub's.
func (s *Service) slugReused(ctx context.Context, pub *models.PublishedContent) (bool, error) {
	c, err := s.Store.GetContent(ctx, pub.ContentID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, oops.New(err, "failed to load content %d", pub.ContentID)
	}
	if c.PublicVersionID == nil || *c.PublicVersionID == pub.ID {
		return false, nil
	}
	live, err := s.Store.GetPublished(ctx, *c.PublicVersionID)
	if err != nil {
		return false, oops.New(err, "failed to load live publication of content %d", c.ID)
	}
	return live.PublicSlug == pub.PublicSlug, nil
}

// ArtifactSizes measures every edition of a publication that exists.
func (s *Service) ArtifactSizes(ctx context.Context, pub *models.PublishedContent) (map[models.ArtifactKind]int64, error) {
	sizes := make(map[models.ArtifactKind]int64)
	for _, kind := range models.ArtifactKinds {
		size, err := s.ArtifactSize(ctx, pub, kind)
		if errors.Is(err, models.ErrNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}
		sizes[kind] = size
	}
	return sizes, nil
}

func (s *Service) purgeSizes(contentID int) {
	for _, key := range s.sizes.Keys() {
		if key.contentID == contentID {
			s.sizes.Remove(key)
		}
	}
}
