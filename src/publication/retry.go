package publication

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"git.handmade.network/hmn/tutorials/src/artifacts"
	"git.handmade.network/hmn/tutorials/src/jobs"
	"git.handmade.network/hmn/tutorials/src/logging"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
	"git.handmade.network/hmn/tutorials/src/perf"
	"git.handmade.network/hmn/tutorials/src/utils"
	"github.com/jpillora/backoff"
)

const retryBatch = 20

// RetryFailedArtifacts re-renders every artifact whose retry is due. Failures
// are pushed back with exponential backoff until the attempts run out, at
// which point the edition is given up on. An error on one artifact does not
// stop the rest of the batch. Returns how many were fixed.
func (s *Service) RetryFailedArtifacts(ctx context.Context) (int, error) {
	due, err := s.Store.DueArtifactFailures(ctx, s.Now(), retryBatch)
	if err != nil {
		return 0, oops.New(err, "failed to list due artifact failures")
	}

	if len(due) == 0 {
		return 0, nil
	}
	op := perf.MakeNewOpPerf("retry artifacts")
	ctx = perf.AttachPerf(ctx, op)
	defer func() {
		op.EndOp()
		s.Perf.SubmitOp(op)
	}()

	fixed := 0
	var errs []error
	for _, f := range due {
		if err := ctx.Err(); err != nil {
			return fixed, err
		}
		block := op.StartBlock("RENDER", fmt.Sprintf("%s of publication %d", f.Kind, f.PublishedID))
		ok, err := s.retryArtifact(ctx, f)
		block.End()
		if err != nil {
			if ctx.Err() != nil {
				return fixed, ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		if ok {
			fixed++
		}
	}
	return fixed, errors.Join(errs...)
}

func (s *Service) retryArtifact(ctx context.Context, f *models.ArtifactFailure) (bool, error) {
	pub, err := s.Store.GetPublished(ctx, f.PublishedID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil // revoked since
	} else if err != nil {
		return false, oops.New(err, "failed to load publication %d", f.PublishedID)
	}
	defer s.lock(pub.ContentID)()

	// Reload under the lock: a publication may have replaced this one.
	pub, err = s.Store.GetPublished(ctx, f.PublishedID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, oops.New(err, "failed to load publication %d", f.PublishedID)
	}
	logger := logging.ExtractLogger(ctx).With().
		Int("published", pub.ID).
		Str("slug", pub.PublicSlug).
		Str("kind", string(f.Kind)).
		Logger()
	if pub.MustRedirect {
		return false, s.Store.DeleteArtifactFailure(ctx, f.ID)
	}

	// A publication that can no longer be read back is a failed attempt like
	// any other.
	doc, renderErr := s.publishedDocument(ctx, pub)
	if renderErr == nil {
		var data []byte
		data, renderErr = s.Renderer.Render(ctx, doc, f.Kind)
		if renderErr == nil {
			renderErr = utils.WriteFileAtomic(s.ArtifactPath(pub, f.Kind), data, 0o644)
		}
	}
	if renderErr != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		artifactFailuresTotal.WithLabelValues(string(f.Kind)).Inc()

		f.Attempts++
		f.Error = renderErr.Error()
		if f.Attempts >= s.Retry.Attempts {
			logger.Error().Err(renderErr).Int("attempts", f.Attempts).Msg("giving up on artifact")
			return false, s.Store.DeleteArtifactFailure(ctx, f.ID)
		}
		boff := backoff.Backoff{Min: s.Retry.Min, Max: s.Retry.Max, Factor: 2}
		f.NextAttempt = s.Now().Add(boff.ForAttempt(float64(f.Attempts - 1)))
		logger.Warn().Err(renderErr).Time("next attempt", f.NextAttempt).Msg("artifact retry failed")
		return false, s.Store.UpdateArtifactFailure(ctx, f)
	}

	if err := s.Store.DeleteArtifactSize(ctx, pub.ID, f.Kind); err != nil && !errors.Is(err, models.ErrNotFound) {
		return false, oops.New(err, "failed to reset %s size of publication %d", f.Kind, pub.ID)
	}
	s.sizes.Remove(sizeKey{contentID: pub.ContentID, kind: f.Kind, commit: pub.ShaPublic})
	if err := s.Store.DeleteArtifactFailure(ctx, f.ID); err != nil {
		return false, oops.New(err, "failed to clear artifact failure %d", f.ID)
	}
	logger.Info().Int("attempts", f.Attempts+1).Msg("regenerated artifact")

	if s.Mirror != nil {
		files := map[string]string{f.Kind.Filename(pub.PublicSlug): s.ArtifactPath(pub, f.Kind)}
		if err := s.Mirror.Upload(ctx, pub.PublicSlug, files); err != nil {
			logger.Warn().Err(err).Msg("failed to mirror artifact")
		}
	}
	return true, nil
}

// publishedDocument rebuilds a render input from a live public directory,
// without going back to the repository.
func (s *Service) publishedDocument(ctx context.Context, pub *models.PublishedContent) (*artifacts.Document, error) {
	tree, err := s.LoadPublished(ctx, pub.PublicSlug)
	if err != nil {
		return nil, oops.New(err, "failed to load published tree of %s", pub.PublicSlug)
	}
	dir := s.PublicDir(pub.PublicSlug)
	md, err := os.ReadFile(filepath.Join(dir, models.ArtifactMarkdown.Filename(pub.PublicSlug)))
	if err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to read published text of %s", pub.PublicSlug)
	}

	images := map[string][]byte{}
	imagesDir := filepath.Join(dir, filepath.FromSlash(artifacts.ImagesDir))
	err = filepath.WalkDir(imagesDir, func(p string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) && p == imagesDir {
			return fs.SkipDir
		} else if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(imagesDir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		images[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to read published images of %s", pub.PublicSlug)
	}

	authors, err := s.authorNames(ctx, pub.ContentID)
	if err != nil {
		return nil, err
	}

	return &artifacts.Document{
		Tree:            tree,
		PublicSlug:      pub.PublicSlug,
		Commit:          pub.ShaPublic,
		Authors:         authors,
		PublicationDate: pub.PublicationDate,
		UpdateDate:      pub.UpdateDate,
		Markdown:        md,
		Images:          images,
	}, nil
}

// RetryArtifactsPeriodically runs RetryFailedArtifacts every interval until
// the job is canceled.
func (s *Service) RetryArtifactsPeriodically(interval time.Duration) *jobs.Job {
	return jobs.Every("artifact retry", interval, func(ctx context.Context) error {
		n, err := s.RetryFailedArtifacts(ctx)
		if n > 0 {
			logging.ExtractLogger(ctx).Info().Int("num fixed", n).Msg("Regenerated failed artifacts")
		}
		return err
	})
}
