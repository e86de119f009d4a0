package publication

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"git.handmade.network/hmn/tutorials/src/artifacts"
	"git.handmade.network/hmn/tutorials/src/contentdata"
	"git.handmade.network/hmn/tutorials/src/doctree"
	"git.handmade.network/hmn/tutorials/src/gitstore"
	"git.handmade.network/hmn/tutorials/src/logging"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
	"git.handmade.network/hmn/tutorials/src/perf"
)

type PublishOptions struct {
	Commit      string
	MajorUpdate bool
	// Where the content was first published, for imported content.
	Source       string
	ValidationID *int

	// Runs inside the publication transaction, after the new row is in and
	// the pointers have moved. Returning an error undoes the publication.
	InTx func(ctx context.Context, q contentdata.Queries, pub *models.PublishedContent) error
}

type Result struct {
	Published *models.PublishedContent
	// Kinds that did not render. They are queued for retry.
	Failed []*artifacts.ArtifactError
}

// Publish snapshots a commit of a content into its public directory and makes
// it the live publication. The directory is fully written before the database
// learns about it, and is taken back out if the transaction fails.
func (s *Service) Publish(ctx context.Context, contentID int, opts PublishOptions) (*Result, error) {
	defer s.lock(contentID)()
	start := time.Now()

	op := perf.MakeNewOpPerf("publish")
	ctx = perf.AttachPerf(ctx, op)
	defer func() {
		op.EndOp()
		s.Perf.SubmitOp(op)
	}()

	logger := logging.ExtractLogger(ctx).With().
		Int("content", contentID).
		Str("commit", opts.Commit).
		Logger()
	ctx = logging.AttachLoggerToContext(&logger, ctx)

	c, err := s.Store.GetContent(ctx, contentID)
	if err != nil {
		return nil, oops.New(err, "failed to load content %d", contentID)
	}
	repo, err := s.Repos.Open(ctx, c.Slug)
	if err != nil {
		return nil, err
	}
	if ok, err := repo.HasCommit(ctx, opts.Commit); err != nil {
		return nil, err
	} else if !ok {
		return nil, oops.New(models.ErrUnknownVersion, "commit %s is not in the history of %s", opts.Commit, c.Slug)
	}
	load := op.StartBlock("GIT", "Load tree")
	tree, err := doctree.Load(ctx, doctree.AtCommit(repo, opts.Commit))
	load.End()
	if err != nil {
		return nil, oops.New(err, "failed to load %s at %s", c.Slug, opts.Commit)
	}

	var prev *models.PublishedContent
	if c.PublicVersionID != nil {
		prev, err = s.Store.GetPublished(ctx, *c.PublicVersionID)
		if err != nil {
			return nil, oops.New(err, "failed to load live publication of content %d", contentID)
		}
	}

	publicSlug, err := s.publicSlug(ctx, c.ID, tree.Title(), prev)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	pub := models.PublishedContent{
		ContentID:       c.ID,
		PublicSlug:      publicSlug,
		Title:           tree.Title(),
		Type:            tree.Meta.Type,
		ShaPublic:       opts.Commit,
		PublicationDate: now,
		Source:          opts.Source,
		ValidationID:    opts.ValidationID,
	}
	if prev != nil {
		if !opts.MajorUpdate {
			pub.PublicationDate = prev.PublicationDate
		}
		pub.UpdateDate = &now
	}

	doc, err := s.document(ctx, repo, c.ID, tree, &pub)
	if err != nil {
		return nil, err
	}

	render := op.StartBlock("RENDER", "Stage publication")
	staging, failed, err := s.stage(ctx, doc)
	render.End()
	if err != nil {
		return nil, err
	}
	sw, err := s.swapIn(staging, publicSlug)
	if err != nil {
		return nil, err
	}

	var inserted *models.PublishedContent
	err = s.Store.InTx(ctx, func(q contentdata.Queries) error {
		if prev != nil {
			if err := q.MarkRedirect(ctx, prev.ID); err != nil {
				return err
			}
		}
		var err error
		inserted, err = q.InsertPublished(ctx, pub)
		if err != nil {
			return err
		}
		if err := q.SwapPublicVersion(ctx, c.ID, c.PublicVersionID, &inserted.ID, &opts.Commit); err != nil {
			return err
		}
		for _, f := range failed {
			err := q.RecordArtifactFailure(ctx, models.ArtifactFailure{
				PublishedID: inserted.ID,
				Kind:        f.Kind,
				Error:       f.Err.Error(),
				Attempts:    1,
				NextAttempt: now.Add(s.Retry.Min),
			})
			if err != nil {
				return err
			}
		}
		if opts.InTx != nil {
			return opts.InTx(ctx, q, inserted)
		}
		return nil
	})
	if err != nil {
		if undoErr := sw.undo(); undoErr != nil {
			logger.Error().Err(undoErr).Str("slug", publicSlug).Msg("failed to restore public directory")
		}
		return nil, oops.New(err, "failed to record publication of content %d", contentID)
	}

	if err := sw.finish(); err != nil {
		logger.Warn().Err(err).Msg("failed to remove superseded publication directory")
	}
	s.purgeSizes(c.ID)

	if prev == nil {
		publicationsTotal.WithLabelValues("first").Inc()
	} else {
		publicationsTotal.WithLabelValues("update").Inc()
	}
	publishDuration.Observe(time.Since(start).Seconds())
	logger.Info().
		Str("slug", publicSlug).
		Int("published", inserted.ID).
		Int("failed artifacts", len(failed)).
		Msg("published content")

	s.mirrorUpload(ctx, inserted, failed)

	return &Result{Published: inserted, Failed: failed}, nil
}

// publicSlug keeps the live publication's slug as long as the title still
// slugifies to it. Otherwise the new title gets a slug no other content has
// ever been published under.
func (s *Service) publicSlug(ctx context.Context, contentID int, title string, prev *models.PublishedContent) (string, error) {
	base := models.Slugify(title)
	if prev != nil && isVariantOf(prev.PublicSlug, base) {
		return prev.PublicSlug, nil
	}

	slug, err := models.Disambiguate(base, func(candidate string) (bool, error) {
		return s.Store.PublicSlugTaken(ctx, candidate, contentID)
	})
	if err != nil {
		return "", oops.New(err, "failed to find a public slug for %q", title)
	}
	return slug, nil
}

// isVariantOf reports whether slug is base or one of its numbered variants.
func isVariantOf(slug, base string) bool {
	if slug == base {
		return true
	}
	i := strings.LastIndexByte(slug, '-')
	if i < 0 {
		return false
	}
	n, err := strconv.Atoi(slug[i+1:])
	if err != nil || n <= 0 {
		return false
	}
	return models.SlugWithCounter(base, n) == slug
}

// document gathers what the renderer needs for one publication.
func (s *Service) document(ctx context.Context, repo *gitstore.Repo, contentID int, tree *doctree.Tree, pub *models.PublishedContent) (*artifacts.Document, error) {
	repoImages, err := repo.Files(ctx, pub.ShaPublic, artifacts.RepoImagesDir+"/")
	if err != nil {
		return nil, oops.New(err, "failed to read images at %s", pub.ShaPublic)
	}
	images := make(map[string][]byte, len(repoImages))
	for name, data := range repoImages {
		images[strings.TrimPrefix(name, artifacts.RepoImagesDir+"/")] = data
	}

	authors, err := s.authorNames(ctx, contentID)
	if err != nil {
		return nil, err
	}

	return &artifacts.Document{
		Tree:            tree.WithRootSlug(pub.PublicSlug),
		PublicSlug:      pub.PublicSlug,
		Commit:          pub.ShaPublic,
		Authors:         authors,
		PublicationDate: pub.PublicationDate,
		UpdateDate:      pub.UpdateDate,
		Markdown:        artifacts.RewriteImages([]byte(tree.Markdown()), s.Gallery),
		Images:          images,
	}, nil
}

func (s *Service) authorNames(ctx context.Context, contentID int) ([]string, error) {
	ids, err := s.Store.ListAuthors(ctx, contentID)
	if err != nil {
		return nil, oops.New(err, "failed to list authors of content %d", contentID)
	}
	var names []string
	for _, id := range ids {
		u, err := s.Store.GetUser(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			continue
		} else if err != nil {
			return nil, oops.New(err, "failed to load author %d", id)
		}
		names = append(names, u.BestName())
	}
	return names, nil
}
