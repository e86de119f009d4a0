package publication

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.handmade.network/hmn/tutorials/src/artifacts"
	"git.handmade.network/hmn/tutorials/src/doctree"
	"git.handmade.network/hmn/tutorials/src/logging"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
	"github.com/google/uuid"
)

// stage writes everything a publication serves into a fresh staging
// directory. Artifact failures are collected, not returned; err is set only
// when the directory itself could not be built, in which case nothing is
// left behind.
func (s *Service) stage(ctx context.Context, doc *artifacts.Document) (dir string, failed []*artifacts.ArtifactError, err error) {
	if err := s.ensureRoot(); err != nil {
		return "", nil, err
	}
	dir = filepath.Join(s.PublicRoot, s.tempName(stagingPrefix))
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
		}
	}()

	files := doc.Tree.Files()
	for name, data := range files {
		if err := writeStaged(dir, filepath.Join(SourceDir, filepath.FromSlash(name)), data); err != nil {
			return "", nil, err
		}
	}
	if err := writeStaged(dir, doctree.ManifestPath, files[doctree.ManifestPath]); err != nil {
		return "", nil, err
	}
	if err := writeStaged(dir, models.ArtifactMarkdown.Filename(doc.PublicSlug), doc.Markdown); err != nil {
		return "", nil, err
	}
	for name, data := range doc.Images {
		if err := writeStaged(dir, filepath.Join(filepath.FromSlash(artifacts.ImagesDir), filepath.FromSlash(name)), data); err != nil {
			return "", nil, err
		}
	}

	logger := logging.ExtractLogger(ctx)
	for _, kind := range s.Renderer.Kinds() {
		data, renderErr := s.Renderer.Render(ctx, doc, kind)
		if renderErr == nil {
			renderErr = writeStaged(dir, kind.Filename(doc.PublicSlug), data)
		}
		if renderErr == nil {
			continue
		}
		if ctx.Err() != nil {
			return "", nil, oops.New(ctx.Err(), "publication of %s abandoned", doc.PublicSlug)
		}

		var artErr *artifacts.ArtifactError
		if !errors.As(renderErr, &artErr) {
			artErr = &artifacts.ArtifactError{Kind: kind, Err: renderErr}
		}
		logger.Warn().Err(renderErr).Str("kind", string(kind)).Str("slug", doc.PublicSlug).Msg("artifact generation failed")
		artifactFailuresTotal.WithLabelValues(string(kind)).Inc()
		failed = append(failed, artErr)
	}

	return dir, failed, nil
}

func writeStaged(dir, rel string, data []byte) error {
	p := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return oops.New(errors.Join(models.ErrIO, err), "failed to create %s", filepath.Dir(p))
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return oops.New(errors.Join(models.ErrIO, err), "failed to write %s", p)
	}
	return nil
}

// A swap is a pair of renames in the public root that can still be reversed
// until finish is called.
type swap struct {
	target     string
	staging    string // renamed onto target, if any
	superseded string // where the previous target went, if it existed
}

// swapIn puts a staged directory at the public slug, moving aside whatever
// was there.
func (s *Service) swapIn(staging, publicSlug string) (*swap, error) {
	sw, err := s.retire(publicSlug)
	if err != nil {
		return nil, err
	}
	if err := os.Rename(staging, sw.target); err != nil {
		sw.undo()
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to move %s into place", publicSlug)
	}
	sw.staging = staging
	return sw, nil
}

// retire moves the directory of a public slug aside, if there is one.
func (s *Service) retire(publicSlug string) (*swap, error) {
	sw := &swap{target: s.PublicDir(publicSlug)}
	_, err := os.Stat(sw.target)
	if errors.Is(err, fs.ErrNotExist) {
		return sw, nil
	} else if err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to stat %s", sw.target)
	}

	superseded := filepath.Join(s.PublicRoot, s.tempName(supersededPrefix))
	if err := os.Rename(sw.target, superseded); err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to move %s aside", publicSlug)
	}
	sw.superseded = superseded
	return sw, nil
}

// undo restores the public root to how it was before the swap.
func (sw *swap) undo() error {
	var errs []error
	if sw.staging != "" {
		if err := os.Rename(sw.target, sw.staging); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, os.RemoveAll(sw.staging))
	}
	if sw.superseded != "" {
		errs = append(errs, os.Rename(sw.superseded, sw.target))
	}
	return errors.Join(errs...)
}

// finish drops the directory that was moved aside.
func (sw *swap) finish() error {
	if sw.superseded == "" {
		return nil
	}
	return os.RemoveAll(sw.superseded)
}

// Temporary directory names start with their creation time.
func (s *Service) tempName(prefix string) string {
	return prefix + s.Now().UTC().Format(tempTimeLayout) + "-" + uuid.NewString()
}

const tempTimeLayout = "20060102T150405Z"

// tempCreated reports when a temporary directory was made. Names without a
// readable time are treated as infinitely old.
func tempCreated(name string) time.Time {
	for _, prefix := range []string{stagingPrefix, supersededPrefix} {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			stamp, _, _ := strings.Cut(rest, "-")
			if t, err := time.Parse(tempTimeLayout, stamp); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// CleanStaleStaging removes the leftovers of publications that crashed
// between staging and swap-in. Directories younger than StagingGrace may
// belong to a publication in progress and are left alone.
func (s *Service) CleanStaleStaging(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.PublicRoot)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to list %s", s.PublicRoot)
	}

	cutoff := s.Now().Add(-s.StagingGrace)
	var removed []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, stagingPrefix) && !strings.HasPrefix(name, supersededPrefix) {
			continue
		}
		if tempCreated(name).After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.PublicRoot, name)); err != nil {
			return removed, oops.New(errors.Join(models.ErrIO, err), "failed to remove %s", name)
		}
		removed = append(removed, name)
	}
	if len(removed) > 0 {
		logging.ExtractLogger(ctx).Info().Strs("dirs", removed).Msg("removed stale publication directories")
	}
	return removed, nil
}
