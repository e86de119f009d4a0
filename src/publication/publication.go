// Package publication snapshots a commit of a content into its public
// directory and keeps the database pointers consistent with what is on disk.
//
// A published directory looks like this:
//
//	{public_root}/{public_slug}/
//		manifest.json
//		{slug}.md, {slug}.html, {slug}.zip, {slug}.pdf, {slug}.epub
//		source/     the tree files, loadable with doctree.DirSource
//		extra/images/
//
// Directories are built under a dot-prefixed staging name and renamed into
// place. Anything dot-prefixed in the public root belongs to an operation in
// flight or to one that crashed, and is never served.
package publication

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.handmade.network/hmn/tutorials/src/artifacts"
	"git.handmade.network/hmn/tutorials/src/config"
	"git.handmade.network/hmn/tutorials/src/contentdata"
	"git.handmade.network/hmn/tutorials/src/doctree"
	"git.handmade.network/hmn/tutorials/src/gitstore"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
	"git.handmade.network/hmn/tutorials/src/perf"
	"git.handmade.network/hmn/tutorials/src/perms"
	"git.handmade.network/hmn/tutorials/src/utils"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	SourceDir = "source"

	stagingPrefix    = ".staging-"
	supersededPrefix = ".superseded-"
)

var (
	publicationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorials_publications_total",
		Help: "Publications, by whether they replaced a live one.",
	}, []string{"kind"})
	revocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutorials_revocations_total",
		Help: "Publications withdrawn by revoke or unpublish.",
	})
	artifactFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorials_artifact_failures_total",
		Help: "Artifacts that failed to render, by kind.",
	}, []string{"kind"})
	publishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tutorials_publish_duration_seconds",
		Help:    "Time to stage, render and swap in a publication.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	sizeCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutorials_size_cache_hits_total",
		Help: "Artifact size lookups answered from memory.",
	})
	sizeCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutorials_size_cache_misses_total",
		Help: "Artifact size lookups that went to the database or disk.",
	})
)

// Mirror receives copies of published artifacts, e.g. an S3 bucket behind a
// CDN. Failures are logged and never undo a publication.
type Mirror interface {
	// files maps artifact file names to local paths.
	Upload(ctx context.Context, publicSlug string, files map[string]string) error
	Remove(ctx context.Context, publicSlug string) error
}

type RetryPolicy struct {
	Min      time.Duration
	Max      time.Duration
	Attempts int
}

type Service struct {
	Store      contentdata.Store
	Repos      gitstore.Provider
	Renderer   artifacts.Renderer
	Gallery    artifacts.Gallery
	Perms      perms.Checker
	PublicRoot string
	Mirror     Mirror // optional
	Retry      RetryPolicy
	// How old a staging or superseded directory must be before
	// CleanStaleStaging treats it as abandoned.
	StagingGrace time.Duration
	Perf         *perf.PerfCollector // optional

	now   func() time.Time
	locks utils.KeyedMutex[int]
	sizes *expirable.LRU[sizeKey, int64]
}

type sizeKey struct {
	contentID int
	kind      models.ArtifactKind
	commit    string
}

func New(store contentdata.Store, repos gitstore.Provider, renderer artifacts.Renderer, checker perms.Checker, cfg config.TutorialsConfig) *Service {
	s := &Service{
		Store:      store,
		Repos:      repos,
		Renderer:   renderer,
		Gallery:    artifacts.NoGallery{},
		Perms:      checker,
		PublicRoot: cfg.Content.PublicRoot,
		Retry: RetryPolicy{
			Min:      cfg.Artifact.RetryMin,
			Max:      cfg.Artifact.RetryMax,
			Attempts: cfg.Artifact.RetryAttempts,
		},
		StagingGrace: utils.OrDefault(cfg.Content.StagingGrace, time.Hour),
	}
	s.sizes = expirable.NewLRU[sizeKey, int64](
		utils.OrDefault(cfg.Content.SizeCacheEntries, 1024),
		nil,
		cfg.Content.SizeCacheTTL,
	)
	return s
}

func (s *Service) Now() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// SetClock replaces time.Now, for tests and the seed command.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Publications, revocations and artifact retries of one content never
// overlap on disk.
func (s *Service) lock(contentID int) (unlock func()) {
	return s.locks.Lock(contentID)
}

func (s *Service) PublicDir(publicSlug string) string {
	return filepath.Join(s.PublicRoot, publicSlug)
}

// LoadPublished reads the tree of a published directory.
func (s *Service) LoadPublished(ctx context.Context, publicSlug string) (*doctree.Tree, error) {
	if strings.HasPrefix(publicSlug, ".") || strings.ContainsAny(publicSlug, `/\`) {
		return nil, oops.New(models.ErrNotFound, "invalid public slug %q", publicSlug)
	}
	return doctree.Load(ctx, doctree.DirSource(filepath.Join(s.PublicDir(publicSlug), SourceDir)))
}

// ArtifactPath is where an artifact of a publication lives, present or not.
func (s *Service) ArtifactPath(pub *models.PublishedContent, kind models.ArtifactKind) string {
	return filepath.Join(s.PublicDir(pub.PublicSlug), kind.Filename(pub.PublicSlug))
}

func (s *Service) ensureRoot() error {
	if err := os.MkdirAll(s.PublicRoot, 0o755); err != nil {
		return oops.New(errors.Join(models.ErrIO, err), "failed to create public root")
	}
	return nil
}
