package server

import (
	"context"

	"git.handmade.network/hmn/tutorials/src/artifacts"
	"git.handmade.network/hmn/tutorials/src/config"
	"git.handmade.network/hmn/tutorials/src/content"
	"git.handmade.network/hmn/tutorials/src/contentdata"
	"git.handmade.network/hmn/tutorials/src/db"
	"git.handmade.network/hmn/tutorials/src/gitstore"
	"git.handmade.network/hmn/tutorials/src/logging"
	"git.handmade.network/hmn/tutorials/src/mirror"
	"git.handmade.network/hmn/tutorials/src/perms"
	"git.handmade.network/hmn/tutorials/src/publication"
	"git.handmade.network/hmn/tutorials/src/resolver"
	"git.handmade.network/hmn/tutorials/src/validation"
)

// Services is the whole pipeline wired against one store and one set of
// repositories.
type Services struct {
	Store        contentdata.Store
	Repos        gitstore.Provider
	Perms        perms.Checker
	Publications *publication.Service
	Contents     *content.Service
	Validation   *validation.Workflow
	Resolver     *resolver.Resolver

	close func()
}

// NewServices connects to PostgreSQL and the on-disk repositories, or keeps
// everything in memory when inMemory is set. Published directories are
// always on disk.
func NewServices(ctx context.Context, cfg config.TutorialsConfig, inMemory bool) (*Services, error) {
	var (
		store contentdata.Store
		repos gitstore.Provider
		close = func() {}
	)
	if inMemory {
		logging.Warn().Msg("Keeping content in memory; nothing but published directories will survive a restart")
		store = contentdata.NewMemory()
		repos = gitstore.NewMemoryProvider()
	} else {
		pool, err := db.NewConnPoolFromDSN(ctx, cfg.Postgres.DSN(), cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store = contentdata.NewPostgres(pool)
		repos = &gitstore.DiskProvider{Root: cfg.Content.RepoRoot, CacheMiB: cfg.Content.ObjectCacheMiB}
		close = pool.Close
	}
	return Wire(ctx, cfg, store, repos, close)
}

// Wire builds the services over an existing store and repositories.
func Wire(ctx context.Context, cfg config.TutorialsConfig, store contentdata.Store, repos gitstore.Provider, close func()) (*Services, error) {
	checker := perms.Roles{Authors: store}

	pubs := publication.New(store, repos, artifacts.New(cfg.Artifact), checker, cfg)
	if cfg.Mirror.Enabled() {
		m, err := mirror.New(ctx, cfg.Mirror)
		if err != nil {
			if close != nil {
				close()
			}
			return nil, err
		}
		pubs.Mirror = m
	}

	return &Services{
		Store:        store,
		Repos:        repos,
		Perms:        checker,
		Publications: pubs,
		Contents:     content.New(store, repos, checker, pubs),
		Validation:   validation.New(store, checker, pubs),
		Resolver:     resolver.New(store, repos, checker, pubs),
		close:        close,
	}, nil
}

func (s *Services) Close() {
	if s.close != nil {
		s.close()
	}
}
