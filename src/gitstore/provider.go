package gitstore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Provider finds the repository of a content by name (the content's slug).
type Provider interface {
	Init(ctx context.Context, name string) (*Repo, error)
	Open(ctx context.Context, name string) (*Repo, error)
	Rename(ctx context.Context, from, to string) error
	Remove(ctx context.Context, name string) error
}

var ErrRepoExists = errors.New("repository already exists")

func validName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return oops.New(nil, "invalid repository name %q", name)
	}
	return nil
}

func initRepo(name string, st storage.Storer) (*Repo, error) {
	repo, err := git.Init(st, nil)
	if err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to init repository %s", name)
	}
	if err := st.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to point HEAD at %s in %s", BranchName, name)
	}
	return &Repo{Name: name, repo: repo, s: st}, nil
}

func openRepo(name string, st storage.Storer) (*Repo, error) {
	repo, err := git.Open(st, nil)
	if err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to open repository %s", name)
	}
	return &Repo{Name: name, repo: repo, s: st}, nil
}

// DiskProvider keeps bare repositories as directories under Root.
type DiskProvider struct {
	Root     string
	CacheMiB int
}

func (p *DiskProvider) dir(name string) string {
	return filepath.Join(p.Root, name)
}

func (p *DiskProvider) storage(name string) storage.Storer {
	cacheSize := cache.FileSize(p.CacheMiB) * cache.MiByte
	if cacheSize <= 0 {
		cacheSize = cache.DefaultMaxSize
	}
	return filesystem.NewStorage(osfs.New(p.dir(name)), cache.NewObjectLRU(cacheSize))
}

func (p *DiskProvider) Init(ctx context.Context, name string) (*Repo, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	dir := p.dir(name)
	if _, err := os.Stat(dir); err == nil {
		return nil, oops.New(ErrRepoExists, "cannot init %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to create %s", dir)
	}
	return initRepo(name, p.storage(name))
}

func (p *DiskProvider) Open(ctx context.Context, name string) (*Repo, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	dir := p.dir(name)
	if _, err := os.Stat(dir); err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "repository directory %s is unavailable", dir)
	}
	return openRepo(name, p.storage(name))
}

func (p *DiskProvider) Rename(ctx context.Context, from, to string) error {
	if err := validName(from); err != nil {
		return err
	}
	if err := validName(to); err != nil {
		return err
	}
	if _, err := os.Stat(p.dir(to)); err == nil {
		return oops.New(ErrRepoExists, "cannot rename %s to %s", from, to)
	}
	if err := os.Rename(p.dir(from), p.dir(to)); err != nil {
		return oops.New(errors.Join(models.ErrIO, err), "failed to rename repository %s to %s", from, to)
	}
	return nil
}

// Remove is idempotent; removing a missing repository is not an error.
func (p *DiskProvider) Remove(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := os.RemoveAll(p.dir(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return oops.New(errors.Join(models.ErrIO, err), "failed to remove repository %s", name)
	}
	return nil
}

// MemoryProvider keeps repositories in memory. Used by tests and the
// --memory development mode.
type MemoryProvider struct {
	mu    sync.Mutex
	repos map[string]*memory.Storage
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{repos: map[string]*memory.Storage{}}
}

func (p *MemoryProvider) Init(ctx context.Context, name string) (*Repo, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.repos[name]; ok {
		return nil, oops.New(ErrRepoExists, "cannot init %s", name)
	}
	st := memory.NewStorage()
	repo, err := initRepo(name, st)
	if err != nil {
		return nil, err
	}
	p.repos[name] = st
	return repo, nil
}

func (p *MemoryProvider) Open(ctx context.Context, name string) (*Repo, error) {
	p.mu.Lock()
	st, ok := p.repos[name]
	p.mu.Unlock()
	if !ok {
		return nil, oops.New(models.ErrIO, "repository %s is unavailable", name)
	}
	return openRepo(name, st)
}

func (p *MemoryProvider) Rename(ctx context.Context, from, to string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.repos[from]
	if !ok {
		return oops.New(models.ErrIO, "repository %s is unavailable", from)
	}
	if _, ok := p.repos[to]; ok {
		return oops.New(ErrRepoExists, "cannot rename %s to %s", from, to)
	}
	delete(p.repos, from)
	p.repos[to] = st
	return nil
}

func (p *MemoryProvider) Remove(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.repos, name)
	return nil
}

func (p *MemoryProvider) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for name := range p.repos {
		names = append(names, name)
	}
	return names
}
