package doctree

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"git.handmade.network/hmn/tutorials/src/gitstore"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
)

// A Source is where a tree's files are read from: a commit of the content's
// repository, or the flat public directory of a publication.
type Source interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

type commitSource struct {
	repo   *gitstore.Repo
	commit string
}

func (s commitSource) ReadFile(ctx context.Context, p string) ([]byte, error) {
	return s.repo.ReadFile(ctx, s.commit, p)
}

func AtCommit(repo *gitstore.Repo, commit string) Source {
	return commitSource{repo: repo, commit: commit}
}

// DirSource reads from a directory on disk.
type DirSource string

func (d DirSource) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	data, err := os.ReadFile(filepath.Join(string(d), filepath.FromSlash(clean)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, oops.New(models.ErrNotFound, "no file %s in %s", p, string(d))
	} else if err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to read %s in %s", p, string(d))
	}
	return data, nil
}

// MapSource serves files from memory, keyed by slash-separated path.
type MapSource map[string][]byte

func (m MapSource) ReadFile(ctx context.Context, p string) ([]byte, error) {
	data, ok := m[p]
	if !ok {
		return nil, oops.New(models.ErrNotFound, "no file %s", p)
	}
	return data, nil
}
