// Package gitstore keeps the text of each content in its own bare git
// repository. Commits are built directly from objects, without a worktree, and
// always name their parent explicitly, so the caller's draft pointer decides
// the lineage rather than whatever the branch happens to point at.
package gitstore

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

const (
	ManifestPath = "manifest.json"
	BranchName   = "main"
)

var branchRef = plumbing.NewBranchReferenceName(BranchName)

// Returned by Commit when applying the changes leaves the tree untouched.
var ErrNothingToCommit = errors.New("nothing to commit")

type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// A single file write or deletion. Paths use forward slashes and are relative
// to the repository root.
type Change struct {
	Path    string
	Content []byte
	Delete  bool
}

type CommitInfo struct {
	ID      string
	Message string
	Author  Signature
	Parents []string
}

type ChangeAction int

const (
	Insert ChangeAction = iota + 1
	Delete
	Modify
)

func (a ChangeAction) String() string {
	switch a {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	case Modify:
		return "modify"
	}
	return "unknown"
}

type FileChange struct {
	Path   string
	Action ChangeAction
}

// Repo is one content's repository.
type Repo struct {
	Name string
	repo *git.Repository
	s    storer.Storer
}

func validHash(sha string) (plumbing.Hash, bool) {
	if len(sha) != 40 {
		return plumbing.ZeroHash, false
	}
	if _, err := hex.DecodeString(sha); err != nil {
		return plumbing.ZeroHash, false
	}
	return plumbing.NewHash(sha), true
}

func (r *Repo) commitObject(sha string) (*object.Commit, error) {
	hash, ok := validHash(sha)
	if !ok {
		return nil, oops.New(models.ErrNotFound, "malformed commit id %q", sha)
	}
	c, err := r.repo.CommitObject(hash)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, oops.New(models.ErrNotFound, "commit %s does not exist in %s", sha, r.Name)
	} else if err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to read commit %s in %s", sha, r.Name)
	}
	return c, nil
}

func (r *Repo) ReadManifest(ctx context.Context, commit string) ([]byte, error) {
	return r.ReadFile(ctx, commit, ManifestPath)
}

func (r *Repo) ReadFile(ctx context.Context, commit, filePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := r.commitObject(commit)
	if err != nil {
		return nil, err
	}
	f, err := c.File(cleanPath(filePath))
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, oops.New(models.ErrNotFound, "no file %s at commit %s", filePath, commit)
	} else if err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to read %s at %s", filePath, commit)
	}
	return readBlob(f)
}

func readBlob(f *object.File) ([]byte, error) {
	rd, err := f.Reader()
	if err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to open blob for %s", f.Name)
	}
	defer rd.Close()
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to read blob for %s", f.Name)
	}
	return data, nil
}

// Files returns every file at the commit whose path starts with prefix. An
// empty prefix returns the whole tree.
func (r *Repo) Files(ctx context.Context, commit, prefix string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := r.commitObject(commit)
	if err != nil {
		return nil, err
	}
	iter, err := c.Files()
	if err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to list files at %s", commit)
	}
	files := make(map[string][]byte)
	err = iter.ForEach(func(f *object.File) error {
		if !strings.HasPrefix(f.Name, prefix) {
			return nil
		}
		data, err := readBlob(f)
		if err != nil {
			return err
		}
		files[f.Name] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Commit writes one new commit on top of parent containing the given changes,
// then moves the branch to it. An empty parent starts a new history. Nothing
// is reachable until the final reference update, so a failure partway leaves
// only unreferenced objects behind.
func (r *Repo) Commit(ctx context.Context, parent string, changes []Change, message string, author Signature) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	entries := make(map[string]plumbing.Hash)
	var parentHashes []plumbing.Hash
	var parentTree plumbing.Hash
	if parent != "" {
		pc, err := r.commitObject(parent)
		if err != nil {
			return "", err
		}
		parentHashes = []plumbing.Hash{pc.Hash}
		parentTree = pc.TreeHash

		iter, err := pc.Files()
		if err != nil {
			return "", oops.New(errors.Join(models.ErrIO, err), "failed to list files at %s", parent)
		}
		err = iter.ForEach(func(f *object.File) error {
			entries[f.Name] = f.Hash
			return nil
		})
		if err != nil {
			return "", oops.New(errors.Join(models.ErrIO, err), "failed to list files at %s", parent)
		}
	}

	for _, change := range changes {
		p := cleanPath(change.Path)
		if p == "" {
			return "", oops.New(nil, "empty path in commit")
		}
		if change.Delete {
			delete(entries, p)
			continue
		}
		hash, err := r.writeBlob(change.Content)
		if err != nil {
			return "", err
		}
		entries[p] = hash
	}

	treeHash, err := r.writeTree(entries)
	if err != nil {
		return "", err
	}
	if parent != "" && treeHash == parentTree {
		return parent, ErrNothingToCommit
	}

	if author.When.IsZero() {
		author.When = time.Now()
	}
	sig := object.Signature{Name: author.Name, Email: author.Email, When: author.When}
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: parentHashes,
	}
	commitHash, err := r.writeObject(commit)
	if err != nil {
		return "", err
	}

	if err := r.s.SetReference(plumbing.NewHashReference(branchRef, commitHash)); err != nil {
		return "", oops.New(errors.Join(models.ErrIO, err), "failed to move %s in %s", BranchName, r.Name)
	}
	return commitHash.String(), nil
}

type encodable interface {
	Encode(plumbing.EncodedObject) error
}

func (r *Repo) writeObject(o encodable) (plumbing.Hash, error) {
	obj := r.s.NewEncodedObject()
	if err := o.Encode(obj); err != nil {
		return plumbing.ZeroHash, oops.New(err, "failed to encode object")
	}
	hash, err := r.s.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, oops.New(errors.Join(models.ErrIO, err), "failed to store object")
	}
	return hash, nil
}

func (r *Repo) writeBlob(content []byte) (plumbing.Hash, error) {
	obj := r.s.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(content)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, oops.New(err, "failed to open blob writer")
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return plumbing.ZeroHash, oops.New(err, "failed to write blob")
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, oops.New(err, "failed to close blob writer")
	}
	hash, err := r.s.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, oops.New(errors.Join(models.ErrIO, err), "failed to store blob")
	}
	return hash, nil
}

type dirNode struct {
	files map[string]plumbing.Hash
	dirs  map[string]*dirNode
}

func newDirNode() *dirNode {
	return &dirNode{files: map[string]plumbing.Hash{}, dirs: map[string]*dirNode{}}
}

// Builds and stores the nested tree objects for a flat path -> blob map,
// returning the root tree's hash.
func (r *Repo) writeTree(entries map[string]plumbing.Hash) (plumbing.Hash, error) {
	root := newDirNode()
	for p, hash := range entries {
		parts := strings.Split(p, "/")
		node := root
		for _, dir := range parts[:len(parts)-1] {
			child, ok := node.dirs[dir]
			if !ok {
				child = newDirNode()
				node.dirs[dir] = child
			}
			node = child
		}
		node.files[parts[len(parts)-1]] = hash
	}
	return r.writeDir(root)
}

func (r *Repo) writeDir(node *dirNode) (plumbing.Hash, error) {
	var tree object.Tree
	for name, hash := range node.files {
		tree.Entries = append(tree.Entries, object.TreeEntry{Name: name, Mode: filemode.Regular, Hash: hash})
	}
	for name, child := range node.dirs {
		hash, err := r.writeDir(child)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		tree.Entries = append(tree.Entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
	}
	// git orders tree entries as if directory names ended in a slash
	sortKey := func(e object.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}
		return e.Name
	}
	sort.Slice(tree.Entries, func(i, j int) bool {
		return sortKey(tree.Entries[i]) < sortKey(tree.Entries[j])
	})
	return r.writeObject(&tree)
}

func (r *Repo) Diff(ctx context.Context, a, b string) ([]FileChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ca, err := r.commitObject(a)
	if err != nil {
		return nil, err
	}
	cb, err := r.commitObject(b)
	if err != nil {
		return nil, err
	}
	ta, err := ca.Tree()
	if err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to read tree of %s", a)
	}
	tb, err := cb.Tree()
	if err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to read tree of %s", b)
	}
	changes, err := ta.DiffContext(ctx, tb)
	if err != nil {
		return nil, oops.New(err, "failed to diff %s..%s", a, b)
	}

	var res []FileChange
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, oops.New(err, "bad change in diff %s..%s", a, b)
		}
		fc := FileChange{Path: ch.To.Name}
		switch action {
		case merkletrie.Insert:
			fc.Action = Insert
		case merkletrie.Delete:
			fc.Action = Delete
			fc.Path = ch.From.Name
		default:
			fc.Action = Modify
		}
		res = append(res, fc)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Path < res[j].Path })
	return res, nil
}

// Head returns the commit the branch points at, or "" for an empty repository.
func (r *Repo) Head() (string, error) {
	ref, err := r.s.Reference(branchRef)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	} else if err != nil {
		return "", oops.New(errors.Join(models.ErrIO, err), "failed to read %s in %s", BranchName, r.Name)
	}
	return ref.Hash().String(), nil
}

// ListCommits returns the history reachable from the branch, newest first.
func (r *Repo) ListCommits(ctx context.Context) ([]CommitInfo, error) {
	head, err := r.Head()
	if err != nil || head == "" {
		return nil, err
	}
	iter, err := r.repo.Log(&git.LogOptions{From: plumbing.NewHash(head), Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, oops.New(errors.Join(models.ErrIO, err), "failed to walk history of %s", r.Name)
	}
	defer iter.Close()

	var res []CommitInfo
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		info := CommitInfo{
			ID:      c.Hash.String(),
			Message: c.Message,
			Author:  Signature{Name: c.Author.Name, Email: c.Author.Email, When: c.Author.When},
		}
		for _, p := range c.ParentHashes {
			info.Parents = append(info.Parents, p.String())
		}
		res = append(res, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// HasCommit reports whether sha is part of the history reachable from the
// branch.
func (r *Repo) HasCommit(ctx context.Context, sha string) (bool, error) {
	if _, ok := validHash(sha); !ok {
		return false, nil
	}
	commits, err := r.ListCommits(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range commits {
		if c.ID == sha {
			return true, nil
		}
	}
	return false, nil
}

func cleanPath(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(p, "/")
}
