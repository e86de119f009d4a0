// Package resolver turns an address of the form
// (content id, slug, optional commit, node path) into a node of one version
// of a content. Unpinned reads go to the draft for people allowed to see it
// and to the public snapshot for everyone else. Pinned reads go to the
// repository at that commit, whatever slug the content had back then.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"git.handmade.network/hmn/tutorials/src/contentdata"
	"git.handmade.network/hmn/tutorials/src/doctree"
	"git.handmade.network/hmn/tutorials/src/gitstore"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
	"git.handmade.network/hmn/tutorials/src/perms"
)

// RedirectError is returned for an unpinned address whose slug is not the
// one the content goes by now. Slug is the one to use instead. It matches
// models.ErrNotFound.
type RedirectError struct {
	ContentID int
	Requested string
	Slug      string
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("content %d is no longer at %q, it is at %q", e.ContentID, e.Requested, e.Slug)
}

func (e *RedirectError) Unwrap() error {
	return models.ErrNotFound
}

// PublicLoader reads the tree of a live publication from its public
// directory.
type PublicLoader interface {
	LoadPublished(ctx context.Context, publicSlug string) (*doctree.Tree, error)
}

type Query struct {
	ContentID int
	Slug      string
	// Empty to follow the pointer the caller is entitled to.
	Commit string
	Path   []string
}

type Resolved struct {
	Content *models.Content
	Commit  string
	Tree    *doctree.Tree
	Node    doctree.Node
	// Set when the tree came from the public snapshot.
	Published *models.PublishedContent
}

func (r *Resolved) FromPublic() bool { return r.Published != nil }

type Resolver struct {
	Store        contentdata.Store
	Repos        gitstore.Provider
	Perms        perms.Checker
	Publications PublicLoader
}

func New(store contentdata.Store, repos gitstore.Provider, checker perms.Checker, publications PublicLoader) *Resolver {
	return &Resolver{Store: store, Repos: repos, Perms: checker, Publications: publications}
}

func (r *Resolver) Resolve(ctx context.Context, user *models.User, q Query) (*Resolved, error) {
	c, err := r.Store.GetContent(ctx, q.ContentID)
	if err != nil {
		return nil, oops.New(err, "failed to load content %d", q.ContentID)
	}

	var res *Resolved
	if q.Commit == "" {
		res, err = r.current(ctx, user, c, q.Slug)
	} else {
		res, err = r.pinned(ctx, user, c, q.Commit)
	}
	if err != nil {
		return nil, err
	}

	node, err := res.Tree.ResolvePath(q.Path...)
	if err != nil {
		return nil, oops.New(err, "no node at %v in content %d at %s", q.Path, c.ID, res.Commit)
	}
	res.Node = node
	return res, nil
}

func (r *Resolver) current(ctx context.Context, user *models.User, c *models.Content, slug string) (*Resolved, error) {
	canReadDraft, err := r.Perms.CanReadDraft(ctx, user, c)
	if err != nil {
		return nil, oops.New(err, "failed to check draft access to content %d", c.ID)
	}

	if canReadDraft {
		tree, err := r.treeAt(ctx, c, c.ShaDraft)
		if err != nil {
			return nil, err
		}
		if slug != tree.Slug() {
			return nil, &RedirectError{ContentID: c.ID, Requested: slug, Slug: tree.Slug()}
		}
		return &Resolved{Content: c, Commit: c.ShaDraft, Tree: tree}, nil
	}

	if !c.InPublic() || c.PublicVersionID == nil {
		return nil, oops.New(models.ErrNotFound, "content %d is not published", c.ID)
	}
	pub, err := r.Store.GetPublished(ctx, *c.PublicVersionID)
	if err != nil {
		return nil, oops.New(err, "failed to load publication of content %d", c.ID)
	}
	if slug != pub.PublicSlug {
		return nil, &RedirectError{ContentID: c.ID, Requested: slug, Slug: pub.PublicSlug}
	}
	tree, err := r.Publications.LoadPublished(ctx, pub.PublicSlug)
	if err != nil {
		return nil, oops.New(err, "failed to load published tree of content %d", c.ID)
	}
	return &Resolved{Content: c, Commit: pub.ShaPublic, Tree: tree, Published: pub}, nil
}

// pinned serves one commit. Commits that are or were published are open to
// everyone; a beta commit to beta readers; anything else needs draft access.
func (r *Resolver) pinned(ctx context.Context, user *models.User, c *models.Content, commit string) (*Resolved, error) {
	wasPublic, err := r.wasPublished(ctx, c, commit)
	if err != nil {
		return nil, err
	}
	if !wasPublic {
		var allowed bool
		if c.ShaBeta != nil && *c.ShaBeta == commit {
			allowed, err = r.Perms.CanReadBeta(ctx, user, c)
		} else {
			allowed, err = r.Perms.CanReadDraft(ctx, user, c)
		}
		if err := perms.Require(allowed, err, "user cannot read content %d at %s", c.ID, commit); err != nil {
			return nil, err
		}
	}

	tree, err := r.treeAt(ctx, c, commit)
	if err != nil {
		return nil, err
	}
	return &Resolved{Content: c, Commit: commit, Tree: tree}, nil
}

func (r *Resolver) wasPublished(ctx context.Context, c *models.Content, commit string) (bool, error) {
	if c.ShaPublic != nil && *c.ShaPublic == commit {
		return true, nil
	}
	pubs, err := r.Store.ListPublished(ctx, c.ID)
	if err != nil {
		return false, oops.New(err, "failed to list publications of content %d", c.ID)
	}
	for _, pub := range pubs {
		if pub.ShaPublic == commit {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) treeAt(ctx context.Context, c *models.Content, commit string) (*doctree.Tree, error) {
	repo, err := r.Repos.Open(ctx, c.Slug)
	if err != nil {
		return nil, err
	}
	if ok, err := repo.HasCommit(ctx, commit); err != nil {
		return nil, err
	} else if !ok {
		return nil, oops.New(errors.Join(models.ErrNotFound, models.ErrUnknownVersion), "commit %s is not in the history of content %d", commit, c.ID)
	}
	return doctree.Load(ctx, doctree.AtCommit(repo, commit))
}
