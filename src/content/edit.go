package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"git.handmade.network/hmn/tutorials/src/contentdata"
	"git.handmade.network/hmn/tutorials/src/doctree"
	"git.handmade.network/hmn/tutorials/src/gitstore"
	"git.handmade.network/hmn/tutorials/src/logging"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
)

// ConcurrentEditError is returned when the node being edited changed since
// the editor loaded it. Current is the node as it is now, so the editor can
// reconcile by hand. It matches models.ErrConcurrentEdit.
type ConcurrentEditError struct {
	Path     []string
	Expected string
	Current  doctree.Node
}

func (e *ConcurrentEditError) Error() string {
	return fmt.Sprintf("/%s changed since it was loaded (expected hash %s)", strings.Join(e.Path, "/"), e.Expected)
}

func (e *ConcurrentEditError) Unwrap() error {
	return models.ErrConcurrentEdit
}

// Edit is the outcome of one change to a draft.
type Edit struct {
	Content *models.Content
	Commit  string
	Tree    *doctree.Tree
	// Where the changed node lives now. Empty for the root or a deletion.
	Path []string
}

// checkHash is the optimistic guard: an edit must present the hash of the
// node it was made against.
func checkHash(tree *doctree.Tree, path []string, expected string) error {
	node, err := tree.ResolvePath(path...)
	if err != nil {
		return err
	}
	if node.Hash() != expected {
		return &ConcurrentEditError{Path: path, Expected: expected, Current: node}
	}
	return nil
}

// EditContainer replaces the title and texts of a container. Retitling the
// root also renames the content.
func (s *Service) EditContainer(ctx context.Context, user *models.User, id int, path []string, title, introduction, conclusion, expectedHash string) (*Edit, error) {
	return s.change(ctx, user, id, "Edit "+title, func(tree *doctree.Tree) (*doctree.Mutation, error) {
		if err := checkHash(tree, path, expectedHash); err != nil {
			return nil, err
		}
		return tree.EditContainer(path, title, introduction, conclusion)
	})
}

func (s *Service) EditExtract(ctx context.Context, user *models.User, id int, path []string, title, text, expectedHash string) (*Edit, error) {
	return s.change(ctx, user, id, "Edit "+title, func(tree *doctree.Tree) (*doctree.Mutation, error) {
		if err := checkHash(tree, path, expectedHash); err != nil {
			return nil, err
		}
		return tree.EditExtract(path, title, text)
	})
}

func (s *Service) AddContainer(ctx context.Context, user *models.User, id int, parent []string, title, introduction, conclusion string) (*Edit, error) {
	return s.change(ctx, user, id, "Add "+title, func(tree *doctree.Tree) (*doctree.Mutation, error) {
		return tree.AddContainer(parent, title, introduction, conclusion)
	})
}

func (s *Service) AddExtract(ctx context.Context, user *models.User, id int, parent []string, title, text string) (*Edit, error) {
	return s.change(ctx, user, id, "Add "+title, func(tree *doctree.Tree) (*doctree.Mutation, error) {
		return tree.AddExtract(parent, title, text)
	})
}

func (s *Service) DeleteNode(ctx context.Context, user *models.User, id int, path []string) (*Edit, error) {
	return s.change(ctx, user, id, "Delete /"+strings.Join(path, "/"), func(tree *doctree.Tree) (*doctree.Mutation, error) {
		return tree.Delete(path)
	})
}

// MoveNode moves a node under newParent at position, counted among the new
// siblings.
func (s *Service) MoveNode(ctx context.Context, user *models.User, id int, path, newParent []string, position int) (*Edit, error) {
	return s.change(ctx, user, id, "Move /"+strings.Join(path, "/"), func(tree *doctree.Tree) (*doctree.Mutation, error) {
		return tree.Move(path, newParent, position)
	})
}

// change applies one mutation to the draft of a content: it commits on top
// of sha_draft and advances sha_draft only if nobody else did in between.
func (s *Service) change(ctx context.Context, user *models.User, id int, message string, mutate func(*doctree.Tree) (*doctree.Mutation, error)) (*Edit, error) {
	c, unlock, err := s.editable(ctx, user, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	repo, err := s.Repos.Open(ctx, c.Slug)
	if err != nil {
		return nil, err
	}
	tree, err := doctree.Load(ctx, doctree.AtCommit(repo, c.ShaDraft))
	if err != nil {
		return nil, err
	}

	mut, err := mutate(tree)
	if err != nil {
		return nil, err
	}
	next := mut.Tree

	renamed := next.Title() != tree.Title()
	var newSlug string
	if renamed {
		s.slugs.Lock()
		defer s.slugs.Unlock()
		if newSlug, err = s.freeSlug(ctx, next.Title(), c.ID); err != nil {
			return nil, err
		}
		next = next.WithRootSlug(newSlug)
	}

	changes, err := changesFor(ctx, repo, c.ShaDraft, tree, next)
	if err != nil {
		return nil, err
	}
	sha, err := repo.Commit(ctx, c.ShaDraft, changes, message, s.signature(user))
	if errors.Is(err, gitstore.ErrNothingToCommit) {
		return &Edit{Content: c, Commit: c.ShaDraft, Tree: tree, Path: mut.Path}, nil
	} else if err != nil {
		return nil, err
	}

	if renamed && newSlug != c.Slug {
		if err := s.Repos.Rename(ctx, c.Slug, newSlug); err != nil {
			return nil, err
		}
	}
	err = s.Store.InTx(ctx, func(q contentdata.Queries) error {
		if err := q.AdvanceDraft(ctx, c.ID, c.ShaDraft, sha); err != nil {
			return err
		}
		if renamed {
			return q.SetTitleAndSlug(ctx, c.ID, next.Title(), newSlug)
		}
		return nil
	})
	if err != nil {
		if renamed && newSlug != c.Slug {
			if renameErr := s.Repos.Rename(ctx, newSlug, c.Slug); renameErr != nil {
				logging.ExtractLogger(ctx).Error().Err(renameErr).Int("content", c.ID).Msg("failed to restore repository name")
			}
		}
		return nil, oops.New(err, "failed to advance draft of content %d", c.ID)
	}

	event := logging.ExtractLogger(ctx).Info().
		Int("content", c.ID).
		Str("commit", sha).
		Str("change", message)
	if renamed {
		event = event.Str("slug", newSlug)
	}
	event.Msg("changed draft")

	updated, err := s.Store.GetContent(ctx, c.ID)
	if err != nil {
		return nil, oops.New(err, "failed to reload content %d", c.ID)
	}
	return &Edit{Content: updated, Commit: sha, Tree: next, Path: mut.Path}, nil
}

// changesFor diffs two trees into the files to commit. Drafts still stored
// in an older manifest layout are rewritten in the current one by diffing
// against the files really in the repository.
func changesFor(ctx context.Context, repo *gitstore.Repo, commit string, before, after *doctree.Tree) ([]gitstore.Change, error) {
	if before.Meta.SchemaVersion >= doctree.CurrentSchema {
		return doctree.Diff(before.Files(), after.Files()), nil
	}
	existing, err := repo.Files(ctx, commit, "")
	if err != nil {
		return nil, err
	}
	return doctree.ChangesFrom(existing, after), nil
}
