// Package content is the editing side of a tutorial or article: its draft
// tree, kept in a git repository, and the database row that points into it.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"git.handmade.network/hmn/tutorials/src/contentdata"
	"git.handmade.network/hmn/tutorials/src/doctree"
	"git.handmade.network/hmn/tutorials/src/gitstore"
	"git.handmade.network/hmn/tutorials/src/logging"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
	"git.handmade.network/hmn/tutorials/src/perms"
	"git.handmade.network/hmn/tutorials/src/utils"
)

const commitEmailDomain = "users.tutorials.handmade.network"

var ErrInvalidInput = errors.New("invalid content")

// Unpublisher takes every publication of a content down.
type Unpublisher interface {
	Unpublish(ctx context.Context, contentID int) error
}

type Service struct {
	Store        contentdata.Store
	Repos        gitstore.Provider
	Perms        perms.Checker
	Publications Unpublisher

	now   func() time.Time
	locks utils.KeyedMutex[int]
	// Held while a content slug is chosen and claimed.
	slugs sync.Mutex
}

func New(store contentdata.Store, repos gitstore.Provider, checker perms.Checker, publications Unpublisher) *Service {
	return &Service{
		Store:        store,
		Repos:        repos,
		Perms:        checker,
		Publications: publications,
	}
}

func (s *Service) Now() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

type CreateInput struct {
	Type         models.ContentType
	Title        string
	Introduction string
	Conclusion   string
	Licence      string
	Description  string
}

// Create starts a content with its first commit. The creator is its first
// author.
func (s *Service) Create(ctx context.Context, user *models.User, in CreateInput) (*models.Content, error) {
	if user == nil {
		return nil, oops.New(models.ErrForbidden, "visitors cannot create content")
	}
	if !in.Type.Valid() {
		return nil, oops.New(ErrInvalidInput, "unknown content type %d", in.Type)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, oops.New(ErrInvalidInput, "content needs a title")
	}

	s.slugs.Lock()
	defer s.slugs.Unlock()

	slug, err := s.freeSlug(ctx, in.Title, 0)
	if err != nil {
		return nil, err
	}

	tree := doctree.New(doctree.Meta{
		Type:        in.Type,
		Licence:     in.Licence,
		Description: in.Description,
	}, slug, in.Title, in.Introduction, in.Conclusion)

	repo, err := s.Repos.Init(ctx, slug)
	if err != nil {
		return nil, err
	}
	sha, err := repo.Commit(ctx, "", doctree.ChangesFrom(nil, tree), "Create "+in.Title, s.signature(user))
	if err != nil {
		s.Repos.Remove(ctx, slug)
		return nil, err
	}

	c, err := s.Store.CreateContent(ctx, models.Content{
		Slug:        slug,
		Title:       in.Title,
		Type:        in.Type,
		Licence:     in.Licence,
		Description: in.Description,
		ShaDraft:    sha,
	}, user.ID)
	if err != nil {
		s.Repos.Remove(ctx, slug)
		return nil, oops.New(err, "failed to create content %s", slug)
	}

	logging.ExtractLogger(ctx).Info().
		Int("content", c.ID).
		Str("slug", slug).
		Str("commit", sha).
		Msg("created content")
	return c, nil
}

// freeSlug finds the slug a title gets, skipping those used by contents other
// than exceptID. Call with s.slugs held.
func (s *Service) freeSlug(ctx context.Context, title string, exceptID int) (string, error) {
	slug, err := models.Disambiguate(models.Slugify(title), func(candidate string) (bool, error) {
		return s.Store.ContentSlugTaken(ctx, candidate, exceptID)
	})
	if err != nil {
		return "", oops.New(err, "failed to find a slug for %q", title)
	}
	return slug, nil
}

func (s *Service) signature(user *models.User) gitstore.Signature {
	return gitstore.Signature{
		Name:  user.BestName(),
		Email: fmt.Sprintf("%s@%s", user.Username, commitEmailDomain),
		When:  s.Now(),
	}
}

// Get loads a content for a user allowed to read its draft.
func (s *Service) Get(ctx context.Context, user *models.User, id int) (*models.Content, error) {
	c, err := s.Store.GetContent(ctx, id)
	if err != nil {
		return nil, oops.New(err, "failed to load content %d", id)
	}
	canRead, err := s.Perms.CanReadDraft(ctx, user, c)
	if err := perms.Require(canRead, err, "user cannot read content %d", id); err != nil {
		return nil, err
	}
	return c, nil
}

// Draft loads the current draft tree.
func (s *Service) Draft(ctx context.Context, user *models.User, id int) (*models.Content, *doctree.Tree, error) {
	c, err := s.Get(ctx, user, id)
	if err != nil {
		return nil, nil, err
	}
	repo, err := s.Repos.Open(ctx, c.Slug)
	if err != nil {
		return nil, nil, err
	}
	tree, err := doctree.Load(ctx, doctree.AtCommit(repo, c.ShaDraft))
	if err != nil {
		return nil, nil, err
	}
	return c, tree, nil
}

// editable loads a content under its lock for a user allowed to change it.
// The caller must call unlock.
func (s *Service) editable(ctx context.Context, user *models.User, id int) (c *models.Content, unlock func(), err error) {
	release := s.locks.Lock(id)
	defer func() {
		if err != nil {
			release()
		}
	}()

	c, err = s.Store.GetContent(ctx, id)
	if err != nil {
		return nil, nil, oops.New(err, "failed to load content %d", id)
	}
	canEdit, err := s.Perms.CanEdit(ctx, user, c)
	if err := perms.Require(canEdit, err, "user cannot edit content %d", id); err != nil {
		return nil, nil, err
	}
	return c, release, nil
}

// SetBeta opens a commit of the content to beta readers.
func (s *Service) SetBeta(ctx context.Context, user *models.User, id int, commit string) error {
	c, unlock, err := s.editable(ctx, user, id)
	if err != nil {
		return err
	}
	defer unlock()

	repo, err := s.Repos.Open(ctx, c.Slug)
	if err != nil {
		return err
	}
	if ok, err := repo.HasCommit(ctx, commit); err != nil {
		return err
	} else if !ok {
		return oops.New(models.ErrUnknownVersion, "commit %s is not in the history of %s", commit, c.Slug)
	}
	if err := s.Store.SetBeta(ctx, id, &commit); err != nil {
		return oops.New(err, "failed to set beta of content %d", id)
	}
	logging.ExtractLogger(ctx).Info().Int("content", id).Str("commit", commit).Msg("opened beta")
	return nil
}

func (s *Service) ClearBeta(ctx context.Context, user *models.User, id int) error {
	_, unlock, err := s.editable(ctx, user, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.Store.SetBeta(ctx, id, nil); err != nil {
		return oops.New(err, "failed to clear beta of content %d", id)
	}
	logging.ExtractLogger(ctx).Info().Int("content", id).Msg("closed beta")
	return nil
}

func (s *Service) AddAuthor(ctx context.Context, user *models.User, id, authorID int) error {
	_, unlock, err := s.editable(ctx, user, id)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := s.Store.GetUser(ctx, authorID); err != nil {
		return oops.New(err, "failed to load user %d", authorID)
	}
	if err := s.Store.AddAuthor(ctx, id, authorID); err != nil {
		return oops.New(err, "failed to add author %d to content %d", authorID, id)
	}
	logging.ExtractLogger(ctx).Info().Int("content", id).Int("author", authorID).Msg("added author")
	return nil
}

// RemoveAuthor takes an author off a content. Authors may always remove
// themselves. A content left without authors is deleted.
func (s *Service) RemoveAuthor(ctx context.Context, user *models.User, id, authorID int) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.Store.GetContent(ctx, id)
	if err != nil {
		return oops.New(err, "failed to load content %d", id)
	}
	if user == nil || user.ID != authorID {
		canEdit, err := s.Perms.CanEdit(ctx, user, c)
		if err := perms.Require(canEdit, err, "user cannot edit content %d", id); err != nil {
			return err
		}
	}

	remaining, err := s.Store.RemoveAuthor(ctx, id, authorID)
	if err != nil {
		return oops.New(err, "failed to remove author %d from content %d", authorID, id)
	}
	logging.ExtractLogger(ctx).Info().Int("content", id).Int("author", authorID).Msg("removed author")

	if remaining == 0 {
		return s.delete(ctx, c)
	}
	return nil
}

// Delete removes a content entirely: its publications, its repository, and
// its rows. An open validation is canceled first.
func (s *Service) Delete(ctx context.Context, user *models.User, id int) error {
	c, unlock, err := s.editable(ctx, user, id)
	if err != nil {
		return err
	}
	defer unlock()
	return s.delete(ctx, c)
}

func (s *Service) delete(ctx context.Context, c *models.Content) error {
	logger := logging.ExtractLogger(ctx).With().Int("content", c.ID).Str("slug", c.Slug).Logger()

	canceled, err := contentdata.CancelActiveValidation(ctx, s.Store, c.ID, s.Now())
	if err != nil {
		return err
	}
	if canceled {
		logger.Info().Msg("canceled validation of deleted content")
	}

	if s.Publications != nil {
		if err := s.Publications.Unpublish(ctx, c.ID); err != nil {
			return oops.New(err, "failed to unpublish content %d", c.ID)
		}
	}
	if err := s.Repos.Remove(ctx, c.Slug); err != nil {
		return err
	}
	if err := s.Store.DeleteContent(ctx, c.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return oops.New(err, "failed to delete content %d", c.ID)
	}

	logger.Info().Msg("deleted content")
	return nil
}

// History lists the commits of a content, newest first.
func (s *Service) History(ctx context.Context, user *models.User, id int) ([]gitstore.CommitInfo, error) {
	c, err := s.Get(ctx, user, id)
	if err != nil {
		return nil, err
	}
	repo, err := s.Repos.Open(ctx, c.Slug)
	if err != nil {
		return nil, err
	}
	return repo.ListCommits(ctx)
}

// Diff lists the files that changed between two commits of a content.
func (s *Service) Diff(ctx context.Context, user *models.User, id int, from, to string) ([]gitstore.FileChange, error) {
	c, err := s.Get(ctx, user, id)
	if err != nil {
		return nil, err
	}
	repo, err := s.Repos.Open(ctx, c.Slug)
	if err != nil {
		return nil, err
	}
	for _, sha := range []string{from, to} {
		if ok, err := repo.HasCommit(ctx, sha); err != nil {
			return nil, err
		} else if !ok {
			return nil, oops.New(models.ErrUnknownVersion, "commit %s is not in the history of %s", sha, c.Slug)
		}
	}
	return repo.Diff(ctx, from, to)
}
