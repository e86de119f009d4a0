package publication

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"git.handmade.network/hmn/tutorials/src/artifacts"
	"git.handmade.network/hmn/tutorials/src/contentdata"
	"git.handmade.network/hmn/tutorials/src/doctree"
	"git.handmade.network/hmn/tutorials/src/gitstore"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/perms"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	mu   sync.Mutex
	fail map[models.ArtifactKind]bool
}

func (r *fakeRenderer) Kinds() []models.ArtifactKind {
	return []models.ArtifactKind{models.ArtifactHTML, models.ArtifactZIP, models.ArtifactPDF}
}

func (r *fakeRenderer) Render(ctx context.Context, doc *artifacts.Document, kind models.ArtifactKind) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[kind] {
		return nil, &artifacts.ArtifactError{Kind: kind, Err: errors.New("toolchain exploded")}
	}
	return []byte(fmt.Sprintf("%s of %s at %s", kind, doc.PublicSlug, doc.Commit)), nil
}

func (r *fakeRenderer) setFailing(kind models.ArtifactKind, failing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[kind] = failing
}

type fixture struct {
	ctx       context.Context
	store     *contentdata.Memory
	repos     *gitstore.MemoryProvider
	renderer  *fakeRenderer
	svc       *Service
	now       time.Time
	author    *models.User
	validator *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		store:    contentdata.NewMemory(),
		repos:    gitstore.NewMemoryProvider(),
		renderer: &fakeRenderer{fail: map[models.ArtifactKind]bool{}},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	var err error
	f.author, err = f.store.CreateUser(f.ctx, models.User{Username: "ada", Name: "Ada Lovelace"})
	require.NoError(t, err)
	f.validator, err = f.store.CreateUser(f.ctx, models.User{Username: "grace", IsValidator: true})
	require.NoError(t, err)

	f.svc = &Service{
		Store:      f.store,
		Repos:      f.repos,
		Renderer:   f.renderer,
		Gallery:    artifacts.NoGallery{},
		Perms:      perms.Roles{Authors: f.store},
		PublicRoot: t.TempDir(),
		Retry:      RetryPolicy{Min: time.Minute, Max: time.Hour, Attempts: 3},
		sizes:      expirable.NewLRU[sizeKey, int64](100, nil, 0),
	}
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

type draft struct {
	content *models.Content
	repo    *gitstore.Repo
	tree    *doctree.Tree
}

// newContent commits a one-extract tutorial with an image and creates its row.
func (f *fixture) newContent(t *testing.T, slug, title string) *draft {
	t.Helper()
	repo, err := f.repos.Init(f.ctx, slug)
	require.NoError(t, err)

	tree := doctree.New(doctree.Meta{Type: models.ContentTypeTutorial, Licence: "CC BY"}, slug, title, "Welcome.", "Goodbye.")
	mut, err := tree.AddExtract(nil, "Pointers", "![diagram](images/diagram.png)")
	require.NoError(t, err)
	changes := append(doctree.ChangesFrom(nil, mut.Tree), gitstore.Change{Path: "images/diagram.png", Content: []byte("png bytes")})
	sha, err := repo.Commit(f.ctx, "", changes, "Create", f.signature())
	require.NoError(t, err)

	c, err := f.store.CreateContent(f.ctx, models.Content{
		Slug:     slug,
		Title:    title,
		Type:     models.ContentTypeTutorial,
		ShaDraft: sha,
	}, f.author.ID)
	require.NoError(t, err)
	return &draft{content: c, repo: repo, tree: mut.Tree}
}

// retitle commits a root title change and returns the new commit.
func (f *fixture) retitle(t *testing.T, d *draft, title string) string {
	t.Helper()
	mut, err := d.tree.EditContainer(nil, title, d.tree.Root.Introduction, d.tree.Root.Conclusion)
	require.NoError(t, err)
	sha, err := d.repo.Commit(f.ctx, d.content.ShaDraft, mut.Changes, "Retitle", f.signature())
	require.NoError(t, err)
	require.NoError(t, f.store.AdvanceDraft(f.ctx, d.content.ID, d.content.ShaDraft, sha))
	d.content.ShaDraft = sha
	d.tree = mut.Tree
	return sha
}

// reword commits a new text for the tutorial's only extract.
func (f *fixture) reword(t *testing.T, d *draft, text string) string {
	t.Helper()
	mut, err := d.tree.EditExtract([]string{"pointers"}, "Pointers", text)
	require.NoError(t, err)
	sha, err := d.repo.Commit(f.ctx, d.content.ShaDraft, mut.Changes, "Edit", f.signature())
	require.NoError(t, err)
	require.NoError(t, f.store.AdvanceDraft(f.ctx, d.content.ID, d.content.ShaDraft, sha))
	d.content.ShaDraft = sha
	d.tree = mut.Tree
	return sha
}

func (f *fixture) signature() gitstore.Signature {
	return gitstore.Signature{Name: "Ada Lovelace", Email: "ada@example.com", When: f.now}
}

func (f *fixture) content(t *testing.T, id int) *models.Content {
	t.Helper()
	c, err := f.store.GetContent(f.ctx, id)
	require.NoError(t, err)
	return c
}

func readPublic(t *testing.T, f *fixture, rel ...string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(append([]string{f.svc.PublicRoot}, rel...)...))
	require.NoError(t, err)
	return string(data)
}

func publicEntries(t *testing.T, f *fixture) []string {
	t.Helper()
	entries, err := os.ReadDir(f.svc.PublicRoot)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestPublish(t *testing.T) {
	t.Run("first publication", func(t *testing.T) {
		f := newFixture(t)
		f.renderer.setFailing(models.ArtifactPDF, true)
		d := f.newContent(t, "learning-c", "Learning C")

		res, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
		require.NoError(t, err)

		pub := res.Published
		assert.Equal(t, "learning-c", pub.PublicSlug)
		assert.Equal(t, "Learning C", pub.Title)
		assert.Equal(t, d.content.ShaDraft, pub.ShaPublic)
		assert.Equal(t, f.now, pub.PublicationDate)
		assert.Nil(t, pub.UpdateDate)
		assert.False(t, pub.MustRedirect)

		require.Len(t, res.Failed, 1)
		assert.Equal(t, models.ArtifactPDF, res.Failed[0].Kind)
		assert.ErrorIs(t, res.Failed[0], models.ErrArtifactFailed)

		c := f.content(t, d.content.ID)
		require.NotNil(t, c.PublicVersionID)
		assert.Equal(t, pub.ID, *c.PublicVersionID)
		require.NotNil(t, c.ShaPublic)
		assert.Equal(t, d.content.ShaDraft, *c.ShaPublic)

		assert.Equal(t, "html of learning-c at "+pub.ShaPublic, readPublic(t, f, "learning-c", "learning-c.html"))
		assert.Contains(t, readPublic(t, f, "learning-c", "learning-c.md"), "extra/images/diagram.png")
		assert.Equal(t, "png bytes", readPublic(t, f, "learning-c", "extra", "images", "diagram.png"))
		assert.Equal(t, readPublic(t, f, "learning-c", SourceDir, doctree.ManifestPath), readPublic(t, f, "learning-c", doctree.ManifestPath))
		_, err = os.Stat(f.svc.ArtifactPath(pub, models.ArtifactPDF))
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.Equal(t, []string{"learning-c"}, publicEntries(t, f))

		tree, err := f.svc.LoadPublished(f.ctx, "learning-c")
		require.NoError(t, err)
		assert.Equal(t, d.tree.Hash(), tree.Hash())

		failures, err := f.store.ListArtifactFailures(f.ctx, pub.ID)
		require.NoError(t, err)
		require.Len(t, failures, 1)
		assert.Equal(t, models.ArtifactPDF, failures[0].Kind)
		assert.Equal(t, f.now.Add(time.Minute), failures[0].NextAttempt)
	})

	t.Run("minor update keeps slug and date", func(t *testing.T) {
		f := newFixture(t)
		d := f.newContent(t, "learning-c", "Learning C")
		first, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
		require.NoError(t, err)

		firstDate := f.now
		f.now = f.now.Add(24 * time.Hour)
		mut, err := d.tree.EditExtract([]string{"pointers"}, "Pointers", "Now with arithmetic.")
		require.NoError(t, err)
		sha, err := d.repo.Commit(f.ctx, d.content.ShaDraft, mut.Changes, "Edit", f.signature())
		require.NoError(t, err)

		second, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: sha})
		require.NoError(t, err)
		assert.Equal(t, "learning-c", second.Published.PublicSlug)
		assert.Equal(t, firstDate, second.Published.PublicationDate)
		require.NotNil(t, second.Published.UpdateDate)
		assert.Equal(t, f.now, *second.Published.UpdateDate)

		old, err := f.store.GetPublished(f.ctx, first.Published.ID)
		require.NoError(t, err)
		assert.True(t, old.MustRedirect)

		assert.Equal(t, "html of learning-c at "+sha, readPublic(t, f, "learning-c", "learning-c.html"))
		assert.Equal(t, []string{"learning-c"}, publicEntries(t, f))
	})

	t.Run("major update resets date", func(t *testing.T) {
		f := newFixture(t)
		d := f.newContent(t, "learning-c", "Learning C")
		_, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
		require.NoError(t, err)

		f.now = f.now.Add(24 * time.Hour)
		res, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft, MajorUpdate: true})
		require.NoError(t, err)
		assert.Equal(t, f.now, res.Published.PublicationDate)
	})

	t.Run("title change moves the slug", func(t *testing.T) {
		f := newFixture(t)
		d := f.newContent(t, "learning-c", "Learning C")
		first, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
		require.NoError(t, err)

		sha := f.retitle(t, d, "Learning C in Depth")
		second, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: sha})
		require.NoError(t, err)
		assert.Equal(t, "learning-c-in-depth", second.Published.PublicSlug)

		// The old directory stays so the old slug can redirect.
		assert.Equal(t, []string{"learning-c", "learning-c-in-depth"}, publicEntries(t, f))
		assert.Equal(t, "html of learning-c at "+first.Published.ShaPublic, readPublic(t, f, "learning-c", "learning-c.html"))

		tree, err := f.svc.LoadPublished(f.ctx, "learning-c-in-depth")
		require.NoError(t, err)
		assert.Equal(t, "learning-c-in-depth", tree.Slug())
		assert.Equal(t, "Learning C in Depth", tree.Title())
	})

	t.Run("slug taken by another content", func(t *testing.T) {
		f := newFixture(t)
		a := f.newContent(t, "learning-c", "Learning C")
		b := f.newContent(t, "learning-c-again", "Learning C Again")
		_, err := f.svc.Publish(f.ctx, a.content.ID, PublishOptions{Commit: a.content.ShaDraft})
		require.NoError(t, err)

		sha := f.retitle(t, b, "Learning C")
		res, err := f.svc.Publish(f.ctx, b.content.ID, PublishOptions{Commit: sha})
		require.NoError(t, err)
		assert.Equal(t, "learning-c-1", res.Published.PublicSlug)

		again, err := f.svc.Publish(f.ctx, b.content.ID, PublishOptions{Commit: sha})
		require.NoError(t, err)
		assert.Equal(t, "learning-c-1", again.Published.PublicSlug)
	})

	t.Run("unknown commit", func(t *testing.T) {
		f := newFixture(t)
		d := f.newContent(t, "learning-c", "Learning C")
		_, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: "0123456789abcdef0123456789abcdef01234567"})
		assert.ErrorIs(t, err, models.ErrUnknownVersion)
		assert.Nil(t, f.content(t, d.content.ID).PublicVersionID)
	})

	t.Run("failed transaction restores the public directory", func(t *testing.T) {
		f := newFixture(t)
		d := f.newContent(t, "learning-c", "Learning C")
		first, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
		require.NoError(t, err)

		mut, err := d.tree.EditExtract([]string{"pointers"}, "Pointers", "Changed.")
		require.NoError(t, err)
		sha, err := d.repo.Commit(f.ctx, d.content.ShaDraft, mut.Changes, "Edit", f.signature())
		require.NoError(t, err)

		boom := errors.New("validation moved on")
		_, err = f.svc.Publish(f.ctx, d.content.ID, PublishOptions{
			Commit: sha,
			InTx: func(ctx context.Context, q contentdata.Queries, pub *models.PublishedContent) error {
				return boom
			},
		})
		assert.ErrorIs(t, err, boom)

		c := f.content(t, d.content.ID)
		assert.Equal(t, first.Published.ID, *c.PublicVersionID)
		assert.Equal(t, first.Published.ShaPublic, *c.ShaPublic)
		pubs, err := f.store.ListPublished(f.ctx, d.content.ID)
		require.NoError(t, err)
		require.Len(t, pubs, 1)
		assert.False(t, pubs[0].MustRedirect)

		assert.Equal(t, "html of learning-c at "+first.Published.ShaPublic, readPublic(t, f, "learning-c", "learning-c.html"))
		assert.Equal(t, []string{"learning-c"}, publicEntries(t, f))
	})

	t.Run("cleanup during a failed republication", func(t *testing.T) {
		f := newFixture(t)
		f.svc.StagingGrace = time.Hour
		d := f.newContent(t, "learning-c", "Learning C")
		first, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
		require.NoError(t, err)

		boom := errors.New("database went away")
		_, err = f.svc.Publish(f.ctx, d.content.ID, PublishOptions{
			Commit: d.content.ShaDraft,
			InTx: func(ctx context.Context, q contentdata.Queries, pub *models.PublishedContent) error {
				removed, err := f.svc.CleanStaleStaging(ctx)
				require.NoError(t, err)
				assert.Empty(t, removed, "the superseded directory is still in use")
				return boom
			},
		})
		assert.ErrorIs(t, err, boom)

		assert.Equal(t, first.Published.ID, *f.content(t, d.content.ID).PublicVersionID)
		assert.Equal(t, "html of learning-c at "+first.Published.ShaPublic, readPublic(t, f, "learning-c", "learning-c.html"))
		assert.Equal(t, []string{"learning-c"}, publicEntries(t, f))
	})

	t.Run("concurrent publications of one content", func(t *testing.T) {
		f := newFixture(t)
		d := f.newContent(t, "learning-c", "Learning C")

		var wg sync.WaitGroup
		errs := make([]error, 4)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			assert.NoError(t, err)
		}

		pubs, err := f.store.ListPublished(f.ctx, d.content.ID)
		require.NoError(t, err)
		require.Len(t, pubs, 4)
		live := 0
		for _, p := range pubs {
			if !p.MustRedirect {
				live++
				assert.Equal(t, p.ID, *f.content(t, d.content.ID).PublicVersionID)
			}
		}
		assert.Equal(t, 1, live)
		assert.Equal(t, []string{"learning-c"}, publicEntries(t, f))
	})
}

func TestRevoke(t *testing.T) {
	t.Run("reopens validation at the draft", func(t *testing.T) {
		f := newFixture(t)
		d := f.newContent(t, "learning-c", "Learning C")
		published := d.content.ShaDraft
		_, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: published})
		require.NoError(t, err)
		draftSha := f.retitle(t, d, "Learning C, Revised")

		err = f.svc.Revoke(f.ctx, f.validator, d.content.ID, "licence problem")
		require.NoError(t, err)

		c := f.content(t, d.content.ID)
		assert.Nil(t, c.PublicVersionID)
		assert.Nil(t, c.ShaPublic)
		require.NotNil(t, c.ShaValidation)
		assert.Equal(t, draftSha, *c.ShaValidation)

		v, err := f.store.ActiveValidation(f.ctx, d.content.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ValidationStatusPending, v.Status)
		assert.Equal(t, draftSha, v.Version)
		assert.Equal(t, "licence problem", v.CommentAuthor)

		pubs, err := f.store.ListPublished(f.ctx, d.content.ID)
		require.NoError(t, err)
		assert.Empty(t, pubs)
		assert.Empty(t, publicEntries(t, f))
	})

	t.Run("cancels the previous proposal", func(t *testing.T) {
		f := newFixture(t)
		d := f.newContent(t, "learning-c", "Learning C")
		_, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
		require.NoError(t, err)
		old, err := contentdata.OpenValidation(f.ctx, f.store, d.content.ID, d.content.ShaDraft, "please", f.now)
		require.NoError(t, err)

		require.NoError(t, f.svc.Revoke(f.ctx, f.validator, d.content.ID, "again"))

		old, err = f.store.GetValidation(f.ctx, old.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ValidationStatusCanceled, old.Status)
		active, err := f.store.ActiveValidation(f.ctx, d.content.ID)
		require.NoError(t, err)
		assert.NotEqual(t, old.ID, active.ID)
	})

	t.Run("authors cannot revoke", func(t *testing.T) {
		f := newFixture(t)
		d := f.newContent(t, "learning-c", "Learning C")
		_, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
		require.NoError(t, err)

		err = f.svc.Revoke(f.ctx, f.author, d.content.ID, "")
		assert.ErrorIs(t, err, models.ErrForbidden)
		assert.NotNil(t, f.content(t, d.content.ID).PublicVersionID)
		assert.Equal(t, []string{"learning-c"}, publicEntries(t, f))
	})

	t.Run("not published", func(t *testing.T) {
		f := newFixture(t)
		d := f.newContent(t, "learning-c", "Learning C")
		err := f.svc.Revoke(f.ctx, f.validator, d.content.ID, "")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestUnpublish(t *testing.T) {
	f := newFixture(t)
	d := f.newContent(t, "learning-c", "Learning C")
	_, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
	require.NoError(t, err)
	sha := f.retitle(t, d, "Learning C in Depth")
	_, err = f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: sha})
	require.NoError(t, err)
	require.Len(t, publicEntries(t, f), 2)

	require.NoError(t, f.svc.Unpublish(f.ctx, d.content.ID))

	c := f.content(t, d.content.ID)
	assert.Nil(t, c.PublicVersionID)
	assert.Nil(t, c.ShaPublic)
	assert.Nil(t, c.ShaValidation)
	pubs, err := f.store.ListPublished(f.ctx, d.content.ID)
	require.NoError(t, err)
	assert.Empty(t, pubs)
	assert.Empty(t, publicEntries(t, f))

	t.Run("nothing to do", func(t *testing.T) {
		assert.NoError(t, f.svc.Unpublish(f.ctx, d.content.ID))
	})
}

func TestArtifactSize(t *testing.T) {
	f := newFixture(t)
	f.renderer.setFailing(models.ArtifactPDF, true)
	d := f.newContent(t, "learning-c", "Learning C")
	res, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
	require.NoError(t, err)
	pub := res.Published
	html := readPublic(t, f, "learning-c", "learning-c.html")

	size, err := f.svc.ArtifactSize(f.ctx, pub, models.ArtifactHTML)
	require.NoError(t, err)
	assert.Equal(t, int64(len(html)), size)

	stored, err := f.store.GetArtifactSize(f.ctx, pub.ID, models.ArtifactHTML)
	require.NoError(t, err)
	assert.Equal(t, size, stored.Size)
	assert.Equal(t, pub.ShaPublic, stored.Sha)

	t.Run("cached", func(t *testing.T) {
		require.NoError(t, os.WriteFile(f.svc.ArtifactPath(pub, models.ArtifactHTML), []byte("x"), 0o644))
		again, err := f.svc.ArtifactSize(f.ctx, pub, models.ArtifactHTML)
		require.NoError(t, err)
		assert.Equal(t, size, again)
	})

	t.Run("missing edition", func(t *testing.T) {
		_, err := f.svc.ArtifactSize(f.ctx, pub, models.ArtifactPDF)
		assert.ErrorIs(t, err, models.ErrNotFound)

		sizes, err := f.svc.ArtifactSizes(f.ctx, pub)
		require.NoError(t, err)
		assert.Contains(t, sizes, models.ArtifactMarkdown)
		assert.Contains(t, sizes, models.ArtifactZIP)
		assert.NotContains(t, sizes, models.ArtifactPDF)
	})

	t.Run("purged on publication", func(t *testing.T) {
		_, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
		require.NoError(t, err)
		for _, key := range f.svc.sizes.Keys() {
			assert.NotEqual(t, d.content.ID, key.contentID)
		}
	})
}

func TestArtifactSizeOfSupersededPublication(t *testing.T) {
	f := newFixture(t)
	d := f.newContent(t, "learning-c", "Learning C")
	first, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
	require.NoError(t, err)

	sha := f.reword(t, d, "Now with arithmetic.")
	_, err = f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: sha})
	require.NoError(t, err)

	old, err := f.store.GetPublished(f.ctx, first.Published.ID)
	require.NoError(t, err)
	require.True(t, old.MustRedirect)

	_, err = f.svc.ArtifactSize(f.ctx, old, models.ArtifactHTML)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.store.GetArtifactSize(f.ctx, old.ID, models.ArtifactHTML)
	assert.ErrorIs(t, err, models.ErrNotFound, "nothing is recorded against the old commit")

	t.Run("moved slug still measures its own directory", func(t *testing.T) {
		sha := f.retitle(t, d, "Learning C in Depth")
		_, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: sha})
		require.NoError(t, err)

		pubs, err := f.store.ListPublished(f.ctx, d.content.ID)
		require.NoError(t, err)
		var previous *models.PublishedContent
		for _, p := range pubs {
			if p.PublicSlug == "learning-c" && p.ID != first.Published.ID {
				previous = p
			}
		}
		require.NotNil(t, previous)
		size, err := f.svc.ArtifactSize(f.ctx, previous, models.ArtifactHTML)
		require.NoError(t, err)
		assert.Equal(t, int64(len(readPublic(t, f, "learning-c", "learning-c.html"))), size)
	})
}

func TestRetryFailedArtifacts(t *testing.T) {
	t.Run("backs off then succeeds", func(t *testing.T) {
		f := newFixture(t)
		f.renderer.setFailing(models.ArtifactPDF, true)
		d := f.newContent(t, "learning-c", "Learning C")
		res, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
		require.NoError(t, err)
		pub := res.Published
		start := f.now

		fixed, err := f.svc.RetryFailedArtifacts(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, fixed, "nothing is due yet")

		f.now = start.Add(time.Minute)
		fixed, err = f.svc.RetryFailedArtifacts(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, fixed)
		failures, err := f.store.ListArtifactFailures(f.ctx, pub.ID)
		require.NoError(t, err)
		require.Len(t, failures, 1)
		assert.Equal(t, 2, failures[0].Attempts)
		assert.Equal(t, f.now.Add(2*time.Minute), failures[0].NextAttempt)

		f.renderer.setFailing(models.ArtifactPDF, false)
		f.now = failures[0].NextAttempt
		fixed, err = f.svc.RetryFailedArtifacts(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, fixed)

		assert.Equal(t, "pdf of learning-c at "+pub.ShaPublic, readPublic(t, f, "learning-c", "learning-c.pdf"))
		failures, err = f.store.ListArtifactFailures(f.ctx, pub.ID)
		require.NoError(t, err)
		assert.Empty(t, failures)

		size, err := f.svc.ArtifactSize(f.ctx, pub, models.ArtifactPDF)
		require.NoError(t, err)
		assert.Positive(t, size)
	})

	t.Run("a broken publication does not block the others", func(t *testing.T) {
		f := newFixture(t)
		f.renderer.setFailing(models.ArtifactPDF, true)
		a := f.newContent(t, "learning-c", "Learning C")
		b := f.newContent(t, "learning-go", "Learning Go")
		broken, err := f.svc.Publish(f.ctx, a.content.ID, PublishOptions{Commit: a.content.ShaDraft})
		require.NoError(t, err)
		healthy, err := f.svc.Publish(f.ctx, b.content.ID, PublishOptions{Commit: b.content.ShaDraft})
		require.NoError(t, err)

		require.NoError(t, os.RemoveAll(f.svc.PublicDir("learning-c")))
		f.renderer.setFailing(models.ArtifactPDF, false)

		f.now = f.now.Add(time.Minute)
		fixed, err := f.svc.RetryFailedArtifacts(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, fixed)

		failures, err := f.store.ListArtifactFailures(f.ctx, healthy.Published.ID)
		require.NoError(t, err)
		assert.Empty(t, failures)
		assert.Equal(t, "pdf of learning-go at "+healthy.Published.ShaPublic, readPublic(t, f, "learning-go", "learning-go.pdf"))

		failures, err = f.store.ListArtifactFailures(f.ctx, broken.Published.ID)
		require.NoError(t, err)
		require.Len(t, failures, 1)
		assert.Equal(t, 2, failures[0].Attempts)
		assert.True(t, failures[0].NextAttempt.After(f.now))
	})

	t.Run("gives up", func(t *testing.T) {
		f := newFixture(t)
		f.renderer.setFailing(models.ArtifactPDF, true)
		d := f.newContent(t, "learning-c", "Learning C")
		res, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			f.now = f.now.Add(time.Hour)
			_, err := f.svc.RetryFailedArtifacts(f.ctx)
			require.NoError(t, err)
		}
		failures, err := f.store.ListArtifactFailures(f.ctx, res.Published.ID)
		require.NoError(t, err)
		assert.Empty(t, failures)
	})

	t.Run("superseded publications are dropped", func(t *testing.T) {
		f := newFixture(t)
		f.renderer.setFailing(models.ArtifactPDF, true)
		d := f.newContent(t, "learning-c", "Learning C")
		first, err := f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
		require.NoError(t, err)
		f.renderer.setFailing(models.ArtifactPDF, false)
		_, err = f.svc.Publish(f.ctx, d.content.ID, PublishOptions{Commit: d.content.ShaDraft})
		require.NoError(t, err)

		f.now = f.now.Add(time.Hour)
		fixed, err := f.svc.RetryFailedArtifacts(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, fixed)
		failures, err := f.store.ListArtifactFailures(f.ctx, first.Published.ID)
		require.NoError(t, err)
		assert.Empty(t, failures)
	})
}

func TestCleanStaleStaging(t *testing.T) {
	f := newFixture(t)
	f.svc.StagingGrace = time.Hour

	old := f.svc.tempName(stagingPrefix)
	f.now = f.now.Add(30 * time.Minute)
	recent := f.svc.tempName(supersededPrefix)
	for _, dir := range []string{old, recent, ".staging-abc", "learning-c"} {
		require.NoError(t, os.MkdirAll(filepath.Join(f.svc.PublicRoot, dir, "extra"), 0o755))
	}

	removed, err := f.svc.CleanStaleStaging(f.ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".staging-abc"}, removed, "directories within the grace period stay")

	f.now = f.now.Add(45 * time.Minute)
	removed, err = f.svc.CleanStaleStaging(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{old}, removed)

	f.now = f.now.Add(time.Hour)
	removed, err = f.svc.CleanStaleStaging(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{recent}, removed)
	assert.Equal(t, []string{"learning-c"}, publicEntries(t, f))

	t.Run("missing root", func(t *testing.T) {
		svc := &Service{PublicRoot: filepath.Join(t.TempDir(), "nope")}
		removed, err := svc.CleanStaleStaging(f.ctx)
		assert.NoError(t, err)
		assert.Empty(t, removed)
	})
}

func TestIsVariantOf(t *testing.T) {
	cases := []struct {
		slug, base string
		want       bool
	}{
		{"learning-c", "learning-c", true},
		{"learning-c-1", "learning-c", true},
		{"learning-c-12", "learning-c", true},
		{"learning-c-0", "learning-c", false},
		{"learning-c-in-depth", "learning-c", false},
		{"learning-go", "learning-c", false},
		{"c", "learning-c", false},
	}
	for _, c := range cases {
		t.Run(c.slug, func(t *testing.T) {
			assert.Equal(t, c.want, isVariantOf(c.slug, c.base))
		})
	}
}
