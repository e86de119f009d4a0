package gitstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"git.handmade.network/hmn/tutorials/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var author = Signature{Name: "Ryan", Email: "ryan@example.com"}

func providers(t *testing.T) map[string]Provider {
	return map[string]Provider{
		"memory": NewMemoryProvider(),
		"disk":   &DiskProvider{Root: t.TempDir(), CacheMiB: 1},
	}
}

func TestCommitAndRead(t *testing.T) {
	ctx := context.Background()
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			repo, err := p.Init(ctx, "intro")
			require.NoError(t, err)

			c1, err := repo.Commit(ctx, "", []Change{
				{Path: ManifestPath, Content: []byte(`{"version":2}`)},
				{Path: "introduction.md", Content: []byte("hello")},
				{Path: "part-1/chapter-1/e1.md", Content: []byte("deep")},
			}, "Initial commit", author)
			require.NoError(t, err)
			assert.Len(t, c1, 40)

			manifest, err := repo.ReadManifest(ctx, c1)
			require.NoError(t, err)
			assert.Equal(t, `{"version":2}`, string(manifest))

			deep, err := repo.ReadFile(ctx, c1, "part-1/chapter-1/e1.md")
			require.NoError(t, err)
			assert.Equal(t, "deep", string(deep))

			c2, err := repo.Commit(ctx, c1, []Change{
				{Path: "introduction.md", Content: []byte("hello again")},
				{Path: "part-1/chapter-1/e1.md", Delete: true},
				{Path: "conclusion.md", Content: []byte("bye")},
			}, "Edit", author)
			require.NoError(t, err)
			assert.NotEqual(t, c1, c2)

			// old commit is untouched
			old, err := repo.ReadFile(ctx, c1, "introduction.md")
			require.NoError(t, err)
			assert.Equal(t, "hello", string(old))

			_, err = repo.ReadFile(ctx, c2, "part-1/chapter-1/e1.md")
			assert.ErrorIs(t, err, models.ErrNotFound)

			files, err := repo.Files(ctx, c2, "")
			require.NoError(t, err)
			assert.Equal(t, map[string][]byte{
				ManifestPath:      []byte(`{"version":2}`),
				"introduction.md": []byte("hello again"),
				"conclusion.md":   []byte("bye"),
			}, files)

			head, err := repo.Head()
			require.NoError(t, err)
			assert.Equal(t, c2, head)

			reopened, err := p.Open(ctx, "intro")
			require.NoError(t, err)
			again, err := reopened.ReadFile(ctx, c2, "conclusion.md")
			require.NoError(t, err)
			assert.Equal(t, "bye", string(again))
		})
	}
}

func TestNothingToCommit(t *testing.T) {
	ctx := context.Background()
	repo, err := NewMemoryProvider().Init(ctx, "same")
	require.NoError(t, err)

	c1, err := repo.Commit(ctx, "", []Change{{Path: "a.md", Content: []byte("a")}}, "one", author)
	require.NoError(t, err)

	c2, err := repo.Commit(ctx, c1, []Change{{Path: "a.md", Content: []byte("a")}}, "two", author)
	assert.ErrorIs(t, err, ErrNothingToCommit)
	assert.Equal(t, c1, c2)
}

func TestMissingThings(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	repo, err := p.Init(ctx, "intro")
	require.NoError(t, err)
	c1, err := repo.Commit(ctx, "", []Change{{Path: "a.md", Content: []byte("a")}}, "one", author)
	require.NoError(t, err)

	t.Run("malformed commit", func(t *testing.T) {
		_, err := repo.ReadManifest(ctx, "not-a-sha")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
	t.Run("unknown commit", func(t *testing.T) {
		_, err := repo.ReadManifest(ctx, strings.Repeat("a", 40))
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
	t.Run("missing manifest", func(t *testing.T) {
		_, err := repo.ReadManifest(ctx, c1)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
	t.Run("missing repository", func(t *testing.T) {
		_, err := p.Open(ctx, "nope")
		assert.ErrorIs(t, err, models.ErrIO)

		disk := &DiskProvider{Root: t.TempDir()}
		_, err = disk.Open(ctx, "nope")
		assert.ErrorIs(t, err, models.ErrIO)
	})
	t.Run("unknown parent", func(t *testing.T) {
		_, err := repo.Commit(ctx, strings.Repeat("b", 40), nil, "x", author)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestHistoryAndDiff(t *testing.T) {
	ctx := context.Background()
	repo, err := NewMemoryProvider().Init(ctx, "hist")
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sig := func(i int) Signature {
		s := author
		s.When = base.Add(time.Duration(i) * time.Hour)
		return s
	}

	c1, err := repo.Commit(ctx, "", []Change{{Path: "a.md", Content: []byte("a")}, {Path: "b.md", Content: []byte("b")}}, "one", sig(1))
	require.NoError(t, err)
	c2, err := repo.Commit(ctx, c1, []Change{{Path: "a.md", Content: []byte("A")}, {Path: "b.md", Delete: true}, {Path: "d/c.md", Content: []byte("c")}}, "two", sig(2))
	require.NoError(t, err)

	commits, err := repo.ListCommits(ctx)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, c2, commits[0].ID)
	assert.Equal(t, c1, commits[1].ID)
	assert.Equal(t, []string{c1}, commits[0].Parents)
	assert.Equal(t, "two", commits[0].Message)

	diff, err := repo.Diff(ctx, c1, c2)
	require.NoError(t, err)
	assert.Equal(t, []FileChange{
		{Path: "a.md", Action: Modify},
		{Path: "b.md", Action: Delete},
		{Path: "d/c.md", Action: Insert},
	}, diff)

	ok, err := repo.HasCommit(ctx, c1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.HasCommit(ctx, strings.Repeat("c", 40))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProviderRenameRemove(t *testing.T) {
	ctx := context.Background()
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			repo, err := p.Init(ctx, "old-slug")
			require.NoError(t, err)
			c1, err := repo.Commit(ctx, "", []Change{{Path: "a.md", Content: []byte("a")}}, "one", author)
			require.NoError(t, err)

			_, err = p.Init(ctx, "old-slug")
			assert.ErrorIs(t, err, ErrRepoExists)

			require.NoError(t, p.Rename(ctx, "old-slug", "new-slug"))
			_, err = p.Open(ctx, "old-slug")
			assert.ErrorIs(t, err, models.ErrIO)

			renamed, err := p.Open(ctx, "new-slug")
			require.NoError(t, err)
			data, err := renamed.ReadFile(ctx, c1, "a.md")
			require.NoError(t, err)
			assert.Equal(t, "a", string(data))

			require.NoError(t, p.Remove(ctx, "new-slug"))
			require.NoError(t, p.Remove(ctx, "new-slug"))
			_, err = p.Open(ctx, "new-slug")
			assert.ErrorIs(t, err, models.ErrIO)
		})
	}
}

func TestInvalidNames(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	for _, name := range []string{"", ".staging", "a/b", `a\b`} {
		_, err := p.Init(ctx, name)
		assert.Error(t, err, name)
	}
}
