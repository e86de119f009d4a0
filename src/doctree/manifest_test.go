package doctree

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"git.handmade.network/hmn/tutorials/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadV1(t *testing.T) {
	ctx := context.Background()

	t.Run("big tutorial", func(t *testing.T) {
		src := MapSource{
			ManifestPath: []byte(`{
				"version": 1,
				"type": "BIG",
				"title": "Learning C",
				"licence": "CC BY-SA",
				"introduction": "introduction.md",
				"conclusion": "conclusion.md",
				"parts": [{
					"title": "Basics",
					"introduction": "basics/introduction.md",
					"chapters": [
						{"title": "Types", "extracts": [{"title": "Integers", "text": "basics/types/ints.md"}]},
						{"title": "Types", "extracts": []}
					]
				}]
			}`),
			"introduction.md":        []byte("Welcome"),
			"conclusion.md":          []byte("Done"),
			"basics/introduction.md": []byte("Basics intro"),
			"basics/types/ints.md":   []byte("int is 32 bits, usually"),
		}
		tree, err := Load(ctx, src)
		require.NoError(t, err)

		assert.Equal(t, Meta{Type: models.ContentTypeTutorial, Licence: "CC BY-SA", SchemaVersion: 1}, tree.Meta)
		assert.Equal(t, "learning-c", tree.Slug())
		assert.Equal(t, "Welcome", tree.Root.Introduction)

		node, err := tree.ResolvePath("basics", "types", "integers")
		require.NoError(t, err)
		assert.Equal(t, "int is 32 bits, usually", node.(*Extract).Text)

		_, err = tree.ResolvePath("basics", "types-1")
		assert.NoError(t, err)

		// written back in the current layout
		again, err := Load(ctx, MapSource(tree.Files()))
		require.NoError(t, err)
		assert.Equal(t, 2, again.Meta.SchemaVersion)
		assert.Equal(t, tree.Hash(), again.Hash())
	})

	t.Run("mini tutorial", func(t *testing.T) {
		src := MapSource{
			ManifestPath: []byte(`{
				"version": 1,
				"type": "MINI",
				"title": "Quick tip",
				"slug": "quick-tip",
				"chapter": {
					"introduction": "intro.md",
					"extracts": [{"title": "Only", "slug": "only", "text": "only.md"}]
				}
			}`),
			"intro.md": []byte("Chapter intro"),
			"only.md":  []byte("Only text"),
		}
		tree, err := Load(ctx, src)
		require.NoError(t, err)
		assert.Equal(t, models.ContentTypeTutorial, tree.Meta.Type)
		assert.Equal(t, "Chapter intro", tree.Root.Introduction)
		require.Len(t, tree.Root.Children, 1)
		assert.Equal(t, "Only text", tree.Root.Children[0].(*Extract).Text)
	})

	t.Run("single text article", func(t *testing.T) {
		src := MapSource{
			ManifestPath: []byte(`{"version": 1, "type": "ARTICLE", "title": "News", "text": "text.md"}`),
			"text.md":    []byte("Big news"),
		}
		tree, err := Load(ctx, src)
		require.NoError(t, err)
		assert.Equal(t, models.ContentTypeArticle, tree.Meta.Type)
		node, err := tree.ResolvePath("news")
		require.NoError(t, err)
		assert.Equal(t, "Big news", node.(*Extract).Text)
	})
}

func TestMalformedManifest(t *testing.T) {
	ctx := context.Background()
	cases := map[string]MapSource{
		"not json":        {ManifestPath: []byte(`{"version": 2,`)},
		"no version":      {ManifestPath: []byte(`{"type": "TUTORIAL", "object": "container"}`)},
		"unknown version": {ManifestPath: []byte(`{"version": 3}`)},
		"unknown type":    {ManifestPath: []byte(`{"version": 2, "type": "NOVEL", "object": "container"}`)},
		"unknown v1 type": {ManifestPath: []byte(`{"version": 1, "type": "HUGE"}`)},
		"unknown object":  {ManifestPath: []byte(`{"version": 2, "type": "ARTICLE", "object": "container", "slug": "a", "children": [{"object": "image", "slug": "x"}]}`)},
		"missing text":    {ManifestPath: []byte(`{"version": 2, "type": "ARTICLE", "object": "container", "slug": "a", "introduction": "gone.md"}`)},
		"duplicate slugs": {ManifestPath: []byte(`{"version": 2, "type": "ARTICLE", "object": "container", "slug": "a", "children": [{"object": "extract", "slug": "x"}, {"object": "extract", "slug": "x"}]}`)},
		"mixed children":  {ManifestPath: []byte(`{"version": 2, "type": "TUTORIAL", "object": "container", "slug": "a", "children": [{"object": "extract", "slug": "x"}, {"object": "container", "slug": "y"}]}`)},
		"reserved slug":   {ManifestPath: []byte(`{"version": 2, "type": "ARTICLE", "object": "container", "slug": "a", "children": [{"object": "extract", "slug": "introduction"}]}`)},
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(ctx, src)
			assert.ErrorIs(t, err, models.ErrMalformedManifest)
		})
	}

	t.Run("missing manifest", func(t *testing.T) {
		_, err := Load(ctx, MapSource{})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestDirSource(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	tree := bigTutorial(t)
	for p, data := range tree.Files() {
		require.NoError(t, writeTestFile(dir, p, data))
	}

	loaded, err := Load(ctx, DirSource(dir))
	require.NoError(t, err)
	assert.Equal(t, tree, loaded)

	_, err = DirSource(dir).ReadFile(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func writeTestFile(dir, p string, data []byte) error {
	full := filepath.Join(dir, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}
