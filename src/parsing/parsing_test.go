package parsing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdown(t *testing.T) {
	t.Run("fenced code blocks", func(t *testing.T) {
		t.Run("multiple lines", func(t *testing.T) {
			html, err := ParseMarkdown("```\nmultiple lines\n\tof code\n```", TutorialMarkdown)
			require.NoError(t, err)
			assert.Equal(t, 1, strings.Count(html, "<pre"))
			assert.Contains(t, html, `class="tutorial-code"`)
			assert.Contains(t, html, "multiple lines\n\tof code")
		})
		t.Run("with language", func(t *testing.T) {
			html, err := ParseMarkdown("```go\nfunc main() {\n\tfmt.Println(\"Hello, world!\")\n}\n```", TutorialMarkdown)
			require.NoError(t, err)
			assert.Equal(t, 1, strings.Count(html, "<pre"))
			assert.Contains(t, html, "Println")
			assert.Contains(t, html, "Hello, world!")
		})
	})

	t.Run("heading ids", func(t *testing.T) {
		html, err := ParseMarkdown("## Pointers and arrays", TutorialMarkdown)
		require.NoError(t, err)
		assert.Contains(t, html, `id="pointers-and-arrays"`)
	})

	t.Run("tables", func(t *testing.T) {
		html, err := ParseMarkdown("| a | b |\n|---|---|\n| 1 | 2 |\n", TutorialMarkdown)
		require.NoError(t, err)
		assert.Contains(t, html, "<table>")
	})
}

func TestMath(t *testing.T) {
	html, err := ParseMarkdown("Before\n\n$$\na < b\n$$\n\nAfter", TutorialMarkdown)
	require.NoError(t, err)
	assert.Contains(t, html, `<div class="math">`)
	assert.Contains(t, html, "a &lt; b")
	assert.Contains(t, html, "<p>After</p>")
}

func TestPlaintext(t *testing.T) {
	text, err := ParseMarkdown("# Title\n\nSome *emphasis* here.\n\n```\ncode\n```\n\nEnd", PlaintextMarkdown)
	require.NoError(t, err)
	assert.Equal(t, "Title Some emphasis here. End", text)
}

func TestHighlightCSS(t *testing.T) {
	css, err := HighlightCSS()
	require.NoError(t, err)
	assert.Contains(t, css, ".chroma")
}
