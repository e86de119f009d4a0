// Package parsing configures goldmark for tutorial text.
package parsing

import (
	"bytes"
	"io"

	"git.handmade.network/hmn/tutorials/src/oops"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/util"
)

// Used for the published HTML edition.
var TutorialMarkdown = goldmark.New(
	goldmark.WithExtensions(makeGoldmarkExtensions()...),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

// Used for plain-text summaries, like the description in the HTML head.
var PlaintextMarkdown = goldmark.New(
	goldmark.WithExtensions(makeGoldmarkExtensions()...),
	goldmark.WithRenderer(plaintextRenderer{}),
)

func Render(w io.Writer, source []byte, md goldmark.Markdown) error {
	if err := md.Convert(source, w); err != nil {
		return oops.New(err, "failed to render markdown")
	}
	return nil
}

func ParseMarkdown(source string, md goldmark.Markdown) (string, error) {
	var buf bytes.Buffer
	if err := Render(&buf, []byte(source), md); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func makeGoldmarkExtensions() []goldmark.Extender {
	return []goldmark.Extender{
		extension.GFM,
		extension.Footnote,
		extension.Typographer,
		highlightExtension,
		MathjaxExtension{},
	}
}

var highlightExtension = highlighting.NewHighlighting(
	highlighting.WithFormatOptions(ChromaOptions...),
	highlighting.WithWrapperRenderer(func(w util.BufWriter, context highlighting.CodeBlockContext, entering bool) {
		if entering {
			w.WriteString(`<pre class="tutorial-code">`)
		} else {
			w.WriteString(`</pre>`)
		}
	}),
)
