package parsing

import (
	"io"
	"regexp"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
)

type plaintextRenderer struct{}

var _ renderer.Renderer = plaintextRenderer{}

var backslashRegex = regexp.MustCompile("\\\\(?P<char>[\\\\\\x60!\"#$%&'()*+,-./:;<=>?@\\[\\]^_{|}~])")

// Writes only the text of the document, one space between blocks. Code and
// math are dropped.
func (r plaintextRenderer) Render(w io.Writer, source []byte, n ast.Node) error {
	return ast.Walk(n, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		var out []byte
		switch n.Kind() {
		case ast.KindFencedCodeBlock, ast.KindCodeBlock, KindMathBlock:
			return ast.WalkSkipChildren, nil
		case ast.KindText:
			t := n.(*ast.Text)
			out = backslashRegex.ReplaceAll(t.Text(source), []byte("$1"))
			if t.SoftLineBreak() {
				out = append(out, ' ')
			}
		case ast.KindParagraph, ast.KindHeading:
			if n.PreviousSibling() != nil {
				out = []byte(" ")
			}
		}

		if _, err := w.Write(out); err != nil {
			return ast.WalkStop, err
		}
		return ast.WalkContinue, nil
	})
}

func (r plaintextRenderer) AddOptions(...renderer.Option) {}
