package parsing

import (
	gohtml "html"
	"strings"

	"github.com/yuin/goldmark"
	gast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// Display math is a block fenced by lines holding only "$$". The source is
// passed through untouched for MathJax in the browser and for pandoc.

type mathBlockParser struct{}

var _ parser.BlockParser = mathBlockParser{}

func isMathFence(line []byte) bool {
	return strings.TrimSpace(string(line)) == "$$"
}

func (mathBlockParser) Trigger() []byte {
	return []byte{'$'}
}

func (mathBlockParser) Open(parent gast.Node, reader text.Reader, pc parser.Context) (gast.Node, parser.State) {
	line, _ := reader.PeekLine()
	if !isMathFence(line) {
		return nil, parser.NoChildren
	}
	return &MathBlock{}, parser.NoChildren
}

func (mathBlockParser) Continue(node gast.Node, reader text.Reader, pc parser.Context) parser.State {
	line, _ := reader.PeekLine()
	if line == nil {
		return parser.Close
	}
	if isMathFence(line) {
		reader.Advance(len(line))
		return parser.Close
	}
	node.(*MathBlock).Source += string(line)
	return parser.Continue | parser.NoChildren
}

func (mathBlockParser) Close(node gast.Node, reader text.Reader, pc parser.Context) {}

func (mathBlockParser) CanInterruptParagraph() bool {
	return true
}

func (mathBlockParser) CanAcceptIndentedLine() bool {
	return false
}

type MathBlock struct {
	gast.BaseBlock
	Source string
}

var KindMathBlock = gast.NewNodeKind("MathBlock")

func (n *MathBlock) Kind() gast.NodeKind {
	return KindMathBlock
}

func (n *MathBlock) Dump(source []byte, level int) {
	gast.DumpHelper(n, source, level, map[string]string{"Source": n.Source}, nil)
}

type mathHTMLRenderer struct {
	html.Config
}

func (r *mathHTMLRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindMathBlock, r.render)
}

func (r *mathHTMLRenderer) render(w util.BufWriter, source []byte, n gast.Node, entering bool) (gast.WalkStatus, error) {
	if entering {
		w.WriteString(`<div class="math">` + "\n$$\n")
		w.WriteString(gohtml.EscapeString(n.(*MathBlock).Source))
		w.WriteString("$$\n</div>\n")
	}
	return gast.WalkSkipChildren, nil
}

type MathjaxExtension struct{}

func (MathjaxExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithBlockParsers(
		util.Prioritized(mathBlockParser{}, 500),
	))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(&mathHTMLRenderer{Config: html.NewConfig()}, 500),
	))
}
