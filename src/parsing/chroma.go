package parsing

import (
	"strings"

	"git.handmade.network/hmn/tutorials/src/oops"
	"github.com/alecthomas/chroma/formatters/html"
	"github.com/alecthomas/chroma/styles"
)

// Highlighted code uses CSS classes; the stylesheet ships with the HTML
// edition. The wrapper is written by the highlighting extension itself.
var ChromaOptions = []html.Option{
	html.WithClasses(true),
	html.WithLineNumbers(false),
	html.WithPreWrapper(noPreWrapper{}),
}

type noPreWrapper struct{}

var _ html.PreWrapper = noPreWrapper{}

func (noPreWrapper) Start(code bool, styleAttr string) string { return "" }
func (noPreWrapper) End(code bool) string                     { return "" }

const highlightStyle = "github"

// HighlightCSS is the stylesheet for ChromaOptions' classes.
func HighlightCSS() (string, error) {
	var buf strings.Builder
	if err := html.New(ChromaOptions...).WriteCSS(&buf, styles.Get(highlightStyle)); err != nil {
		return "", oops.New(err, "failed to write highlight stylesheet")
	}
	return buf.String(), nil
}
