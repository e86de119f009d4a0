package doctree

import (
	"strings"
)

// Markdown assembles the whole document into a single Markdown text, with
// each node's title as a heading one level below its parent's.
func (t *Tree) Markdown() string {
	var b strings.Builder
	writeContainer(&b, t.Root, 1)
	return strings.TrimSpace(b.String()) + "\n"
}

func writeContainer(b *strings.Builder, c *Container, level int) {
	writeHeading(b, c.Title, level)
	writeBlock(b, c.Introduction)
	for _, ch := range c.Children {
		switch ch := ch.(type) {
		case *Container:
			writeContainer(b, ch, level+1)
		case *Extract:
			writeHeading(b, ch.Title, level+1)
			writeBlock(b, ch.Text)
		}
	}
	writeBlock(b, c.Conclusion)
}

func writeHeading(b *strings.Builder, title string, level int) {
	b.WriteString(strings.Repeat("#", min(level, 6)))
	b.WriteByte(' ')
	b.WriteString(strings.TrimSpace(title))
	b.WriteString("\n\n")
}

func writeBlock(b *strings.Builder, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.WriteString(text)
	b.WriteString("\n\n")
}
