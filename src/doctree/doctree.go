// Package doctree is the in-memory shape of a tutorial or article at one
// commit: an ordered tree of containers whose leaves are extracts.
//
// Trees are values. Nothing in this package mutates a loaded tree; every
// mutation returns a new Tree sharing the untouched subtrees with the old one.
package doctree

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"path"
	"strings"

	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
)

var (
	ErrMixedChildren = errors.New("a container holds either containers or extracts, not both")
	ErrTooDeep       = errors.New("containers are nested too deeply for this content type")
)

// Names that a node's slug can never take, since they would collide with the
// files and directories a container writes for itself.
var reservedSlugs = map[string]bool{
	"introduction": true,
	"conclusion":   true,
	"manifest":     true,
	"images":       true,
}

type Meta struct {
	Type        models.ContentType
	Licence     string
	Description string

	// The manifest schema this tree was read from. Trees are always written
	// with CurrentSchema.
	SchemaVersion int
}

type Node interface {
	NodeTitle() string
	NodeSlug() string
	Hash() string

	isNode()
}

type Container struct {
	Title        string
	Slug         string
	Introduction string
	Conclusion   string
	Children     []Node
}

type Extract struct {
	Title string
	Slug  string
	Text  string
}

func (c *Container) NodeTitle() string { return c.Title }
func (c *Container) NodeSlug() string  { return c.Slug }
func (c *Container) isNode()           {}

func (e *Extract) NodeTitle() string { return e.Title }
func (e *Extract) NodeSlug() string  { return e.Slug }
func (e *Extract) isNode()           {}

// HasContainers reports whether the children are containers. An empty
// container may go either way.
func (c *Container) HasContainers() bool {
	return len(c.Children) > 0 && isContainer(c.Children[0])
}

func (c *Container) HasExtracts() bool {
	return len(c.Children) > 0 && !isContainer(c.Children[0])
}

func (c *Container) child(slug string) (Node, int) {
	for i, ch := range c.Children {
		if ch.NodeSlug() == slug {
			return ch, i
		}
	}
	return nil, -1
}

func isContainer(n Node) bool {
	_, ok := n.(*Container)
	return ok
}

type Tree struct {
	Meta Meta
	Root *Container
}

// New is the tree of a freshly created content: a root container and nothing
// else.
func New(meta Meta, slug, title, introduction, conclusion string) *Tree {
	meta.SchemaVersion = CurrentSchema
	return &Tree{
		Meta: meta,
		Root: &Container{
			Title:        title,
			Slug:         slug,
			Introduction: introduction,
			Conclusion:   conclusion,
		},
	}
}

func (t *Tree) Title() string { return t.Root.Title }
func (t *Tree) Slug() string  { return t.Root.Slug }

// Hash is the hash of the root container, and so covers the whole document.
func (t *Tree) Hash() string { return t.Root.Hash() }

// ResolvePath walks the slugs down from the root. No slugs means the root.
func (t *Tree) ResolvePath(slugs ...string) (Node, error) {
	var cur Node = t.Root
	for i, slug := range slugs {
		c, ok := cur.(*Container)
		if !ok {
			return nil, oops.New(models.ErrNotFound, "%s is an extract and has no children", strings.Join(slugs[:i], "/"))
		}
		next, _ := c.child(slug)
		if next == nil {
			return nil, oops.New(models.ErrNotFound, "no node %q under /%s", slug, strings.Join(slugs[:i], "/"))
		}
		cur = next
	}
	return cur, nil
}

// Walk visits every node depth first, in document order. The path passed
// along is the node's slugs below the root.
func (t *Tree) Walk(f func(slugs []string, n Node) error) error {
	return walk(nil, t.Root, f)
}

func walk(slugs []string, n Node, f func([]string, Node) error) error {
	if err := f(slugs, n); err != nil {
		return err
	}
	if c, ok := n.(*Container); ok {
		for _, ch := range c.Children {
			childPath := append(append([]string(nil), slugs...), ch.NodeSlug())
			if err := walk(childPath, ch, f); err != nil {
				return err
			}
		}
	}
	return nil
}

/*
Node hashes cover exactly what an editor can change: titles, texts, and the
order and membership of children. Slugs are derived from titles and are left
out.
*/

func (c *Container) Hash() string {
	h := sha1.New()
	writeField(h, "container")
	writeField(h, c.Title)
	writeField(h, c.Introduction)
	writeField(h, c.Conclusion)
	for _, ch := range c.Children {
		writeField(h, ch.Hash())
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Extract) Hash() string {
	h := sha1.New()
	writeField(h, "extract")
	writeField(h, e.Title)
	writeField(h, e.Text)
	return hex.EncodeToString(h.Sum(nil))
}

// Fields are length-prefixed so that moving text from one field to the next
// changes the hash.
func writeField(h hash.Hash, s string) {
	var n [8]byte
	l := uint64(len(s))
	for i := range n {
		n[i] = byte(l >> (8 * i))
	}
	h.Write(n[:])
	io.WriteString(h, s)
}

/*
Repository layout. The root container writes introduction.md and
conclusion.md next to manifest.json; every other container gets a directory
named by its slug inside its parent's directory; extracts are {slug}.md in
their parent's directory.
*/

const (
	introductionFile = "introduction.md"
	conclusionFile   = "conclusion.md"
)

func containerDir(parentDir, slug string, root bool) string {
	if root {
		return ""
	}
	return path.Join(parentDir, slug)
}

func extractFile(dir, slug string) string {
	return path.Join(dir, slug+".md")
}

// Files materializes the tree: manifest.json plus one file per text.
func (t *Tree) Files() map[string][]byte {
	files := make(map[string][]byte)
	var add func(dir string, c *Container, root bool)
	add = func(parentDir string, c *Container, root bool) {
		dir := containerDir(parentDir, c.Slug, root)
		files[path.Join(dir, introductionFile)] = []byte(c.Introduction)
		files[path.Join(dir, conclusionFile)] = []byte(c.Conclusion)
		for _, ch := range c.Children {
			switch ch := ch.(type) {
			case *Container:
				add(dir, ch, false)
			case *Extract:
				files[extractFile(dir, ch.Slug)] = []byte(ch.Text)
			}
		}
	}
	add("", t.Root, true)
	files[ManifestPath] = encodeManifest(t)
	return files
}
