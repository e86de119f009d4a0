package doctree

import (
	"errors"
	"sort"
	"strings"

	"git.handmade.network/hmn/tutorials/src/gitstore"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
)

var ErrRootNode = errors.New("the root container cannot be deleted or moved")

// Mutation is the result of one structural change: the new tree, where the
// touched node now lives in it, and the file changes that turn the old tree's
// files into the new one's.
type Mutation struct {
	Tree    *Tree
	Path    []string
	Changes []gitstore.Change
}

func (t *Tree) mutation(next *Tree, nodePath []string) *Mutation {
	return &Mutation{
		Tree:    next,
		Path:    nodePath,
		Changes: Diff(t.Files(), next.Files()),
	}
}

// Deepest level a container may sit at, the root being level 0.
func maxContainerDepth(t models.ContentType) int {
	if t == models.ContentTypeArticle {
		return 0
	}
	return 2
}

func (t *Tree) AddContainer(parent []string, title, introduction, conclusion string) (*Mutation, error) {
	var slug string
	next, err := t.withContainer(parent, func(c *Container, depth int) error {
		if depth+1 > maxContainerDepth(t.Meta.Type) {
			return oops.New(ErrTooDeep, "cannot add a container under /%s", strings.Join(parent, "/"))
		}
		if c.HasExtracts() {
			return oops.New(ErrMixedChildren, "/%s already holds extracts", strings.Join(parent, "/"))
		}
		var err error
		if slug, err = siblingSlug(c.Children, title, nil); err != nil {
			return err
		}
		c.Children = append(c.Children, &Container{
			Title:        title,
			Slug:         slug,
			Introduction: introduction,
			Conclusion:   conclusion,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t.mutation(next, childPath(parent, slug)), nil
}

func (t *Tree) AddExtract(parent []string, title, text string) (*Mutation, error) {
	var slug string
	next, err := t.withContainer(parent, func(c *Container, depth int) error {
		if c.HasContainers() {
			return oops.New(ErrMixedChildren, "/%s already holds containers", strings.Join(parent, "/"))
		}
		var err error
		if slug, err = siblingSlug(c.Children, title, nil); err != nil {
			return err
		}
		c.Children = append(c.Children, &Extract{Title: title, Slug: slug, Text: text})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t.mutation(next, childPath(parent, slug)), nil
}

// EditContainer replaces a container's title and texts. A new title gives a
// non-root container a new slug; the root's slug belongs to the content and is
// changed with WithRootSlug.
func (t *Tree) EditContainer(nodePath []string, title, introduction, conclusion string) (*Mutation, error) {
	if len(nodePath) == 0 {
		root := t.Root.shallowCopy()
		root.Title = title
		root.Introduction = introduction
		root.Conclusion = conclusion
		return t.mutation(&Tree{Meta: t.Meta, Root: root}, nil), nil
	}

	parent, slug := nodePath[:len(nodePath)-1], nodePath[len(nodePath)-1]
	var newSlug string
	next, err := t.withContainer(parent, func(c *Container, depth int) error {
		old, i := c.child(slug)
		oldContainer, ok := old.(*Container)
		if !ok {
			return oops.New(models.ErrNotFound, "no container at /%s", strings.Join(nodePath, "/"))
		}
		edited := oldContainer.shallowCopy()
		edited.Title = title
		edited.Introduction = introduction
		edited.Conclusion = conclusion
		if title != oldContainer.Title {
			var err error
			if edited.Slug, err = siblingSlug(c.Children, title, old); err != nil {
				return err
			}
		}
		newSlug = edited.Slug
		c.Children[i] = edited
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t.mutation(next, childPath(parent, newSlug)), nil
}

func (t *Tree) EditExtract(nodePath []string, title, text string) (*Mutation, error) {
	if len(nodePath) == 0 {
		return nil, oops.New(models.ErrNotFound, "the root is not an extract")
	}
	parent, slug := nodePath[:len(nodePath)-1], nodePath[len(nodePath)-1]
	var newSlug string
	next, err := t.withContainer(parent, func(c *Container, depth int) error {
		old, i := c.child(slug)
		oldExtract, ok := old.(*Extract)
		if !ok {
			return oops.New(models.ErrNotFound, "no extract at /%s", strings.Join(nodePath, "/"))
		}
		edited := &Extract{Title: title, Slug: oldExtract.Slug, Text: text}
		if title != oldExtract.Title {
			var err error
			if edited.Slug, err = siblingSlug(c.Children, title, old); err != nil {
				return err
			}
		}
		newSlug = edited.Slug
		c.Children[i] = edited
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t.mutation(next, childPath(parent, newSlug)), nil
}

func (t *Tree) Delete(nodePath []string) (*Mutation, error) {
	if len(nodePath) == 0 {
		return nil, oops.New(ErrRootNode, "cannot delete")
	}
	next, err := t.without(nodePath)
	if err != nil {
		return nil, err
	}
	return t.mutation(next, nil), nil
}

// Move takes the node at nodePath out of its parent and inserts it into
// newParent at position. Moving within the same parent reorders it. A
// position out of range appends.
func (t *Tree) Move(nodePath, newParent []string, position int) (*Mutation, error) {
	if len(nodePath) == 0 {
		return nil, oops.New(ErrRootNode, "cannot move")
	}
	if hasPrefix(newParent, nodePath) {
		return nil, oops.New(nil, "cannot move /%s into itself", strings.Join(nodePath, "/"))
	}
	node, err := t.ResolvePath(nodePath...)
	if err != nil {
		return nil, err
	}

	removed, err := t.without(nodePath)
	if err != nil {
		return nil, err
	}

	var slug string
	next, err := removed.withContainer(newParent, func(c *Container, depth int) error {
		if sub, ok := node.(*Container); ok {
			if depth+sub.height() > maxContainerDepth(t.Meta.Type) {
				return oops.New(ErrTooDeep, "cannot move /%s under /%s", strings.Join(nodePath, "/"), strings.Join(newParent, "/"))
			}
			if c.HasExtracts() {
				return oops.New(ErrMixedChildren, "/%s holds extracts", strings.Join(newParent, "/"))
			}
		} else if c.HasContainers() {
			return oops.New(ErrMixedChildren, "/%s holds containers", strings.Join(newParent, "/"))
		}

		moved := node
		slug = node.NodeSlug()
		if other, _ := c.child(slug); other != nil {
			var err error
			slug, err = models.Disambiguate(slug, func(candidate string) (bool, error) {
				return reservedSlugs[candidate] || hasSibling(c.Children, candidate, nil), nil
			})
			if err != nil {
				return err
			}
			moved = withSlug(node, slug)
		}

		if position < 0 || position > len(c.Children) {
			position = len(c.Children)
		}
		c.Children = append(c.Children, nil)
		copy(c.Children[position+1:], c.Children[position:])
		c.Children[position] = moved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t.mutation(next, childPath(newParent, slug)), nil
}

// WithRootSlug returns the tree under a new content slug.
func (t *Tree) WithRootSlug(slug string) *Tree {
	root := t.Root.shallowCopy()
	root.Slug = slug
	return &Tree{Meta: t.Meta, Root: root}
}

func (t *Tree) without(nodePath []string) (*Tree, error) {
	parent, slug := nodePath[:len(nodePath)-1], nodePath[len(nodePath)-1]
	return t.withContainer(parent, func(c *Container, depth int) error {
		_, i := c.child(slug)
		if i < 0 {
			return oops.New(models.ErrNotFound, "no node at /%s", strings.Join(nodePath, "/"))
		}
		c.Children = append(c.Children[:i], c.Children[i+1:]...)
		if len(c.Children) == 0 {
			c.Children = nil
		}
		return nil
	})
}

// withContainer copies the containers from the root down to the one at
// containerPath and hands that copy to f. Everything off the path is shared
// with t.
func (t *Tree) withContainer(containerPath []string, f func(c *Container, depth int) error) (*Tree, error) {
	root, err := updateAt(t.Root, containerPath, 0, f)
	if err != nil {
		return nil, err
	}
	return &Tree{Meta: t.Meta, Root: root}, nil
}

func updateAt(c *Container, rest []string, depth int, f func(*Container, int) error) (*Container, error) {
	cp := c.shallowCopy()
	if len(rest) == 0 {
		if err := f(cp, depth); err != nil {
			return nil, err
		}
		return cp, nil
	}
	child, i := c.child(rest[0])
	sub, ok := child.(*Container)
	if !ok {
		return nil, oops.New(models.ErrNotFound, "no container %q under %q", rest[0], c.Slug)
	}
	newSub, err := updateAt(sub, rest[1:], depth+1, f)
	if err != nil {
		return nil, err
	}
	cp.Children[i] = newSub
	return cp, nil
}

func (c *Container) shallowCopy() *Container {
	cp := *c
	cp.Children = append([]Node(nil), c.Children...)
	return &cp
}

// Number of container levels in the subtree, counting c itself.
func (c *Container) height() int {
	h := 0
	for _, ch := range c.Children {
		if sub, ok := ch.(*Container); ok {
			h = max(h, sub.height())
		}
	}
	return h + 1
}

func withSlug(n Node, slug string) Node {
	switch n := n.(type) {
	case *Container:
		cp := n.shallowCopy()
		cp.Slug = slug
		return cp
	case *Extract:
		cp := *n
		cp.Slug = slug
		return &cp
	}
	return n
}

func siblingSlug(siblings []Node, title string, self Node) (string, error) {
	return models.Disambiguate(models.Slugify(title), func(candidate string) (bool, error) {
		return reservedSlugs[candidate] || hasSibling(siblings, candidate, self), nil
	})
}

func hasSibling(siblings []Node, slug string, except Node) bool {
	for _, s := range siblings {
		if s != except && s.NodeSlug() == slug {
			return true
		}
	}
	return false
}

func childPath(parent []string, slug string) []string {
	return append(append([]string(nil), parent...), slug)
}

func hasPrefix(p, prefix []string) bool {
	if len(p) < len(prefix) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Diff lists the writes and deletes that turn one file set into another,
// sorted by path.
func Diff(before, after map[string][]byte) []gitstore.Change {
	var changes []gitstore.Change
	for p, data := range after {
		if old, ok := before[p]; !ok || string(old) != string(data) {
			changes = append(changes, gitstore.Change{Path: p, Content: data})
		}
	}
	for p := range before {
		if _, ok := after[p]; !ok {
			changes = append(changes, gitstore.Change{Path: p, Delete: true})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// ChangesFrom is Diff against the files actually in a repository. Only the
// manifest and Markdown files belong to the tree; anything else, such as
// images, is left alone.
func ChangesFrom(existing map[string][]byte, next *Tree) []gitstore.Change {
	managed := make(map[string][]byte, len(existing))
	for p, data := range existing {
		if p == ManifestPath || strings.HasSuffix(p, ".md") {
			managed[p] = data
		}
	}
	return Diff(managed, next.Files())
}
