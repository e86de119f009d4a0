package doctree

import (
	"context"
	"encoding/json"
	"errors"
	"path"

	"git.handmade.network/hmn/tutorials/src/gitstore"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
)

const (
	ManifestPath  = gitstore.ManifestPath
	CurrentSchema = 2
)

// A parser reads one generation of the manifest format. The generation is
// picked from the manifest's "version" field and nothing else.
type parser interface {
	parse(ctx context.Context, data []byte, src Source) (*Tree, error)
}

var parsers = map[int]parser{
	1: v1Parser{},
	2: v2Parser{},
}

// Load reads the manifest and every text it references from src.
func Load(ctx context.Context, src Source) (*Tree, error) {
	data, err := src.ReadFile(ctx, ManifestPath)
	if err != nil {
		return nil, err
	}
	return Parse(ctx, data, src)
}

func Parse(ctx context.Context, data []byte, src Source) (*Tree, error) {
	var tag struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, oops.New(errors.Join(models.ErrMalformedManifest, err), "manifest is not valid JSON")
	}
	if tag.Version == nil {
		return nil, oops.New(models.ErrMalformedManifest, "manifest has no version")
	}
	p, ok := parsers[*tag.Version]
	if !ok {
		return nil, oops.New(models.ErrMalformedManifest, "unsupported manifest version %d", *tag.Version)
	}

	t, err := p.parse(ctx, data, src)
	if err != nil {
		return nil, err
	}
	if err := checkLoaded(t.Root); err != nil {
		return nil, oops.New(errors.Join(models.ErrMalformedManifest, err), "manifest describes an invalid tree")
	}
	return t, nil
}

func checkLoaded(c *Container) error {
	seen := make(map[string]bool, len(c.Children))
	var containers, extracts int
	for _, ch := range c.Children {
		slug := ch.NodeSlug()
		if slug == "" || reservedSlugs[slug] || seen[slug] {
			return oops.New(nil, "bad or duplicate slug %q under %q", slug, c.Slug)
		}
		seen[slug] = true
		if sub, ok := ch.(*Container); ok {
			containers++
			if err := checkLoaded(sub); err != nil {
				return err
			}
		} else {
			extracts++
		}
	}
	if containers > 0 && extracts > 0 {
		return oops.New(ErrMixedChildren, "container %q", c.Slug)
	}
	return nil
}

func readText(ctx context.Context, src Source, p string) (string, error) {
	if p == "" {
		return "", nil
	}
	data, err := src.ReadFile(ctx, p)
	if errors.Is(err, models.ErrNotFound) {
		return "", oops.New(models.ErrMalformedManifest, "manifest references missing file %s", p)
	} else if err != nil {
		return "", err
	}
	return string(data), nil
}

func typeFromV2(s string) (models.ContentType, bool) {
	switch s {
	case "TUTORIAL":
		return models.ContentTypeTutorial, true
	case "ARTICLE":
		return models.ContentTypeArticle, true
	}
	return 0, false
}

func typeToV2(t models.ContentType) string {
	if t == models.ContentTypeArticle {
		return "ARTICLE"
	}
	return "TUTORIAL"
}

// Schema version 2

type manifestV2 struct {
	Version     int    `json:"version"`
	Type        string `json:"type"`
	Licence     string `json:"licence,omitempty"`
	Description string `json:"description,omitempty"`
	nodeV2
}

type nodeV2 struct {
	Object       string   `json:"object"`
	Title        string   `json:"title"`
	Slug         string   `json:"slug"`
	Introduction string   `json:"introduction,omitempty"`
	Conclusion   string   `json:"conclusion,omitempty"`
	Text         string   `json:"text,omitempty"`
	Children     []nodeV2 `json:"children,omitempty"`
}

type v2Parser struct{}

func (v2Parser) parse(ctx context.Context, data []byte, src Source) (*Tree, error) {
	var m manifestV2
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, oops.New(errors.Join(models.ErrMalformedManifest, err), "failed to decode v2 manifest")
	}
	typ, ok := typeFromV2(m.Type)
	if !ok {
		return nil, oops.New(models.ErrMalformedManifest, "unknown content type %q", m.Type)
	}
	if m.Object != "container" {
		return nil, oops.New(models.ErrMalformedManifest, "root must be a container, got %q", m.Object)
	}

	root, err := containerFromV2(ctx, m.nodeV2, src)
	if err != nil {
		return nil, err
	}
	return &Tree{
		Meta: Meta{
			Type:          typ,
			Licence:       m.Licence,
			Description:   m.Description,
			SchemaVersion: 2,
		},
		Root: root,
	}, nil
}

func containerFromV2(ctx context.Context, n nodeV2, src Source) (*Container, error) {
	intro, err := readText(ctx, src, n.Introduction)
	if err != nil {
		return nil, err
	}
	conclusion, err := readText(ctx, src, n.Conclusion)
	if err != nil {
		return nil, err
	}
	c := &Container{
		Title:        n.Title,
		Slug:         n.Slug,
		Introduction: intro,
		Conclusion:   conclusion,
	}
	for _, child := range n.Children {
		switch child.Object {
		case "container":
			sub, err := containerFromV2(ctx, child, src)
			if err != nil {
				return nil, err
			}
			c.Children = append(c.Children, sub)
		case "extract":
			text, err := readText(ctx, src, child.Text)
			if err != nil {
				return nil, err
			}
			c.Children = append(c.Children, &Extract{Title: child.Title, Slug: child.Slug, Text: text})
		default:
			return nil, oops.New(models.ErrMalformedManifest, "unknown object %q in %q", child.Object, n.Slug)
		}
	}
	return c, nil
}

func encodeManifest(t *Tree) []byte {
	var toNode func(dir string, c *Container, root bool) nodeV2
	toNode = func(parentDir string, c *Container, root bool) nodeV2 {
		dir := containerDir(parentDir, c.Slug, root)
		n := nodeV2{
			Object:       "container",
			Title:        c.Title,
			Slug:         c.Slug,
			Introduction: path.Join(dir, introductionFile),
			Conclusion:   path.Join(dir, conclusionFile),
		}
		for _, ch := range c.Children {
			switch ch := ch.(type) {
			case *Container:
				n.Children = append(n.Children, toNode(dir, ch, false))
			case *Extract:
				n.Children = append(n.Children, nodeV2{
					Object: "extract",
					Title:  ch.Title,
					Slug:   ch.Slug,
					Text:   extractFile(dir, ch.Slug),
				})
			}
		}
		return n
	}

	m := manifestV2{
		Version:     CurrentSchema,
		Type:        typeToV2(t.Meta.Type),
		Licence:     t.Meta.Licence,
		Description: t.Meta.Description,
		nodeV2:      toNode("", t.Root, true),
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		// Only strings and slices; this cannot fail.
		panic(oops.New(err, "failed to encode manifest"))
	}
	return append(data, '\n')
}

// Schema version 1. Tutorials came in two sizes, BIG (parts > chapters >
// extracts) and MINI (a single chapter), and articles held extracts directly.
// Slugs were optional and derived from titles when absent.

type manifestV1 struct {
	Version      int         `json:"version"`
	Type         string      `json:"type"`
	Title        string      `json:"title"`
	Slug         string      `json:"slug"`
	Licence      string      `json:"licence"`
	Description  string      `json:"description"`
	Introduction string      `json:"introduction"`
	Conclusion   string      `json:"conclusion"`
	Text         string      `json:"text"`
	Parts        []partV1    `json:"parts"`
	Chapter      *chapterV1  `json:"chapter"`
	Extracts     []extractV1 `json:"extracts"`
}

type partV1 struct {
	Title        string      `json:"title"`
	Slug         string      `json:"slug"`
	Introduction string      `json:"introduction"`
	Conclusion   string      `json:"conclusion"`
	Chapters     []chapterV1 `json:"chapters"`
}

type chapterV1 struct {
	Title        string      `json:"title"`
	Slug         string      `json:"slug"`
	Introduction string      `json:"introduction"`
	Conclusion   string      `json:"conclusion"`
	Extracts     []extractV1 `json:"extracts"`
}

type extractV1 struct {
	Title string `json:"title"`
	Slug  string `json:"slug"`
	Text  string `json:"text"`
}

type v1Parser struct{}

func (v1Parser) parse(ctx context.Context, data []byte, src Source) (*Tree, error) {
	var m manifestV1
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, oops.New(errors.Join(models.ErrMalformedManifest, err), "failed to decode v1 manifest")
	}

	root := &Container{Title: m.Title, Slug: m.Slug}
	if root.Slug == "" {
		root.Slug = models.Slugify(m.Title)
	}
	var err error
	if root.Introduction, err = readText(ctx, src, m.Introduction); err != nil {
		return nil, err
	}
	if root.Conclusion, err = readText(ctx, src, m.Conclusion); err != nil {
		return nil, err
	}

	var typ models.ContentType
	switch m.Type {
	case "BIG":
		typ = models.ContentTypeTutorial
		for _, part := range m.Parts {
			pc := &Container{Title: part.Title, Slug: part.Slug}
			if pc.Introduction, err = readText(ctx, src, part.Introduction); err != nil {
				return nil, err
			}
			if pc.Conclusion, err = readText(ctx, src, part.Conclusion); err != nil {
				return nil, err
			}
			for _, chapter := range part.Chapters {
				cc, err := chapterFromV1(ctx, chapter, src)
				if err != nil {
					return nil, err
				}
				pc.Children = appendWithSlug(pc.Children, cc)
			}
			root.Children = appendWithSlug(root.Children, pc)
		}
	case "MINI":
		typ = models.ContentTypeTutorial
		if m.Chapter != nil {
			cc, err := chapterFromV1(ctx, *m.Chapter, src)
			if err != nil {
				return nil, err
			}
			root.Children = cc.Children
			if root.Introduction == "" {
				root.Introduction = cc.Introduction
			}
			if root.Conclusion == "" {
				root.Conclusion = cc.Conclusion
			}
		}
	case "ARTICLE":
		typ = models.ContentTypeArticle
		if m.Text != "" && len(m.Extracts) == 0 {
			m.Extracts = []extractV1{{Title: m.Title, Text: m.Text}}
		}
		for _, ex := range m.Extracts {
			e, err := extractFromV1(ctx, ex, src)
			if err != nil {
				return nil, err
			}
			root.Children = appendWithSlug(root.Children, e)
		}
	default:
		return nil, oops.New(models.ErrMalformedManifest, "unknown v1 content type %q", m.Type)
	}

	return &Tree{
		Meta: Meta{
			Type:          typ,
			Licence:       m.Licence,
			Description:   m.Description,
			SchemaVersion: 1,
		},
		Root: root,
	}, nil
}

func chapterFromV1(ctx context.Context, ch chapterV1, src Source) (*Container, error) {
	c := &Container{Title: ch.Title, Slug: ch.Slug}
	var err error
	if c.Introduction, err = readText(ctx, src, ch.Introduction); err != nil {
		return nil, err
	}
	if c.Conclusion, err = readText(ctx, src, ch.Conclusion); err != nil {
		return nil, err
	}
	for _, ex := range ch.Extracts {
		e, err := extractFromV1(ctx, ex, src)
		if err != nil {
			return nil, err
		}
		c.Children = appendWithSlug(c.Children, e)
	}
	return c, nil
}

func extractFromV1(ctx context.Context, ex extractV1, src Source) (*Extract, error) {
	text, err := readText(ctx, src, ex.Text)
	if err != nil {
		return nil, err
	}
	return &Extract{Title: ex.Title, Slug: ex.Slug, Text: text}, nil
}

// appendWithSlug fills in a missing slug from the title, numbered so that it
// is unique among the siblings already appended.
func appendWithSlug(siblings []Node, n Node) []Node {
	var slug *string
	var title string
	switch n := n.(type) {
	case *Container:
		slug, title = &n.Slug, n.Title
	case *Extract:
		slug, title = &n.Slug, n.Title
	}
	if *slug == "" {
		// Left empty on failure, which checkLoaded rejects.
		*slug, _ = siblingSlug(siblings, title, nil)
	}
	return append(siblings, n)
}
