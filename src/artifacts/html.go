package artifacts

import (
	"bytes"
	"html/template"
	"strings"

	"git.handmade.network/hmn/tutorials/src/parsing"
	"git.handmade.network/hmn/tutorials/src/templates"
)

func renderHTML(doc *Document) ([]byte, error) {
	var body bytes.Buffer
	if err := parsing.Render(&body, doc.Markdown, parsing.TutorialMarkdown); err != nil {
		return nil, err
	}

	stylesheet, err := renderStylesheet()
	if err != nil {
		return nil, err
	}

	description := doc.Tree.Meta.Description
	if description == "" {
		description, err = parsing.ParseMarkdown(doc.Tree.Root.Introduction, parsing.PlaintextMarkdown)
		if err != nil {
			return nil, err
		}
	}

	tmpl, err := templates.GetTemplate("edition.html")
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	err = tmpl.Execute(&out, templates.Edition{
		Title:           doc.Tree.Title(),
		Description:     strings.TrimSpace(description),
		Licence:         doc.Tree.Meta.Licence,
		Type:            doc.Tree.Meta.Type.String(),
		Authors:         doc.Authors,
		PublicSlug:      doc.PublicSlug,
		Commit:          doc.Commit,
		PublicationDate: doc.PublicationDate,
		UpdateDate:      doc.UpdateDate,
		Body:            template.HTML(body.String()),
		Stylesheet:      template.CSS(stylesheet),
	})
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func renderStylesheet() (string, error) {
	highlight, err := parsing.HighlightCSS()
	if err != nil {
		return "", err
	}
	tmpl, err := templates.GetTemplate("edition.css")
	if err != nil {
		return "", err
	}
	var out strings.Builder
	err = tmpl.Execute(&out, templates.Stylesheet{Highlight: template.CSS(highlight)})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}
