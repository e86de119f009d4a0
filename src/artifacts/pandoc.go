package artifacts

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"git.handmade.network/hmn/tutorials/src/logging"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
)

// runPandoc converts the assembled Markdown in a scratch directory holding
// extra/images, so that rewritten image paths resolve. The process is killed
// when ctx ends.
func runPandoc(ctx context.Context, pandoc string, doc *Document, kind models.ArtifactKind) ([]byte, error) {
	dir, err := os.MkdirTemp("", "tutorials-pandoc-")
	if err != nil {
		return nil, oops.New(err, "failed to create pandoc scratch directory")
	}
	defer os.RemoveAll(dir)

	for name, data := range doc.Images {
		p := filepath.Join(dir, ImagesDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, oops.New(err, "failed to stage image %s", name)
		}
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return nil, oops.New(err, "failed to stage image %s", name)
		}
	}

	out := filepath.Join(dir, kind.Filename(doc.PublicSlug))
	args := append([]string{
		"--from", "markdown",
		"--output", out,
		"--resource-path", dir,
		"--standalone",
	}, pandocMetadata(doc)...)
	if kind == models.ArtifactPDF {
		args = append(args, "--pdf-engine=xelatex")
	}

	cmd := exec.CommandContext(ctx, pandoc, args...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	cmd.Stdin = bytes.NewReader(doc.Markdown)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logging.ExtractLogger(ctx).Debug().
		Str("kind", string(kind)).
		Str("slug", doc.PublicSlug).
		Msg("running pandoc")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, oops.New(ctx.Err(), "pandoc did not finish in time")
		}
		return nil, oops.New(err, "pandoc failed: %s", strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, oops.New(err, "pandoc wrote no output")
	}
	return data, nil
}

func pandocMetadata(doc *Document) []string {
	meta := []string{
		"title=" + doc.Tree.Title(),
		"date=" + doc.PublicationDate.UTC().Format("2006-01-02"),
		"identifier=" + editionID(doc),
	}
	if doc.Tree.Meta.Licence != "" {
		meta = append(meta, "rights="+doc.Tree.Meta.Licence)
	}
	for _, author := range doc.Authors {
		meta = append(meta, "author="+author)
	}

	var args []string
	for _, m := range meta {
		args = append(args, "--metadata", m)
	}
	return args
}
