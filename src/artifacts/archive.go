package artifacts

import (
	"archive/zip"
	"bytes"
	"path"
	"sort"

	"git.handmade.network/hmn/tutorials/src/oops"
)

// The ZIP edition holds the Markdown sources in repository layout, so it can
// be imported again as a new content.
func renderZIP(doc *Document) ([]byte, error) {
	files := doc.Tree.Files()
	for name, data := range doc.Images {
		files[path.Join("images", name)] = data
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		// A fixed timestamp keeps the archive identical between renders.
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: doc.PublicationDate.UTC(),
		})
		if err != nil {
			return nil, oops.New(err, "failed to add %s to archive", name)
		}
		if _, err := w.Write(files[name]); err != nil {
			return nil, oops.New(err, "failed to write %s to archive", name)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, oops.New(err, "failed to finish archive")
	}
	return buf.Bytes(), nil
}
