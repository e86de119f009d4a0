package utils

import (
	"os"
	"path/filepath"

	"git.handmade.network/hmn/tutorials/src/oops"
)

// WriteFileAtomic writes data next to path, fsyncs it, and renames it over
// path, so readers see either the old file or the complete new one.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return oops.New(err, "failed to create directory %s", dir)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return oops.New(err, "failed to create temp file for %s", path)
	}
	tmpPath := f.Name()

	fail := func(err error, msg string) error {
		f.Close()
		os.Remove(tmpPath)
		return oops.New(err, "%s for %s", msg, path)
	}

	if _, err := f.Write(data); err != nil {
		return fail(err, "failed to write temp file")
	}
	if err := f.Sync(); err != nil {
		return fail(err, "failed to sync temp file")
	}
	if err := f.Chmod(perm); err != nil {
		return fail(err, "failed to chmod temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return oops.New(err, "failed to close temp file for %s", path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return oops.New(err, "failed to rename temp file into %s", path)
	}
	return nil
}
