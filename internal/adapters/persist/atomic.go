// Package persist provides crash-safe file replacement shared by the
// snapshot and alert-state stores.
package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// PrevSuffix names the last good copy kept next to a file.
const PrevSuffix = ".prev"

// WriteAtomic replaces path with data. The new content is written to a
// temporary file in the same directory and synced, the current file is kept
// as path+".prev", and the temporary file is renamed into place. A crash at
// any point leaves either the old file, the .prev copy, or the new file.
func WriteAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+PrevSuffix); err != nil {
			cleanup()
			return fmt.Errorf("keep previous copy: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		cleanup()
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("install %s: %w", path, err)
	}
	syncDir(dir)
	return nil
}

// ReadFirst returns the content of the first readable candidate for which
// decode succeeds, trying path then path+".prev". The returned string names
// the file that was used.
func ReadFirst(path string, decode func([]byte) error) (string, error) {
	var errs []error
	for _, p := range []string{path, path + PrevSuffix} {
		data, err := os.ReadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := decode(data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(p), err))
			continue
		}
		return p, nil
	}
	return "", errors.Join(errs...)
}

// RemoveStale deletes temporary files left behind by interrupted writes.
func RemoveStale(path string) int {
	matches, err := filepath.Glob(path + ".tmp-*")
	if err != nil {
		return 0
	}
	n := 0
	for _, m := range matches {
		if os.Remove(m) == nil {
			n++
		}
	}
	return n
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
