// Package atomicio writes files such that a concurrent reader never observes
// a partial write: bytes are staged in a sibling temp file, then moved into
// place with a single rename.
package atomicio

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile writes data to path with the given permission bits, creating
// parent directories as needed. The write is crash-safe: it materializes
// data in a temp file in the same directory as path (so the rename stays on
// one filesystem) and renames it into place.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	// Best-effort cleanup; once the rename below succeeds this is a no-op.
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file for %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions on temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file for %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// ReadFile reads the bytes previously written at path, returning
// os.ErrNotExist-wrapping errors unchanged so callers can use os.IsNotExist.
func ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
