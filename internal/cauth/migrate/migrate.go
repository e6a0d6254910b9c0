// Package migrate performs the one-time copy of the legacy
// ~/.claude-island/ layout into ~/.agent-island/ on first run after an
// upgrade. It never fails startup: every error is logged and skipped.
package migrate

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/agent-island/cauth/internal/cauth/atomicio"
	"github.com/agent-island/cauth/internal/cauth/logging"
)

// Run copies every file under legacyDir into targetDir, recreating the
// directory structure, skipping any entry whose target already exists. A
// missing legacyDir is not an error — there is nothing to migrate.
func Run(legacyDir, targetDir string) {
	if _, err := os.Stat(legacyDir); err != nil {
		return
	}

	_ = filepath.WalkDir(legacyDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Warn("migrate: walk error", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(legacyDir, path)
		if err != nil {
			logging.Warn("migrate: relative path failed", "path", path, "error", err)
			return nil
		}
		dest := filepath.Join(targetDir, rel)

		if _, statErr := os.Stat(dest); statErr == nil {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			logging.Warn("migrate: read failed", "path", path, "error", readErr)
			return nil
		}

		perm := os.FileMode(0o600)
		if info, statErr := d.Info(); statErr == nil {
			perm = info.Mode().Perm()
		}

		if writeErr := atomicio.WriteFile(dest, data, perm); writeErr != nil {
			logging.Warn("migrate: write failed", "path", dest, "error", writeErr)
		}
		return nil
	})
}
