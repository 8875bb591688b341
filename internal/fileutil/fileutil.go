package fileutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// EnsureDir creates a directory and all parent directories with 0755 permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// WriteFileAtomic writes data to path via a temp-file-then-rename so a
// concurrent reader (or a crash mid-write) never observes a truncated file.
// MemoryStore relies on this to keep the on-disk envelope always valid.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("ensuring parent directory for %s: %w", path, err)
	}
	return renameio.WriteFile(path, data, perm)
}
