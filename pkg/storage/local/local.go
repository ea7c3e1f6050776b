// Package local implements the object store on the local file system.
// Intended for development and tests.
package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// Storage stores objects as plain files under root/<tenant>/<prefix>.
type Storage struct {
	root string
}

// NewStorage creates a Storage rooted at the given directory.
func NewStorage(root string) *Storage {
	return &Storage{root: strings.Replace(root, "file://", "", 1)}
}

func (s *Storage) DeleteByPrefix(ctx context.Context, tenantID, prefix string) (int, error) {
	dir := filepath.Join(s.root, tenantID, filepath.FromSlash(prefix))

	deleted := 0

	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.IsDir() {
			deleted++
		}

		return nil
	})
	if os.IsNotExist(err) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	if err := os.RemoveAll(dir); err != nil {
		return 0, err
	}

	return deleted, nil
}
