package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates the slide and feature roots on demand.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// SafeJoin joins a client-supplied name under root, stripping any path
// components so uploads cannot escape the cohort directory.
func SafeJoin(root, name string) string {
	return filepath.Join(root, filepath.Base(name))
}
