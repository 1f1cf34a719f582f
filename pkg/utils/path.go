package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidatePath rejects empty paths and paths that still contain ".." after
// cleaning. Absolute paths are rejected unless allowAbsolute is set.
func ValidatePath(path string, allowAbsolute bool) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	cleanPath := filepath.Clean(path)
	for _, seg := range strings.Split(cleanPath, string(filepath.Separator)) {
		if seg == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}
	if !allowAbsolute && filepath.IsAbs(cleanPath) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}
	return nil
}

// ValidateMountPoint resolves path to an absolute directory that exists.
func ValidateMountPoint(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("mount point cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve mount point %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("mount point %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("mount point %s is not a directory", abs)
	}
	return abs, nil
}
