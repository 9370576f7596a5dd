package infra

import (
	"fmt"
	"os"
	"path/filepath"
)

// TempDir centralizes where the temporary directory is created. Relative paths are resolved
// against the working directory.
func TempDir(tmpPath string) (string, error) {
	if tmpPath == "" {
		tmpPath = "tmp"
	}
	if !filepath.IsAbs(tmpPath) {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		tmpPath = filepath.Join(wd, tmpPath)
	}
	if err := os.MkdirAll(tmpPath, 0700); err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	return tmpPath, nil
}
