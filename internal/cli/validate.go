package cli

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolveLocalFile checks that the path exists and is a regular file, then
// returns the absolute path.
func ResolveLocalFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("access %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("path is a directory: %s", path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}
