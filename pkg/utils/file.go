package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// ClearFolder removes everything inside folderPath, keeping the folder.
func ClearFolder(folderPath string) error {
	entries, err := os.ReadDir(folderPath)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(folderPath, entry.Name())); err != nil {
			return err
		}
	}

	return nil
}

// UniquePath returns dir/name+ext, or dir/name_<n>+ext for the first n that
// does not exist yet.
func UniquePath(dir, name, ext string) string {
	path := filepath.Join(dir, name+ext)
	for n := 1; fileExists(path); n++ {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", name, n, ext))
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
