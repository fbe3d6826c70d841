package files

import (
	"fmt"
	"os"
	"path/filepath"
)

// FindUp looks for the first of names in dir and then in each parent of dir.
// It returns the path of the match closest to dir, or "" if there is none.
func FindUp(dir string, names ...string) (string, error) {
	curDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", dir, err)
	}
	for {
		for _, name := range names {
			p := filepath.Join(curDir, name)
			fi, err := os.Stat(p)
			if err == nil && !fi.IsDir() {
				return p, nil
			}
			if err != nil && !os.IsNotExist(err) {
				return "", fmt.Errorf("checking %q: %w", p, err)
			}
		}
		parent := filepath.Dir(curDir)
		if parent == curDir {
			return "", nil
		}
		curDir = parent
	}
}
