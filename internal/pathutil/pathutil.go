// Package pathutil expands user-relative filesystem paths.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// Expand resolves a leading "~" to the current user's home directory and
// returns an absolute, cleaned path.
func Expand(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Abs(p)
}
