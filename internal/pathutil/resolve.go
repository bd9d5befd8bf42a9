// Package pathutil resolves local paths named on the command line.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveAbsolutePath converts a path to an absolute one with a leading ~
// expanded. Symlinks in the existing portion of the path are resolved and
// any components that don't exist yet are appended unchanged, so a download
// target inside a linked directory resolves before it is created.
func ResolveAbsolutePath(path string) (string, error) {
	if path == "" {
		return os.Getwd()
	}

	// Expand ~ to home directory
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = home + path[1:]
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	// Try to resolve the full path first (fast path if it exists)
	resolved, err := filepath.EvalSymlinks(absPath)
	if err == nil {
		return resolved, nil
	}

	// Path doesn't fully exist - find the deepest existing ancestor
	// and resolve junctions there, then append the rest
	current := absPath
	var remainder []string

	for {
		if _, err := os.Stat(current); err == nil {
			// Found an existing directory - resolve it
			resolved, err := filepath.EvalSymlinks(current)
			if err != nil {
				resolved = current // fallback if resolution fails
			}
			// Append the non-existent remainder
			if len(remainder) > 0 {
				// Reverse remainder (we collected bottom-up)
				for i := len(remainder) - 1; i >= 0; i-- {
					resolved = filepath.Join(resolved, remainder[i])
				}
			}
			return resolved, nil
		}

		// Move up one directory
		parent := filepath.Dir(current)
		if parent == current {
			// Reached root without finding existing dir
			return absPath, nil
		}
		remainder = append(remainder, filepath.Base(current))
		current = parent
	}
}
