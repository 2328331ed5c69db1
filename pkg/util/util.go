// Package util holds small path and permission helpers shared across the
// sync packages.
//
// Throughout the codebase, relative paths are handled as normalized "path
// keys": forward-slash separated, cleaned, relative to a source or
// destination root. Keys are for set membership and comparison only; they
// are converted back to OS-native form before any filesystem access.
package util

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Permission constants for file and directory modes.
const (
	// PermUserWrite is the user-write permission bit (0200).
	PermUserWrite os.FileMode = 0200

	// UserWritableDirPerms represents the standard permissions for newly created directories (rwxr-xr-x).
	UserWritableDirPerms os.FileMode = 0755
	// UserWritableFilePerms represents the standard permissions for newly created files (rw-r--r--).
	UserWritableFilePerms os.FileMode = 0644
)

// WithUserWritePermission ensures that any directory/file permission has the
// owner-write bit (0200) set. This prevents the sync user from being locked
// out on subsequent runs when the source carries read-only permissions.
func WithUserWritePermission(basePerm os.FileMode) os.FileMode {
	return basePerm | PermUserWrite
}

// NormalizePath converts a path into its key form: forward slashes, cleaned.
func NormalizePath(p string) string {
	return path.Clean(filepath.ToSlash(p))
}

// NormalizedRelPath returns the path key of absPath relative to root.
// The root itself maps to ".".
func NormalizedRelPath(root, absPath string) (string, error) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", fmt.Errorf("could not relativize %s against %s: %w", absPath, root, err)
	}
	return NormalizePath(rel), nil
}

// DenormalizedAbsPath converts a path key back to an OS-native absolute path
// under root.
func DenormalizedAbsPath(root, relPathKey string) string {
	if relPathKey == "." {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(relPathKey))
}

// HasPathPrefix reports whether the path key is equal to, or lies under,
// the prefix key. Matching is component-wise: "movies/a" is under "movies",
// but "movies-hd/a" is not.
func HasPathPrefix(relPathKey, prefixKey string) bool {
	if prefixKey == "." || relPathKey == prefixKey {
		return true
	}
	return strings.HasPrefix(relPathKey, prefixKey+"/")
}

// AnyPathPrefix reports whether any of the prefix keys covers the path key.
func AnyPathPrefix(relPathKey string, prefixKeys []string) bool {
	for _, prefix := range prefixKeys {
		if HasPathPrefix(relPathKey, prefix) {
			return true
		}
	}
	return false
}

// NormalizeExt canonicalizes a file extension: lowercase with a leading dot.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ext
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// ExpandPath expands the tilde (~) prefix in a path to the user's home directory.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil // No tilde, return as-is.
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}

	// Replace the tilde with the home directory.
	return filepath.Join(home, p[1:]), nil
}
