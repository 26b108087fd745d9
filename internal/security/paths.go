// Package security guards the files written for exports and debug output.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideDir is returned for paths that resolve outside their output
// directory.
var ErrOutsideDir = errors.New("path escapes output directory")

// canonical resolves symlinks in path, or in its nearest existing parent
// when path does not exist yet.
func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, _ := filepath.Rel(dir, path)
			return filepath.Join(resolved, rel)
		}
		if dir == filepath.Dir(dir) {
			return path
		}
	}
}

// ValidatePathWithinDirectory returns ErrOutsideDir when filePath, after
// cleaning and resolving symlinks, is not inside dir.
func ValidatePathWithinDirectory(filePath, dir string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", filePath, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}
	rel, err := filepath.Rel(canonical(absDir), canonical(absPath))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%s: %w %s", filePath, ErrOutsideDir, dir)
	}
	return nil
}

// JoinWithin joins a sanitised name onto dir and checks the result stays
// inside dir.
func JoinWithin(dir, name string) (string, error) {
	path := filepath.Join(dir, SanitizeFilename(name))
	if err := ValidatePathWithinDirectory(path, dir); err != nil {
		return "", err
	}
	return path, nil
}

// maxFilenameLen caps sanitised names.
const maxFilenameLen = 128

// SanitizeFilename turns an identifier such as a building id into a file
// name: runs of anything but ASCII letters, digits, dot, underscore and
// dash become one underscore, and leading or trailing dots and
// underscores are dropped. An empty result becomes "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	under := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
			under = false
		case !under:
			b.WriteByte('_')
			under = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
