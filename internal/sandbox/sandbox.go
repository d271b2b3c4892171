// Package sandbox resolves project-relative paths against configured roots.
// Every filesystem-touching operation in the server passes through Resolve
// before any read, write, or stat, including alias targets from project
// manifests, since configuration can be wrong or changed on disk.
package sandbox

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/atelier-ai/atelier/internal/apperr"
)

// Normalize cleans a client-supplied relative path: forward slashes, no
// leading slash, dot segments collapsed. Leading ".." segments survive so
// that Resolve can reject them instead of silently clamping to the root.
func Normalize(rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = strings.TrimLeft(rel, "/")
	cleaned := path.Clean(rel)
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// Resolve joins rel onto root and fails with ErrPathEscape unless the
// normalized result is root itself or a descendant of it.
func Resolve(root, rel string) (string, error) {
	cleaned := Normalize(rel)
	abs := filepath.Join(root, filepath.FromSlash(cleaned))

	back, err := filepath.Rel(root, abs)
	if err != nil {
		return "", apperr.PathEscape(rel)
	}
	if back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", apperr.PathEscape(rel)
	}
	return abs, nil
}

// Within reports whether abs equals root or lies under it. Both paths must
// already be absolute and cleaned.
func Within(root, abs string) bool {
	if abs == root {
		return true
	}
	return strings.HasPrefix(abs, root+string(filepath.Separator))
}

// ResolveUnder resolves rel against base and additionally requires the
// result to lie within one of the allowed roots. Used for browse-style
// access where a project-root-relative path must land in a read root, the
// write root, or the staging root, never elsewhere in the project tree.
func ResolveUnder(base string, allowed []string, rel string) (string, error) {
	abs, err := Resolve(base, rel)
	if err != nil {
		return "", err
	}
	for _, root := range allowed {
		if Within(root, abs) {
			return abs, nil
		}
	}
	return "", apperr.PathEscape(rel)
}
