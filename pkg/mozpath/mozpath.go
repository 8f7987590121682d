// Package mozpath provides slash-separated path helpers used by the build
// reader. All paths handled by the reader are normalized to forward slashes
// so that containment checks behave the same on every platform.
package mozpath

import (
	"path"
	"path/filepath"
	"strings"
)

// Normalize cleans p and converts it to forward slashes. Symbolic links are
// never resolved.
func Normalize(p string) string {
	if p == "" {
		return ""
	}
	return path.Clean(filepath.ToSlash(p))
}

// Join joins path elements and normalizes the result.
func Join(elem ...string) string {
	parts := make([]string, 0, len(elem))
	for _, e := range elem {
		if e != "" {
			parts = append(parts, filepath.ToSlash(e))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return path.Join(parts...)
}

// Dir returns all but the last element of p.
func Dir(p string) string {
	return path.Dir(Normalize(p))
}

// Base returns the last element of p.
func Base(p string) string {
	return path.Base(Normalize(p))
}

// IsAbs reports whether p is absolute.
func IsAbs(p string) bool {
	return filepath.IsAbs(p) || strings.HasPrefix(filepath.ToSlash(p), "/")
}

// Rel returns target relative to base. An empty string is returned for
// identical paths, mirroring how the reader names the top directory.
func Rel(base, target string) string {
	base = Normalize(base)
	target = Normalize(target)
	if base == target {
		return ""
	}
	rel, err := filepath.Rel(filepath.FromSlash(base), filepath.FromSlash(target))
	if err != nil {
		return target
	}
	return filepath.ToSlash(rel)
}

// HasPrefix reports whether prefix is a leading path of p at segment
// granularity: "/a/b" is a prefix of "/a/b" and "/a/b/c" but not "/a/bc".
func HasPrefix(p, prefix string) bool {
	p = Normalize(p)
	prefix = Normalize(prefix)
	if prefix == "" {
		return false
	}
	if p == prefix || prefix == "/" {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}

// BaseDir returns the first of bases that is a segment-wise prefix of p, or
// the empty string when none is.
func BaseDir(p string, bases []string) string {
	for _, b := range bases {
		if HasPrefix(p, b) {
			return Normalize(b)
		}
	}
	return ""
}
