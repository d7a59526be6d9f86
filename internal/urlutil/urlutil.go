// Package urlutil joins base URLs and paths the same way everywhere a link is
// built: target navigation, artifact links and report links.
package urlutil

import "strings"

// TrimBase strips whitespace and trailing slashes from a base URL.
func TrimBase(base string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/")
}

// IsAbsolute reports whether s is an http(s) URL.
func IsAbsolute(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Join resolves path against base. Absolute paths pass through untouched and
// an empty path yields the base root with a trailing slash.
func Join(base, path string) string {
	if IsAbsolute(path) {
		return path
	}
	base = TrimBase(base)
	if path == "" {
		return base + "/"
	}
	return base + "/" + strings.TrimLeft(path, "/")
}
