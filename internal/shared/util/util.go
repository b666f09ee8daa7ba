package util

import (
	"path/filepath"
	"sort"
	"strings"
)

// SlashPath cleans p and uses forward slashes, so paths compare equal on
// every platform. An empty or "." path yields "".
func SlashPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		return ""
	}
	clean := filepath.ToSlash(filepath.Clean(trimmed))
	if clean == "." {
		return ""
	}
	return clean
}

// IsWithin reports whether p lies strictly below dir.
func IsWithin(p, dir string) bool {
	p = SlashPath(p)
	dir = SlashPath(dir)
	if p == "" || dir == "" || p == dir {
		return false
	}
	if dir == "/" {
		return strings.HasPrefix(p, "/")
	}
	return strings.HasPrefix(p, dir+"/")
}

// ContainsPathSeparator returns true when value includes either slash separator.
func ContainsPathSeparator(value string) bool {
	return strings.ContainsAny(value, `/\`)
}

// SortedStringKeys returns the map's keys in sorted order.
func SortedStringKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
