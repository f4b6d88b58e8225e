package utils

import (
	"path/filepath"
	"runtime"
	"strings"
)

// CaseInsensitiveFS reports whether paths on the host filesystem compare
// case-insensitively by default.
func CaseInsensitiveFS() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// NormalizePath cleans a path and folds its case on case-insensitive filesystems
func NormalizePath(p string) string {
	p = filepath.Clean(p)
	if CaseInsensitiveFS() {
		return strings.ToLower(p)
	}

	return p
}

// SamePath compares two paths using the host filesystem's case rules
func SamePath(a, b string) bool {
	if CaseInsensitiveFS() {
		return strings.EqualFold(filepath.Clean(a), filepath.Clean(b))
	}

	return filepath.Clean(a) == filepath.Clean(b)
}

// IsSimpleName returns true if name is a bare library or script name rather than a path
func IsSimpleName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	if strings.ContainsAny(name, `/\:*?"<>|`) {
		return false
	}

	return strings.TrimSpace(name) == name
}
