package normalize

import (
	"path"
	"path/filepath"
	"strings"
)

// NormalizePath makes p repo-relative with forward slashes.
// Synthetic locations such as "<system>" pass through untouched.
func NormalizePath(workDir, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || strings.HasPrefix(p, "<") {
		return p
	}
	// Windows separators may arrive on any platform.
	p = strings.ReplaceAll(p, `\`, "/")

	if workDir != "" {
		root := strings.ReplaceAll(filepath.Clean(workDir), `\`, "/")
		if isAbs(p) {
			if rel, ok := relativeTo(root, p); ok {
				p = rel
			}
		}
	}

	p = path.Clean(p)
	return strings.TrimPrefix(p, "./")
}

func isAbs(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	// drive letter, e.g. C:/src
	return len(p) > 2 && p[1] == ':' && p[2] == '/'
}

func relativeTo(root, p string) (string, bool) {
	root = strings.TrimSuffix(root, "/")
	if strings.EqualFold(p, root) {
		return ".", true
	}
	prefix := root + "/"
	if len(p) > len(prefix) && strings.EqualFold(p[:len(prefix)], prefix) {
		return p[len(prefix):], true
	}
	return p, false
}
