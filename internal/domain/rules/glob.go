package rules

import (
	"regexp"
	"strings"
	"sync"
)

var globCache sync.Map // pattern -> *regexp.Regexp

// Match reports whether id matches the shell-style pattern. Unlike
// path.Match, "*" also crosses "/" so "tests/*" selects nested test ids.
func Match(pattern, id string) bool {
	return compile(pattern).MatchString(id)
}

// MatchGroup reports whether id matches p or p* for any pattern, so a bare
// file path selects every test id beneath it.
func MatchGroup(patterns []string, id string) bool {
	for _, p := range patterns {
		if Match(p, id) || Match(p+"*", id) {
			return true
		}
	}
	return false
}

func compile(pattern string) *regexp.Regexp {
	if re, ok := globCache.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(translate(pattern))
	globCache.Store(pattern, re)
	return re
}

// translate converts fnmatch syntax to an anchored regexp.
func translate(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			end := strings.IndexByte(pattern[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := pattern[i+1 : i+1+end]
			if end == 0 {
				// "[]" never closes a class in fnmatch; treat literally
				b.WriteString(`\[\]`)
				i++
				continue
			}
			b.WriteString("[")
			if class[0] == '!' {
				b.WriteString("^")
				class = class[1:]
			}
			b.WriteString(strings.ReplaceAll(class, `\`, `\\`))
			b.WriteString("]")
			i += end + 1
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return b.String()
}

// Excluded reports whether a repo-relative path is covered by an exclusion
// list. "dir/" excludes the directory at any depth; a pattern without "/"
// matches the base name; any other pattern is matched against the whole path.
func Excluded(patterns []string, path string) bool {
	path = strings.TrimPrefix(path, "./")
	base := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		base = path[i+1:]
	}
	for _, p := range patterns {
		p = strings.TrimPrefix(strings.TrimSpace(p), "./")
		switch {
		case p == "":
			continue
		case strings.HasSuffix(p, "/"):
			dir := strings.TrimSuffix(p, "/")
			if strings.HasPrefix(path, dir+"/") || strings.Contains(path, "/"+dir+"/") || Match(dir+"/*", path) {
				return true
			}
		case !strings.Contains(p, "/"):
			if Match(p, base) {
				return true
			}
		default:
			if Match(p, path) || strings.HasPrefix(path, p+"/") {
				return true
			}
		}
	}
	return false
}
