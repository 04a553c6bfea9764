package detector

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// LanguageDetector implements domain.LanguageDetector from file extensions
// and project marker files.
type LanguageDetector struct{}

func New() *LanguageDetector {
	return &LanguageDetector{}
}

var extensions = map[string]string{
	".py":  "python",
	".pyi": "python",
	".c":   "cpp",
	".cc":  "cpp",
	".cpp": "cpp",
	".cxx": "cpp",
	".c++": "cpp",
	".h":   "cpp",
	".hh":  "cpp",
	".hpp": "cpp",
	".hxx": "cpp",
	".go":  "go",
}

// markers are root-level files that announce a language even before any
// source file of it exists.
var markers = map[string]string{
	"go.mod":                "go",
	"go.work":               "go",
	"pyproject.toml":        "python",
	"setup.py":              "python",
	"setup.cfg":             "python",
	"requirements.txt":      "python",
	"CMakeLists.txt":        "cpp",
	"compile_commands.json": "cpp",
	"meson.build":           "cpp",
}

// LanguageOf maps a path to its language, or "" when unknown.
func (d *LanguageDetector) LanguageOf(p string) string {
	return extensions[strings.ToLower(path.Ext(filepath.ToSlash(p)))]
}

// Detect returns the sorted languages present in the project, from the
// given files plus the marker files at its root.
func (d *LanguageDetector) Detect(projectPath string, files []string) []string {
	found := make(map[string]bool)
	for _, f := range files {
		if lang := d.LanguageOf(f); lang != "" {
			found[lang] = true
		}
	}
	for name, lang := range markers {
		if _, err := os.Stat(filepath.Join(projectPath, name)); err == nil {
			found[lang] = true
		}
	}

	langs := make([]string, 0, len(found))
	for lang := range found {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}
