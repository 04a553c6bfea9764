package scanner

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/rules"
)

var skipDirs = map[string]bool{
	"vendor":        true,
	"node_modules":  true,
	".git":          true,
	".hg":           true,
	".svn":          true,
	".anvil":        true,
	"__pycache__":   true,
	".venv":         true,
	"venv":          true,
	".tox":          true,
	".mypy_cache":   true,
	".pytest_cache": true,
}

// FileScanner implements domain.FileCollector by walking the filesystem.
type FileScanner struct {
	detector domain.LanguageDetector
}

func New(detector domain.LanguageDetector) *FileScanner {
	return &FileScanner{detector: detector}
}

// Collect returns the project's source files grouped by language, as sorted
// repo-relative forward-slash paths. An empty languages list collects every
// known language.
func (s *FileScanner) Collect(projectPath string, languages []string, exclude []string) (map[string][]string, error) {
	absPath, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(languages))
	for _, l := range languages {
		wanted[l] = true
	}

	result := make(map[string][]string)
	err = filepath.WalkDir(absPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, _ := filepath.Rel(absPath, path)
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if relPath == "." {
				return nil
			}
			if skipDirs[d.Name()] || rules.Excluded(exclude, relPath+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		lang := s.detector.LanguageOf(relPath)
		if lang == "" || (len(wanted) > 0 && !wanted[lang]) {
			return nil
		}
		if rules.Excluded(exclude, relPath) {
			return nil
		}
		result[lang] = append(result[lang], relPath)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for lang := range result {
		sort.Strings(result[lang])
	}
	return result, nil
}
