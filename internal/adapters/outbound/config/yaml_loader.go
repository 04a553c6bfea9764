package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/openkraft/anvil/internal/domain"
	"gopkg.in/yaml.v3"
)

// FileName is the project configuration file looked up in the project root.
const FileName = ".anvil.yaml"

// YAMLLoader implements domain.ConfigLoader by reading .anvil.yaml.
type YAMLLoader struct {
	known  map[string]string
	lookup func(string) (string, bool)
}

// New creates a YAMLLoader. known maps registered validator names to their
// language; configuration naming any other validator is rejected.
func New(known map[string]string) *YAMLLoader {
	return &YAMLLoader{known: known, lookup: os.LookupEnv}
}

// WithEnv replaces the environment used for ${VAR} expansion.
func (l *YAMLLoader) WithEnv(lookup func(string) (string, bool)) *YAMLLoader {
	l.lookup = lookup
	return l
}

// Load reads .anvil.yaml from projectPath.
// Returns DefaultConfig if the file does not exist.
func (l *YAMLLoader) Load(projectPath string) (domain.Config, error) {
	cfg, err := l.LoadFile(filepath.Join(projectPath, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return domain.DefaultConfig(), nil
	}
	return cfg, err
}

// LoadFile reads an explicit configuration file. A missing file is an error
// wrapping os.ErrNotExist.
func (l *YAMLLoader) LoadFile(path string) (domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Config{}, err
	}
	name := filepath.Base(path)

	expanded, err := l.expand(data)
	if err != nil {
		return domain.Config{}, fmt.Errorf("invalid %s: %w", name, err)
	}

	var cfg domain.Config
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return domain.Config{}, domain.ConfigError("parsing %s: %v", name, err)
	}

	// Validate before applying defaults so typos in raw input surface.
	if err := cfg.Validate(l.known); err != nil {
		return domain.Config{}, fmt.Errorf("invalid %s: %w", name, err)
	}

	return cfg.WithDefaults(), nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expand substitutes ${VAR} and ${VAR:-default}. An unset variable without
// a default is a configuration error.
func (l *YAMLLoader) expand(data []byte) ([]byte, error) {
	var missing string
	out := envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		if v, ok := l.lookup(string(m[1])); ok {
			return []byte(v)
		}
		if len(m[2]) > 0 {
			return m[3]
		}
		if missing == "" {
			missing = string(m[1])
		}
		return ref
	})
	if missing != "" {
		return nil, domain.ConfigError("environment variable %s is not set", missing)
	}
	return out, nil
}
