// Package registry holds the startup-populated table of validators.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openkraft/anvil/internal/domain"
)

// Kind groups validators by what their tool does.
type Kind string

const (
	KindLint     Kind = "lint"
	KindFormat   Kind = "format"
	KindAnalysis Kind = "analysis"
	KindMetrics  Kind = "metrics"
	KindTest     Kind = "test"
)

// Descriptor is the immutable metadata of one registered validator.
type Descriptor struct {
	Name           string
	Language       string
	Kind           Kind
	Description    string
	DefaultEnabled bool
	Validator      domain.Validator
}

// Registry maps validator names to descriptors.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds a descriptor. Registering a name twice is a configuration error.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return domain.ConfigError("validator name must not be empty")
	}
	if d.Validator == nil {
		return domain.ConfigError("validator %q has no implementation", d.Name)
	}
	if d.Language == "" {
		d.Language = d.Validator.Language()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.Name]; exists {
		return fmt.Errorf("%w: %w: %s", domain.ErrConfiguration, domain.ErrAlreadyRegistered, d.Name)
	}
	r.descriptors[d.Name] = d
	return nil
}

// Unregister removes a descriptor. It reports whether one was removed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.descriptors[name]
	delete(r.descriptors, name)
	return ok
}

func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// List returns every descriptor sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sortByName(out)
	return out
}

// ByLanguage returns the descriptors targeting language, sorted by name.
func (r *Registry) ByLanguage(language string) []Descriptor {
	var out []Descriptor
	for _, d := range r.List() {
		if d.Language == language {
			out = append(out, d)
		}
	}
	return out
}

// Enabled returns the descriptors the configuration enables, sorted by name.
func (r *Registry) Enabled(cfg domain.Config) []Descriptor {
	var out []Descriptor
	for _, d := range r.List() {
		if cfg.IsEnabled(d.Name, d.Language, d.DefaultEnabled) {
			out = append(out, d)
		}
	}
	return out
}

// Select resolves explicit names. Unknown names are a configuration error.
func (r *Registry) Select(names []string) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		d, ok := r.Get(n)
		if !ok {
			return nil, domain.ConfigError("unknown validator %q", n)
		}
		out = append(out, d)
	}
	sortByName(out)
	return out, nil
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	list := r.List()
	out := make([]string, len(list))
	for i, d := range list {
		out[i] = d.Name
	}
	return out
}

// Languages returns the distinct languages of registered validators, sorted.
func (r *Registry) Languages() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range r.List() {
		if !seen[d.Language] {
			seen[d.Language] = true
			out = append(out, d.Language)
		}
	}
	sort.Strings(out)
	return out
}

// Known maps each registered name to its language, the shape Config.Validate expects.
func (r *Registry) Known() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.descriptors))
	for name, d := range r.descriptors {
		out[name] = d.Language
	}
	return out
}

func sortByName(ds []Descriptor) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Name < ds[j].Name })
}
