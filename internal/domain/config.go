package domain

import (
	"fmt"
	"runtime"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// KnownLanguages enumerates the languages validators can target.
var KnownLanguages = []string{"cpp", "go", "python"}

const (
	DefaultTimeout      = 5 * time.Minute
	DefaultDatabasePath = ".anvil/stats.db"
	DefaultStatsWindow  = 20

	DefaultSkipThreshold = 0.95
	DefaultFlakyMin      = 0.3
	DefaultFlakyMax      = 0.7
)

// Duration is a time.Duration that reads Go duration strings ("90s", "5m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config holds project configuration loaded from .anvil.yaml.
type Config struct {
	MaxWorkers     int                        `yaml:"max_workers"     json:"max_workers,omitempty"`
	FailFast       bool                       `yaml:"fail_fast"       json:"fail_fast,omitempty"`
	Incremental    bool                       `yaml:"incremental"     json:"incremental,omitempty"`
	Timeout        Duration                   `yaml:"timeout"         json:"timeout,omitempty"`
	DefaultEnabled *bool                      `yaml:"default_enabled" json:"default_enabled,omitempty"`
	Exclude        []string                   `yaml:"exclude"         json:"exclude,omitempty"`
	Languages      map[string]LanguageConfig  `yaml:"languages"       json:"languages,omitempty"`
	Validators     map[string]ValidatorConfig `yaml:"validators"      json:"validators,omitempty"`
	Statistics     StatisticsConfig           `yaml:"statistics"      json:"statistics"`
	Rules          []ExecutionRule            `yaml:"rules"           json:"rules,omitempty"`
	Report         ReportConfig               `yaml:"report"          json:"report"`
	Metrics        MetricsConfig              `yaml:"metrics"         json:"metrics"`
	Logging        LoggingConfig              `yaml:"logging"         json:"logging"`
}

// LanguageConfig enables a language and sets its exclusions.
type LanguageConfig struct {
	Enabled *bool    `yaml:"enabled" json:"enabled,omitempty"`
	Exclude []string `yaml:"exclude" json:"exclude,omitempty"`
	Timeout Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// ValidatorConfig configures one validator. Options is forwarded verbatim
// to the validator's command builder.
type ValidatorConfig struct {
	Enabled  *bool          `yaml:"enabled"  json:"enabled,omitempty"`
	Required bool           `yaml:"required" json:"required,omitempty"`
	Timeout  Duration       `yaml:"timeout"  json:"timeout,omitempty"`
	Exclude  []string       `yaml:"exclude"  json:"exclude,omitempty"`
	Options  map[string]any `yaml:"options"  json:"options,omitempty"`
}

type StatisticsConfig struct {
	Enabled       *bool             `yaml:"enabled"        json:"enabled,omitempty"`
	DatabasePath  string            `yaml:"database_path"  json:"database_path,omitempty"`
	RetentionDays int               `yaml:"retention_days" json:"retention_days,omitempty"`
	Window        int               `yaml:"window"         json:"window,omitempty"`
	SmartFilter   SmartFilterConfig `yaml:"smart_filter"   json:"smart_filter"`
}

// SmartFilterConfig rates are pointers so an explicit 0 survives WithDefaults.
type SmartFilterConfig struct {
	Enabled                   bool     `yaml:"enabled"                     json:"enabled"`
	SkipThreshold             *float64 `yaml:"skip_threshold"              json:"skip_threshold,omitempty"`
	MinRuns                   int      `yaml:"min_runs"                    json:"min_runs,omitempty"`
	PrioritizeFlaky           bool     `yaml:"prioritize_flaky"            json:"prioritize_flaky,omitempty"`
	FlakyMin                  *float64 `yaml:"flaky_min"                   json:"flaky_min,omitempty"`
	FlakyMax                  *float64 `yaml:"flaky_max"                   json:"flaky_max,omitempty"`
	PrioritizeRecentlyFailing bool     `yaml:"prioritize_recently_failing" json:"prioritize_recently_failing,omitempty"`
	Explicit                  []string `yaml:"explicit"                    json:"explicit,omitempty"`
}

// Skip returns the success rate at or above which an entity is skipped.
func (sf SmartFilterConfig) Skip() float64 { return floatOr(sf.SkipThreshold, DefaultSkipThreshold) }

// FlakyRange returns the [min, max) success rate band treated as flaky.
func (sf SmartFilterConfig) FlakyRange() (float64, float64) {
	return floatOr(sf.FlakyMin, DefaultFlakyMin), floatOr(sf.FlakyMax, DefaultFlakyMax)
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

type ReportConfig struct {
	JSONPath string `yaml:"json_path" json:"json_path,omitempty"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile" json:"textfile,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"  json:"level,omitempty"`
	Format string `yaml:"format" json:"format,omitempty"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults fills unset values. Explicit values are never replaced.
func (c Config) WithDefaults() Config {
	if c.MaxWorkers == 0 {
		c.MaxWorkers = runtime.NumCPU()
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(DefaultTimeout)
	}
	if c.Statistics.DatabasePath == "" {
		c.Statistics.DatabasePath = DefaultDatabasePath
	}
	if c.Statistics.Window == 0 {
		c.Statistics.Window = DefaultStatsWindow
	}
	sf := &c.Statistics.SmartFilter
	skip := sf.Skip()
	lo, hi := sf.FlakyRange()
	sf.SkipThreshold, sf.FlakyMin, sf.FlakyMax = &skip, &lo, &hi
	if sf.MinRuns == 0 {
		sf.MinRuns = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	return c
}

// StatisticsEnabled treats an unset flag as enabled.
func (c Config) StatisticsEnabled() bool {
	return c.Statistics.Enabled == nil || *c.Statistics.Enabled
}

// Validate checks the config against the registered validators
// (name -> language) and returns a ConfigurationError on the first problem.
func (c Config) Validate(known map[string]string) error {
	// 1. max_workers must not be negative
	if c.MaxWorkers < 0 {
		return ConfigError("max_workers must be >= 0 (got %d)", c.MaxWorkers)
	}

	// 2. timeouts must not be negative
	if c.Timeout < 0 {
		return ConfigError("timeout must be positive")
	}

	// 3. languages must be known
	for _, lang := range sortedKeys(c.Languages) {
		if !isKnownLanguage(lang) {
			return ConfigError("unknown language %q (valid: cpp, go, python)", lang)
		}
		if c.Languages[lang].Timeout < 0 {
			return ConfigError("languages.%s.timeout must be positive", lang)
		}
	}

	// 4. validators must be registered
	for _, name := range sortedKeys(c.Validators) {
		if _, ok := known[name]; !ok {
			return ConfigError("unknown validator %q", name)
		}
		if c.Validators[name].Timeout < 0 {
			return ConfigError("validators.%s.timeout must be positive", name)
		}
	}

	// 5. statistics section
	st := c.Statistics
	if st.RetentionDays < 0 {
		return ConfigError("statistics.retention_days must be >= 0 (got %d)", st.RetentionDays)
	}
	if st.Window < 0 {
		return ConfigError("statistics.window must be > 0 (got %d)", st.Window)
	}
	sf := st.SmartFilter
	for _, rate := range []struct {
		name  string
		value *float64
	}{
		{"skip_threshold", sf.SkipThreshold},
		{"flaky_min", sf.FlakyMin},
		{"flaky_max", sf.FlakyMax},
	} {
		if v := rate.value; v != nil && (*v < 0 || *v > 1) {
			return ConfigError("statistics.smart_filter.%s must be between 0.0 and 1.0 (got %.2f)", rate.name, *v)
		}
	}
	// compared with defaults filled in, so setting one bound alone is valid
	if lo, hi := sf.FlakyRange(); hi < lo {
		return ConfigError("statistics.smart_filter.flaky_max must be >= flaky_min")
	}
	if sf.MinRuns < 0 {
		return ConfigError("statistics.smart_filter.min_runs must be >= 0 (got %d)", sf.MinRuns)
	}

	// 6. rules must be valid and uniquely named
	seen := make(map[string]bool, len(c.Rules))
	for _, r := range c.Rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.Name] {
			return ConfigError("duplicate rule %q", r.Name)
		}
		seen[r.Name] = true
	}

	// 7. logging
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return ConfigError("unknown logging.format %q (valid: console, json)", c.Logging.Format)
	}

	return nil
}

// IsEnabled resolves whether a validator runs. The most specific explicit
// flag wins: validator, then language, then default_enabled, then the
// validator's own default.
func (c Config) IsEnabled(name, language string, descriptorDefault bool) bool {
	if vc, ok := c.Validators[name]; ok && vc.Enabled != nil {
		return *vc.Enabled
	}
	if lc, ok := c.Languages[language]; ok && lc.Enabled != nil {
		return *lc.Enabled
	}
	if c.DefaultEnabled != nil {
		return *c.DefaultEnabled && descriptorDefault
	}
	return descriptorDefault
}

// LanguageEnabled reports whether any validator of the language may run.
func (c Config) LanguageEnabled(language string) bool {
	if lc, ok := c.Languages[language]; ok && lc.Enabled != nil {
		return *lc.Enabled
	}
	return true
}

// EffectiveExclude returns the exclusion globs for a validator.
// The most specific non-empty list replaces the others wholesale.
func (c Config) EffectiveExclude(name, language string) []string {
	if vc, ok := c.Validators[name]; ok && len(vc.Exclude) > 0 {
		return vc.Exclude
	}
	if lc, ok := c.Languages[language]; ok && len(lc.Exclude) > 0 {
		return lc.Exclude
	}
	return c.Exclude
}

// EffectiveTimeout returns the timeout for a validator, most specific first.
func (c Config) EffectiveTimeout(name, language string) time.Duration {
	if vc, ok := c.Validators[name]; ok && vc.Timeout > 0 {
		return time.Duration(vc.Timeout)
	}
	if lc, ok := c.Languages[language]; ok && lc.Timeout > 0 {
		return time.Duration(lc.Timeout)
	}
	if c.Timeout > 0 {
		return time.Duration(c.Timeout)
	}
	return DefaultTimeout
}

// Options returns the opaque options bag for a validator.
func (c Config) Options(name string) map[string]any {
	return c.Validators[name].Options
}

// IsRequired reports whether a missing tool should abort with exit code 3.
func (c Config) IsRequired(name string) bool {
	return c.Validators[name].Required
}

// FindRule returns the config-defined rule with the given name.
func (c Config) FindRule(name string) (ExecutionRule, bool) {
	for _, r := range c.Rules {
		if r.Name == name {
			return r, true
		}
	}
	return ExecutionRule{}, false
}

func isKnownLanguage(lang string) bool {
	for _, l := range KnownLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
