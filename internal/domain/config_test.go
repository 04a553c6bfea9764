package domain_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var known = map[string]string{
	"flake8": "python",
	"pylint": "python",
	"gofmt":  "go",
}

func boolPtr(b bool) *bool { return &b }

func floatPtr(f float64) *float64 { return &f }

func TestDefaultConfig_FillsDefaults(t *testing.T) {
	cfg := domain.DefaultConfig()
	assert.Equal(t, runtime.NumCPU(), cfg.MaxWorkers)
	assert.Equal(t, domain.Duration(domain.DefaultTimeout), cfg.Timeout)
	assert.Equal(t, domain.DefaultDatabasePath, cfg.Statistics.DatabasePath)
	assert.Equal(t, domain.DefaultStatsWindow, cfg.Statistics.Window)
	assert.InDelta(t, 0.95, cfg.Statistics.SmartFilter.Skip(), 0.001)
	assert.Equal(t, 5, cfg.Statistics.SmartFilter.MinRuns)
	assert.True(t, cfg.StatisticsEnabled())
	assert.NoError(t, cfg.Validate(known))
}

func TestWithDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := domain.Config{MaxWorkers: 1, Timeout: domain.Duration(time.Second)}.WithDefaults()
	assert.Equal(t, 1, cfg.MaxWorkers)
	assert.Equal(t, domain.Duration(time.Second), cfg.Timeout)
}

func TestValidate_UnknownValidator(t *testing.T) {
	cfg := domain.Config{Validators: map[string]domain.ValidatorConfig{"flake9": {}}}
	err := cfg.Validate(known)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), `unknown validator "flake9"`)
}

func TestValidate_UnknownLanguage(t *testing.T) {
	cfg := domain.Config{Languages: map[string]domain.LanguageConfig{"cobol": {}}}
	err := cfg.Validate(known)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestValidate_NegativeWorkers(t *testing.T) {
	err := domain.Config{MaxWorkers: -1}.Validate(known)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestValidate_SmartFilterRange(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Statistics.SmartFilter.SkipThreshold = floatPtr(1.5)
	assert.ErrorIs(t, cfg.Validate(known), domain.ErrConfiguration)
}

func TestValidate_SingleFlakyBoundUsesDefaultForTheOther(t *testing.T) {
	cfg := domain.Config{}
	cfg.Statistics.SmartFilter.FlakyMin = floatPtr(0.4)
	require.NoError(t, cfg.Validate(known))

	lo, hi := cfg.WithDefaults().Statistics.SmartFilter.FlakyRange()
	assert.InDelta(t, 0.4, lo, 0.001)
	assert.InDelta(t, domain.DefaultFlakyMax, hi, 0.001)

	cfg.Statistics.SmartFilter.FlakyMin = floatPtr(0.9)
	assert.ErrorIs(t, cfg.Validate(known), domain.ErrConfiguration)
}

func TestWithDefaults_KeepsExplicitZeroRates(t *testing.T) {
	cfg := domain.Config{}
	cfg.Statistics.SmartFilter.SkipThreshold = floatPtr(0)
	cfg.Statistics.SmartFilter.FlakyMin = floatPtr(0)

	sf := cfg.WithDefaults().Statistics.SmartFilter
	assert.Zero(t, sf.Skip())
	lo, hi := sf.FlakyRange()
	assert.Zero(t, lo)
	assert.InDelta(t, domain.DefaultFlakyMax, hi, 0.001)
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name string
		rule domain.ExecutionRule
		ok   bool
	}{
		{"valid all", domain.ExecutionRule{Name: "a", Criterion: domain.CriterionAll}, true},
		{"unknown criterion", domain.ExecutionRule{Name: "a", Criterion: "changed-files"}, false},
		{"unknown scope", domain.ExecutionRule{Name: "a", Criterion: domain.CriterionAll, Scope: "module"}, false},
		{"threshold range", domain.ExecutionRule{Name: "a", Criterion: domain.CriterionFailureRate, Threshold: floatPtr(2)}, false},
		{"explicit zero threshold", domain.ExecutionRule{Name: "a", Criterion: domain.CriterionFailureRate, Threshold: floatPtr(0)}, true},
		{"group needs patterns", domain.ExecutionRule{Name: "a", Criterion: domain.CriterionGroup}, false},
		{"empty name", domain.ExecutionRule{Criterion: domain.CriterionAll}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := domain.Config{Rules: []domain.ExecutionRule{tt.rule}}.Validate(known)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrConfiguration)
			}
		})
	}
}

func TestValidate_DuplicateRule(t *testing.T) {
	rule := domain.ExecutionRule{Name: "quick", Criterion: domain.CriterionAll}
	err := domain.Config{Rules: []domain.ExecutionRule{rule, rule}}.Validate(known)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate rule")
}

func TestIsEnabled_MostSpecificWins(t *testing.T) {
	cfg := domain.Config{
		DefaultEnabled: boolPtr(false),
		Languages:      map[string]domain.LanguageConfig{"python": {Enabled: boolPtr(true)}},
		Validators:     map[string]domain.ValidatorConfig{"pylint": {Enabled: boolPtr(false)}},
	}
	assert.True(t, cfg.IsEnabled("flake8", "python", true), "language flag beats default_enabled")
	assert.False(t, cfg.IsEnabled("pylint", "python", true), "validator flag beats language flag")
	assert.False(t, cfg.IsEnabled("gofmt", "go", true), "default_enabled applies when nothing more specific is set")
}

func TestIsEnabled_DescriptorDefault(t *testing.T) {
	cfg := domain.Config{}
	assert.True(t, cfg.IsEnabled("flake8", "python", true))
	assert.False(t, cfg.IsEnabled("iwyu", "cpp", false))
}

func TestEffectiveExclude_NoAppending(t *testing.T) {
	cfg := domain.Config{
		Exclude:    []string{"vendor/"},
		Languages:  map[string]domain.LanguageConfig{"python": {Exclude: []string{"migrations/"}}},
		Validators: map[string]domain.ValidatorConfig{"pylint": {Exclude: []string{"tests/"}}},
	}
	assert.Equal(t, []string{"tests/"}, cfg.EffectiveExclude("pylint", "python"))
	assert.Equal(t, []string{"migrations/"}, cfg.EffectiveExclude("flake8", "python"))
	assert.Equal(t, []string{"vendor/"}, cfg.EffectiveExclude("gofmt", "go"))
}

func TestEffectiveTimeout(t *testing.T) {
	cfg := domain.Config{
		Timeout:    domain.Duration(time.Minute),
		Validators: map[string]domain.ValidatorConfig{"pylint": {Timeout: domain.Duration(10 * time.Second)}},
	}
	assert.Equal(t, 10*time.Second, cfg.EffectiveTimeout("pylint", "python"))
	assert.Equal(t, time.Minute, cfg.EffectiveTimeout("flake8", "python"))
	assert.Equal(t, domain.DefaultTimeout, domain.Config{}.EffectiveTimeout("flake8", "python"))
}
