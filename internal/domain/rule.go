package domain

import "time"

// Criterion selects which entities an ExecutionRule picks.
type Criterion string

const (
	CriterionAll          Criterion = "all"
	CriterionGroup        Criterion = "group"
	CriterionFailedInLast Criterion = "failed-in-last"
	CriterionFailureRate  Criterion = "failure-rate"
)

// ValidCriteria enumerates all recognized criteria.
var ValidCriteria = []Criterion{CriterionAll, CriterionGroup, CriterionFailedInLast, CriterionFailureRate}

// Scope is the entity type a rule selects over.
type Scope string

const (
	ScopeValidator Scope = "validator"
	ScopeTest      Scope = "test"
	ScopeFile      Scope = "file"
)

var ValidScopes = []Scope{ScopeValidator, ScopeTest, ScopeFile}

const (
	DefaultFailedInLastWindow   = 5
	DefaultFailureRateThreshold = 0.10
)

// EntityType maps a scope onto the entity ids it selects.
func (s Scope) EntityType() EntityType {
	switch s {
	case ScopeTest:
		return EntityTest
	case ScopeFile:
		return EntityFile
	default:
		return EntityValidator
	}
}

// ExecutionRule is a named, persisted selection policy.
type ExecutionRule struct {
	Name        string    `yaml:"name"                  json:"name"`
	Criterion   Criterion `yaml:"criterion"             json:"criterion"`
	Scope       Scope     `yaml:"scope,omitempty"       json:"scope,omitempty"`
	Groups      []string  `yaml:"groups,omitempty"      json:"groups,omitempty"`
	Threshold   *float64  `yaml:"threshold,omitempty"   json:"threshold,omitempty"`
	Window      int       `yaml:"window,omitempty"      json:"window,omitempty"`
	Enabled     *bool     `yaml:"enabled,omitempty"     json:"enabled,omitempty"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	CreatedAt   time.Time `yaml:"-"                     json:"created_at,omitempty"`
	UpdatedAt   time.Time `yaml:"-"                     json:"updated_at,omitempty"`
}

// IsEnabled treats an unset flag as enabled.
func (r ExecutionRule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// EffectiveThreshold falls back to DefaultFailureRateThreshold only when no
// threshold was given. An explicit 0 selects every entity with history.
func (r ExecutionRule) EffectiveThreshold() float64 {
	if r.Threshold == nil {
		return DefaultFailureRateThreshold
	}
	return *r.Threshold
}

// EffectiveScope defaults to validator scope.
func (r ExecutionRule) EffectiveScope() Scope {
	if r.Scope == "" {
		return ScopeValidator
	}
	return r.Scope
}

// Validate checks the rule for unknown criteria, scopes and out-of-range values.
func (r ExecutionRule) Validate() error {
	if r.Name == "" {
		return ConfigError("rule name must not be empty")
	}
	if !isValidCriterion(r.Criterion) {
		return ConfigError("rule %q: unknown criterion %q (valid: all, group, failed-in-last, failure-rate)", r.Name, r.Criterion)
	}
	if r.Scope != "" && !isValidScope(r.Scope) {
		return ConfigError("rule %q: unknown scope %q (valid: validator, test, file)", r.Name, r.Scope)
	}
	if r.Window < 0 {
		return ConfigError("rule %q: window must be > 0 (got %d)", r.Name, r.Window)
	}
	if t := r.Threshold; t != nil && (*t < 0 || *t > 1) {
		return ConfigError("rule %q: threshold must be between 0.0 and 1.0 (got %.2f)", r.Name, *t)
	}
	if r.Criterion == CriterionGroup && len(r.Groups) == 0 {
		return ConfigError("rule %q: criterion group requires at least one pattern", r.Name)
	}
	return nil
}

func isValidCriterion(c Criterion) bool {
	for _, v := range ValidCriteria {
		if v == c {
			return true
		}
	}
	return false
}

func isValidScope(s Scope) bool {
	for _, v := range ValidScopes {
		if v == s {
			return true
		}
	}
	return false
}
