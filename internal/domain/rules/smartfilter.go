package rules

import (
	"sort"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/stats"
)

// recentFailureWindow is how many of the latest executions make an entity
// "recently failing".
const recentFailureWindow = 2

// SmartFilter skips entities with a long, stable history and moves flaky or
// recently failing ones to the front.
type SmartFilter struct {
	SkipThreshold             float64
	MinRuns                   int
	PrioritizeFlaky           bool
	FlakyMin                  float64
	FlakyMax                  float64
	PrioritizeRecentlyFailing bool
	Explicit                  []string
}

// NewSmartFilter builds a filter from configuration.
func NewSmartFilter(cfg domain.SmartFilterConfig) SmartFilter {
	flakyMin, flakyMax := cfg.FlakyRange()
	return SmartFilter{
		SkipThreshold:             cfg.Skip(),
		MinRuns:                   cfg.MinRuns,
		PrioritizeFlaky:           cfg.PrioritizeFlaky,
		FlakyMin:                  flakyMin,
		FlakyMax:                  flakyMax,
		PrioritizeRecentlyFailing: cfg.PrioritizeRecentlyFailing,
		Explicit:                  cfg.Explicit,
	}
}

// FilterResult lists what to run (prioritized first) and what was skipped.
type FilterResult struct {
	Run                 []string `json:"run"`
	Skipped             []string `json:"skipped"`
	Prioritized         []string `json:"prioritized"`
	InsufficientHistory []string `json:"insufficient_history,omitempty"`
}

// Apply decides per entity. recent holds newest-first statuses.
func (f SmartFilter) Apply(ids []string, seen map[string]domain.EntityStatistics, recent map[string][]domain.Status) FilterResult {
	var prioritized, run, skipped, young []string

	for _, id := range sortedUnique(ids) {
		// 1. explicit selection always runs
		if len(f.Explicit) > 0 && matchAny(f.Explicit, id) {
			run = append(run, id)
			continue
		}

		// 2. new entities always run
		s, ok := seen[id]
		if !ok || s.TotalRuns < f.MinRuns {
			run = append(run, id)
			young = append(young, id)
			continue
		}

		success := s.SuccessRate()

		// 3. flaky entities go first
		if f.PrioritizeFlaky && success >= f.FlakyMin && success < f.FlakyMax {
			prioritized = append(prioritized, id)
			continue
		}

		// 4. so do recently failing ones
		if f.PrioritizeRecentlyFailing && stats.HasFailure(stats.Recent(recent[id], recentFailureWindow)) {
			prioritized = append(prioritized, id)
			continue
		}

		// 5. stable entities are skipped
		if success >= f.SkipThreshold {
			skipped = append(skipped, id)
			continue
		}
		run = append(run, id)
	}

	sort.Strings(prioritized)
	return FilterResult{
		Run:                 append(append([]string{}, prioritized...), run...),
		Skipped:             nonNil(skipped),
		Prioritized:         nonNil(prioritized),
		InsufficientHistory: young,
	}
}

func matchAny(patterns []string, id string) bool {
	for _, p := range patterns {
		if Match(p, id) {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
