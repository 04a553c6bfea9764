// Package rules resolves execution rules into the concrete entities to run.
package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/stats"
)

// Engine resolves ExecutionRules against the statistics history.
type Engine struct {
	history     domain.HistoryReader
	statsWindow int
}

// NewEngine creates an Engine. statsWindow is the window failure-rate rules
// fall back to when they do not set one.
func NewEngine(history domain.HistoryReader, statsWindow int) *Engine {
	return &Engine{history: history, statsWindow: statsWindow}
}

// Resolve returns the sorted, de-duplicated entity ids the rule selects.
//
// candidates are the entities the caller could run this invocation. For
// validator and file scopes a non-nil candidate list is the whole universe,
// so entities that only exist in history are dropped. For the test scope,
// candidates are merged with every test id in history.
//
// Entities without statistics are always selected unless the rule's group
// patterns exclude them.
func (e *Engine) Resolve(ctx context.Context, rule domain.ExecutionRule, candidates []string) ([]string, error) {
	if err := validateForResolve(rule); err != nil {
		return nil, err
	}
	scope := rule.EffectiveScope()
	et := scope.EntityType()

	known, err := e.known(ctx, scope, candidates)
	if err != nil {
		return nil, err
	}
	seen, err := e.history.EntityStatistics(ctx, et)
	if err != nil {
		return nil, fmt.Errorf("loading entity statistics: %w", err)
	}

	if len(rule.Groups) > 0 {
		known = filter(known, func(id string) bool { return MatchGroup(rule.Groups, id) })
	}

	var selected []string
	switch rule.Criterion {
	case domain.CriterionAll:
		selected = known

	case domain.CriterionGroup:
		// groups already applied above; a group rule without patterns selects nothing
		if len(rule.Groups) > 0 {
			selected = known
		}

	case domain.CriterionFailedInLast:
		n := rule.Window
		if n <= 0 {
			n = domain.DefaultFailedInLastWindow
		}
		recent, err := e.history.RecentStatuses(ctx, et, n)
		if err != nil {
			return nil, fmt.Errorf("loading recent statuses: %w", err)
		}
		selected = filter(known, func(id string) bool {
			if _, ok := seen[id]; !ok {
				return true
			}
			return stats.HasFailure(recent[id])
		})

	case domain.CriterionFailureRate:
		threshold := rule.EffectiveThreshold()
		rate, err := e.rates(ctx, et, rule.Window, seen)
		if err != nil {
			return nil, err
		}
		selected = filter(known, func(id string) bool {
			r, ok := rate[id]
			if _, hasStats := seen[id]; !hasStats || !ok {
				return true
			}
			return r >= threshold
		})
	}

	return sortedUnique(selected), nil
}

// Filter runs the smart filter over ids using the stored statistics.
func (e *Engine) Filter(ctx context.Context, et domain.EntityType, ids []string, f SmartFilter) (FilterResult, error) {
	seen, err := e.history.EntityStatistics(ctx, et)
	if err != nil {
		return FilterResult{}, fmt.Errorf("loading entity statistics: %w", err)
	}
	recent, err := e.history.RecentStatuses(ctx, et, recentFailureWindow)
	if err != nil {
		return FilterResult{}, fmt.Errorf("loading recent statuses: %w", err)
	}
	return f.Apply(ids, seen, recent), nil
}

func (e *Engine) known(ctx context.Context, scope domain.Scope, candidates []string) ([]string, error) {
	if candidates != nil && scope != domain.ScopeTest {
		return sortedUnique(candidates), nil
	}
	ids, err := e.history.EntityIDs(ctx, scope.EntityType())
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	return sortedUnique(append(append([]string{}, candidates...), ids...)), nil
}

// rates returns the failure rate per entity over window executions, or the
// materialized rate when the rule does not override the stored window.
func (e *Engine) rates(ctx context.Context, et domain.EntityType, window int, seen map[string]domain.EntityStatistics) (map[string]float64, error) {
	out := make(map[string]float64, len(seen))
	if window <= 0 || window == e.statsWindow {
		for id, s := range seen {
			out[id] = s.FailureRate
		}
		return out, nil
	}
	recent, err := e.history.RecentStatuses(ctx, et, window)
	if err != nil {
		return nil, fmt.Errorf("loading recent statuses: %w", err)
	}
	for id, sts := range recent {
		out[id] = stats.FailureRate(sts)
	}
	return out, nil
}

func validateForResolve(rule domain.ExecutionRule) error {
	switch rule.Criterion {
	case domain.CriterionAll, domain.CriterionGroup, domain.CriterionFailedInLast, domain.CriterionFailureRate:
	default:
		return domain.ConfigError("unknown criterion %q", rule.Criterion)
	}
	switch rule.EffectiveScope() {
	case domain.ScopeValidator, domain.ScopeTest, domain.ScopeFile:
	default:
		return domain.ConfigError("unknown scope %q", rule.Scope)
	}
	return nil
}

func filter(ids []string, keep func(string) bool) []string {
	var out []string
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}

func sortedUnique(ids []string) []string {
	if len(ids) == 0 {
		return []string{}
	}
	out := append([]string(nil), ids...)
	sort.Strings(out)
	j := 0
	for i := 1; i < len(out); i++ {
		if out[i] != out[j] {
			j++
			out[j] = out[i]
		}
	}
	return out[:j+1]
}
