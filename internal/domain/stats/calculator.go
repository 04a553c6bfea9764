// Package stats derives entity statistics from execution history.
// Every function here is pure so the incremental and the rebuild paths
// of the store produce identical rows.
package stats

import (
	"time"

	"github.com/openkraft/anvil/internal/domain"
)

// Compute derives the statistics of one entity. history must be ordered
// newest first. Lifetime counters use the whole history; the failure rate
// and average duration use the window most recent executions (window <= 0
// means the whole history).
func Compute(entityID string, entityType domain.EntityType, history []domain.Execution, window int) (domain.EntityStatistics, bool) {
	if len(history) == 0 {
		return domain.EntityStatistics{}, false
	}

	s := domain.EntityStatistics{
		EntityID:   entityID,
		EntityType: entityType,
		TotalRuns:  len(history),
		Window:     window,
		LastRun:    history[0].Timestamp,
	}

	for _, h := range history {
		switch h.Status {
		case domain.StatusPassed:
			s.Passed++
		case domain.StatusFailed:
			s.Failed++
		case domain.StatusSkipped:
			s.Skipped++
		case domain.StatusError:
			s.Errored++
		}
		if h.Status.IsFailure() && s.LastFailure == nil {
			ts := h.Timestamp
			s.LastFailure = &ts
		}
	}

	recent := history
	if window > 0 && len(recent) > window {
		recent = recent[:window]
	}
	s.FailureRate = FailureRate(statuses(recent))
	s.AvgDuration = averageDuration(recent)
	return s, true
}

// FailureRate is the share of FAILED or ERROR among executed (non-skipped) statuses.
func FailureRate(statuses []domain.Status) float64 {
	executed, failed := 0, 0
	for _, st := range statuses {
		if st == domain.StatusSkipped {
			continue
		}
		executed++
		if st.IsFailure() {
			failed++
		}
	}
	if executed == 0 {
		return 0
	}
	return float64(failed) / float64(executed)
}

// HasFailure reports whether any of the statuses is FAILED or ERROR.
func HasFailure(statuses []domain.Status) bool {
	for _, st := range statuses {
		if st.IsFailure() {
			return true
		}
	}
	return false
}

// Recent truncates newest-first statuses to the n most recent (n <= 0 keeps all).
func Recent(statuses []domain.Status, n int) []domain.Status {
	if n > 0 && len(statuses) > n {
		return statuses[:n]
	}
	return statuses
}

func statuses(history []domain.Execution) []domain.Status {
	out := make([]domain.Status, len(history))
	for i, h := range history {
		out[i] = h.Status
	}
	return out
}

func averageDuration(history []domain.Execution) time.Duration {
	var total time.Duration
	n := 0
	for _, h := range history {
		if h.Status == domain.StatusSkipped {
			continue
		}
		total += h.Duration
		n++
	}
	if n == 0 {
		return 0
	}
	// Millisecond precision matches what the store persists.
	return (total / time.Duration(n)).Truncate(time.Millisecond)
}
