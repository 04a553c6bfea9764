package stats_test

import (
	"testing"
	"time"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// history builds newest-first executions.
func history(statuses ...domain.Status) []domain.Execution {
	out := make([]domain.Execution, len(statuses))
	for i, st := range statuses {
		out[i] = domain.Execution{
			EntityID:  "t1",
			Status:    st,
			Timestamp: t0.Add(-time.Duration(i) * time.Hour),
			Duration:  time.Duration(i+1) * time.Second,
		}
	}
	return out
}

func TestCompute_Empty(t *testing.T) {
	_, ok := stats.Compute("t1", domain.EntityTest, nil, 5)
	assert.False(t, ok)
}

func TestCompute_CountsAndWindow(t *testing.T) {
	h := history(domain.StatusPassed, domain.StatusPassed, domain.StatusFailed, domain.StatusError, domain.StatusFailed, domain.StatusSkipped)

	s, ok := stats.Compute("t1", domain.EntityTest, h, 5)
	require.True(t, ok)
	assert.Equal(t, 6, s.TotalRuns)
	assert.Equal(t, 2, s.Passed)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 1, s.Errored)
	assert.Equal(t, 1, s.Skipped)
	assert.InDelta(t, 0.6, s.FailureRate, 0.0001)
	assert.Equal(t, 3*time.Second, s.AvgDuration)
	assert.Equal(t, t0, s.LastRun)
	require.NotNil(t, s.LastFailure)
	assert.Equal(t, t0.Add(-2*time.Hour), *s.LastFailure)
}

func TestCompute_SmallerWindowSeesOnlyRecent(t *testing.T) {
	h := history(domain.StatusPassed, domain.StatusPassed, domain.StatusFailed, domain.StatusFailed, domain.StatusFailed)
	s, _ := stats.Compute("t1", domain.EntityTest, h, 2)
	assert.Zero(t, s.FailureRate)
}

func TestFailureRate_IgnoresSkipped(t *testing.T) {
	assert.InDelta(t, 0.5, stats.FailureRate([]domain.Status{domain.StatusSkipped, domain.StatusFailed, domain.StatusPassed}), 0.0001)
	assert.Zero(t, stats.FailureRate([]domain.Status{domain.StatusSkipped}))
}

func TestHasFailure(t *testing.T) {
	assert.True(t, stats.HasFailure([]domain.Status{domain.StatusPassed, domain.StatusError}))
	assert.False(t, stats.HasFailure([]domain.Status{domain.StatusPassed, domain.StatusSkipped}))
}
