package application_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openkraft/anvil/internal/adapters/outbound/sqlite"
	"github.com/openkraft/anvil/internal/application"
	"github.com/openkraft/anvil/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "stats.db"), sqlite.WithWindow(20))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	at := time.Now().UTC().Add(-2 * time.Hour)
	outcomes := []domain.Status{domain.StatusFailed, domain.StatusPassed, domain.StatusFailed, domain.StatusPassed}
	for i, st := range outcomes {
		lint := domain.ValidationResult{
			Validator:    "flake8",
			Language:     "python",
			Status:       st,
			Passed:       st == domain.StatusPassed,
			Files:        []string{"a.py", "b.py"},
			FilesChecked: 2,
		}
		if st == domain.StatusFailed {
			lint.AddIssue(domain.Issue{File: "a.py", Line: 1, Severity: domain.SeverityError, Code: "E1", Message: "bad"})
		}
		format := domain.ValidationResult{Validator: "black", Language: "python", Status: domain.StatusPassed, Passed: true, Files: []string{"a.py"}, FilesChecked: 1}
		run := domain.ValidationRun{
			ID:        []string{"r1", "r2", "r3", "r4"}[i],
			Timestamp: at.Add(time.Duration(i) * time.Minute),
			Status:    st,
			Passed:    st == domain.StatusPassed,
			GitBranch: "main",
		}
		require.NoError(t, s.SaveRun(context.Background(), run, []domain.ValidationResult{lint, format}))
	}
	return s
}

func TestQueryService_Runs(t *testing.T) {
	q := application.NewQueryService(seededStore(t))

	res, err := q.Query(context.Background(), application.QueryRuns, application.QueryParams{Limit: 2})
	require.NoError(t, err)

	require.Len(t, res.Runs, 2)
	assert.Equal(t, "r4", res.Runs[0].ID)
	assert.Equal(t, "r3", res.Runs[1].ID)
}

func TestQueryService_RunLatestAndMissing(t *testing.T) {
	q := application.NewQueryService(seededStore(t))

	res, err := q.Query(context.Background(), application.QueryRun, application.QueryParams{})
	require.NoError(t, err)
	assert.Equal(t, "r4", res.Report.Run.ID)

	_, err = q.Query(context.Background(), application.QueryRun, application.QueryParams{RunID: "nope"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestQueryService_EntityWithHistory(t *testing.T) {
	q := application.NewQueryService(seededStore(t))

	res, err := q.Query(context.Background(), application.QueryEntity, application.QueryParams{EntityID: "flake8", Limit: 3})
	require.NoError(t, err)

	require.NotNil(t, res.Entity)
	assert.Equal(t, 4, res.Entity.TotalRuns)
	assert.Equal(t, 0.5, res.Entity.FailureRate)
	require.Len(t, res.History, 3)
	assert.Equal(t, domain.StatusPassed, res.History[0].Status, "newest first")

	_, err = q.Query(context.Background(), application.QueryEntity, application.QueryParams{})
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestQueryService_SuccessRate(t *testing.T) {
	q := application.NewQueryService(seededStore(t))

	res, err := q.Query(context.Background(), application.QuerySuccessRate, application.QueryParams{EntityID: "flake8", Window: 2})
	require.NoError(t, err)
	require.NotNil(t, res.SuccessRate)
	assert.Equal(t, 0.5, *res.SuccessRate)
	assert.Equal(t, 2, res.Executed)
}

func TestQueryService_FlakyAndFailedInLast(t *testing.T) {
	q := application.NewQueryService(seededStore(t))

	flaky, err := q.Query(context.Background(), application.QueryFlaky, application.QueryParams{})
	require.NoError(t, err)
	var ids []string
	for _, e := range flaky.Entities {
		ids = append(ids, e.EntityID)
	}
	assert.Contains(t, ids, "flake8")
	assert.NotContains(t, ids, "black")

	failed, err := q.Query(context.Background(), application.QueryFailedInLast, application.QueryParams{Window: 1})
	require.NoError(t, err)
	assert.Empty(t, failed.IDs, "the newest run passed")

	failed, err = q.Query(context.Background(), application.QueryFailedInLast, application.QueryParams{Window: 2})
	require.NoError(t, err)
	assert.Contains(t, failed.IDs, "flake8")
}

func TestQueryService_ProblematicFiles(t *testing.T) {
	q := application.NewQueryService(seededStore(t))

	res, err := q.Query(context.Background(), application.QueryProblematicFiles, application.QueryParams{Validator: "flake8"})
	require.NoError(t, err)

	require.Len(t, res.Files, 1)
	assert.Equal(t, "a.py", res.Files[0].File)
	assert.Equal(t, 0.5, res.Files[0].Frequency)

	all, err := q.Query(context.Background(), application.QueryFileErrors, application.QueryParams{Validator: "flake8"})
	require.NoError(t, err)
	assert.Len(t, all.Files, 2)
}

func TestQueryService_ValidatorTrend(t *testing.T) {
	q := application.NewQueryService(seededStore(t))

	_, err := q.Query(context.Background(), application.QueryValidatorTrend, application.QueryParams{})
	assert.True(t, errors.Is(err, domain.ErrConfiguration))

	res, err := q.Query(context.Background(), application.QueryValidatorTrend, application.QueryParams{Validator: "flake8", Days: 7})
	require.NoError(t, err)
	total := 0
	for _, p := range res.Trend {
		total += p.Runs
	}
	assert.Equal(t, 4, total)
}

func TestQueryService_EntitiesByType(t *testing.T) {
	q := application.NewQueryService(seededStore(t))

	res, err := q.Query(context.Background(), application.QueryEntities, application.QueryParams{EntityType: domain.EntityValidator})
	require.NoError(t, err)

	require.Len(t, res.Entities, 2)
	assert.Equal(t, "black", res.Entities[0].EntityID)
	assert.Equal(t, "flake8", res.Entities[1].EntityID)
}

func TestQueryService_UnknownKind(t *testing.T) {
	q := application.NewQueryService(seededStore(t))

	_, err := q.Query(context.Background(), "histogram", application.QueryParams{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
	assert.Contains(t, err.Error(), "validator-trend")
}
