package domain_test

import (
	"testing"
	"time"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddIssue_FilesBySeverity(t *testing.T) {
	var r domain.ValidationResult
	r.AddIssue(domain.Issue{Severity: domain.SeverityError, Message: "e"})
	r.AddIssue(domain.Issue{Severity: domain.SeverityWarning, Message: "w"})
	r.AddIssue(domain.Issue{Severity: "note", Message: "n"})

	assert.Len(t, r.Errors, 1)
	assert.Len(t, r.Warnings, 1)
	assert.Len(t, r.Infos, 1)
	assert.Equal(t, []string{"e", "w", "n"}, messages(r.Issues()))
}

func TestErrorResult(t *testing.T) {
	r := domain.ErrorResult("flake8", "python", "<system>", "tool-unavailable", "flake8 not found")
	assert.Equal(t, domain.StatusError, r.Status)
	assert.False(t, r.Passed)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "<system>", r.Errors[0].File)
}

func TestSummarize(t *testing.T) {
	results := []domain.ValidationResult{
		{Validator: "a", Status: domain.StatusPassed, Passed: true, FilesChecked: 3},
		{Validator: "b", Status: domain.StatusFailed, Errors: []domain.Issue{{}, {}}, Warnings: []domain.Issue{{}}},
		domain.ErrorResult("c", "go", "<system>", "x", "y"),
		domain.SkippedResult("d", "go", "fail_fast"),
	}
	s, passed := domain.Summarize(results)
	assert.False(t, passed)
	assert.Equal(t, domain.Summary{
		Validators: 4, Passed: 1, Failed: 1, Errored: 1, Skipped: 1,
		Errors: 3, Warnings: 1, FilesChecked: 3,
	}, s)
}

func TestSummarize_AllPass(t *testing.T) {
	_, passed := domain.Summarize([]domain.ValidationResult{
		{Status: domain.StatusPassed, Passed: true},
		{Status: domain.StatusPassed, Passed: true},
	})
	assert.True(t, passed)
}

func TestSummarize_OnlySkippedDoesNotPass(t *testing.T) {
	_, passed := domain.Summarize([]domain.ValidationResult{domain.SkippedResult("a", "go", "x")})
	assert.False(t, passed)
}

func TestNewRunReport(t *testing.T) {
	run := domain.ValidationRun{ID: "r1", Status: domain.StatusFailed, Duration: 1500 * time.Millisecond}
	results := []domain.ValidationResult{
		{
			Validator: "pylint", Language: "python", Status: domain.StatusFailed,
			Errors: []domain.Issue{{File: "b.py", Line: 3, Severity: "error"}, {File: "a.py", Line: 9, Severity: "error"}},
			Tests:  []domain.TestCaseResult{{ID: "t::x", Status: domain.StatusPassed}},
		},
	}

	report := domain.NewRunReport(run, results)
	assert.InDelta(t, 1.5, report.Run.DurationSeconds, 0.001)
	require.Len(t, report.Issues, 2)
	assert.Equal(t, "a.py", report.Issues[0].File)
	assert.Equal(t, "pylint", report.Issues[0].Validator)
	require.Len(t, report.Tests, 1)
	assert.Equal(t, 2, report.Validators[0].Errors)
}

func TestStatus_IsFailure(t *testing.T) {
	assert.True(t, domain.StatusFailed.IsFailure())
	assert.True(t, domain.StatusError.IsFailure())
	assert.False(t, domain.StatusPassed.IsFailure())
	assert.False(t, domain.StatusSkipped.IsFailure())
}

func TestFileEntityID_RoundTrip(t *testing.T) {
	id := domain.FileEntityID("flake8", "pkg/mod.py")
	v, p, ok := domain.SplitFileEntityID(id)
	require.True(t, ok)
	assert.Equal(t, "flake8", v)
	assert.Equal(t, "pkg/mod.py", p)
}

func messages(issues []domain.Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Message
	}
	return out
}
