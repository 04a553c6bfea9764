package export_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openkraft/anvil/internal/adapters/outbound/export"
	"github.com/openkraft/anvil/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *domain.RunReport {
	r := domain.ValidationResult{
		Validator: "flake8", Language: "python", Status: domain.StatusFailed,
		FilesChecked: 2, Duration: 1500 * time.Millisecond,
	}
	r.AddIssue(domain.Issue{File: "a.py", Line: 3, Column: 1, Severity: domain.SeverityError, Code: "E302", Message: "expected 2 blank lines"})
	run := domain.ValidationRun{
		ID: "run-1", Timestamp: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		Status: domain.StatusFailed, GitBranch: "main", Duration: 2 * time.Second,
	}
	return domain.NewRunReport(run, []domain.ValidationResult{r})
}

func TestJSONWriter_WritesPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.json")
	require.NoError(t, export.New().Write(path, sampleReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))

	run := payload["run"].(map[string]any)
	assert.Equal(t, "run-1", run["id"])
	assert.Equal(t, "FAILED", run["status"])
	assert.Equal(t, 2.0, run["duration_seconds"])

	summary := payload["summary"].(map[string]any)
	assert.Equal(t, 1.0, summary["failed"])
	assert.Equal(t, 1.0, summary["errors"])

	issues := payload["issues"].([]any)
	require.Len(t, issues, 1)
	issue := issues[0].(map[string]any)
	assert.Equal(t, "flake8", issue["validator"])
	assert.Equal(t, "a.py", issue["file"])
	assert.Equal(t, "E302", issue["code"])

	validators := payload["validators"].([]any)
	assert.Equal(t, 1.5, validators[0].(map[string]any)["duration_seconds"])
}

func TestJSONWriter_ReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.json")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))

	require.NoError(t, export.New().Write(path, sampleReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
