package metrics_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openkraft/anvil/internal/adapters/outbound/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveValidator(t *testing.T) {
	m := metrics.New()
	m.ObserveValidator("flake8", "PASSED", 2*time.Second)
	m.ObserveValidator("flake8", "PASSED", time.Second)
	m.ObserveValidator("flake8", "FAILED", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ValidatorRuns.WithLabelValues("flake8", "PASSED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidatorRuns.WithLabelValues("flake8", "FAILED")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ValidatorDuration))
}

func TestMetrics_ObserveRun(t *testing.T) {
	m := metrics.New()
	m.ObserveRun("FAILED")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("FAILED")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Runs.WithLabelValues("PASSED")))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := metrics.New()
	m.ObserveRun("PASSED")
	m.ObserveValidator("gofmt", "PASSED", 100*time.Millisecond)

	path := filepath.Join(t.TempDir(), "textfile", "anvil.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `anvil_runs_total{status="PASSED"} 1`)
	assert.Contains(t, string(data), `anvil_validator_runs_total{status="PASSED",validator="gofmt"} 1`)
	assert.Contains(t, string(data), "anvil_validator_duration_seconds_bucket")
}
