// Package metrics exposes run and validator counters through a private
// Prometheus registry, exported as a node_exporter textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "anvil"

// Metrics implements application.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	// ValidatorRuns counts validator executions.
	// Labels: validator, status (PASSED, FAILED, SKIPPED, ERROR)
	ValidatorRuns *prometheus.CounterVec

	// ValidatorDuration measures validator wall time.
	// Labels: validator
	ValidatorDuration *prometheus.HistogramVec

	// Runs counts engine runs by verdict.
	// Labels: status
	Runs *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ValidatorRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validator_runs_total",
				Help:      "Validator executions by validator and status",
			},
			[]string{"validator", "status"},
		),
		ValidatorDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "validator_duration_seconds",
				Help:      "Validator wall time in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"validator"},
		),
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Engine runs by status",
			},
			[]string{"status"},
		),
	}
}

// Registry returns the private registry, for scraping or tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveValidator records one validator outcome.
func (m *Metrics) ObserveValidator(validator, status string, d time.Duration) {
	m.ValidatorRuns.WithLabelValues(validator, status).Inc()
	m.ValidatorDuration.WithLabelValues(validator).Observe(d.Seconds())
}

// ObserveRun records one run verdict.
func (m *Metrics) ObserveRun(status string) {
	m.Runs.WithLabelValues(status).Inc()
}

// WriteTextfile writes the registry in text exposition format for the
// node_exporter textfile collector. The write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
