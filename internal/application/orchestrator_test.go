package application_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openkraft/anvil/internal/adapters/outbound/metrics"
	"github.com/openkraft/anvil/internal/application"
	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/registry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// funcValidator is a validator whose behaviour is a closure.
type funcValidator struct {
	name      string
	lang      string
	available bool
	fn        func(ctx context.Context, req domain.ValidateRequest) domain.ValidationResult

	mu   sync.Mutex
	reqs []domain.ValidateRequest
}

func (v *funcValidator) Name() string                     { return v.name }
func (v *funcValidator) Language() string                 { return v.lang }
func (v *funcValidator) IsAvailable(context.Context) bool { return v.available }

func (v *funcValidator) Validate(ctx context.Context, req domain.ValidateRequest) domain.ValidationResult {
	v.mu.Lock()
	v.reqs = append(v.reqs, req)
	v.mu.Unlock()
	return v.fn(ctx, req)
}

func (v *funcValidator) requests() []domain.ValidateRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.ValidateRequest(nil), v.reqs...)
}

func newValidator(name, lang string, status domain.Status) *funcValidator {
	return &funcValidator{
		name:      name,
		lang:      lang,
		available: true,
		fn: func(_ context.Context, req domain.ValidateRequest) domain.ValidationResult {
			r := domain.ValidationResult{
				Validator:    name,
				Language:     lang,
				Status:       status,
				Passed:       status == domain.StatusPassed,
				Files:        req.Files,
				FilesChecked: len(req.Files),
				Duration:     time.Millisecond,
			}
			if status == domain.StatusFailed {
				for _, f := range req.Files {
					r.AddIssue(domain.Issue{File: f, Line: 1, Severity: domain.SeverityError, Code: "X1", Message: "broken"})
				}
			}
			return r
		},
	}
}

func task(v *funcValidator) application.Task {
	return application.Task{
		Descriptor: registry.Descriptor{Name: v.name, Language: v.lang, Validator: v},
		Request:    domain.ValidateRequest{Files: []string{v.name + ".py"}},
	}
}

func statuses(results []domain.ValidationResult) []domain.Status {
	out := make([]domain.Status, len(results))
	for i, r := range results {
		out[i] = r.Status
	}
	return out
}

func TestOrchestrator_ResultsInInputOrder(t *testing.T) {
	var tasks []application.Task
	names := []string{"slow", "medium", "fast"}
	for i, name := range names {
		v := newValidator(name, "python", domain.StatusPassed)
		delay := time.Duration(len(names)-i) * 20 * time.Millisecond
		inner := v.fn
		v.fn = func(ctx context.Context, req domain.ValidateRequest) domain.ValidationResult {
			time.Sleep(delay)
			return inner(ctx, req)
		}
		tasks = append(tasks, task(v))
	}

	orch := application.NewOrchestrator(application.OrchestratorOptions{MaxWorkers: 3, Logger: zaptest.NewLogger(t)})
	ex := orch.Execute(context.Background(), tasks)

	require.Len(t, ex.Results, 3)
	for i, name := range names {
		assert.Equal(t, name, ex.Results[i].Validator)
	}
	assert.True(t, ex.Passed)
	assert.Equal(t, 3, ex.Summary.Passed)
}

func TestOrchestrator_BoundedPool(t *testing.T) {
	var running, peak atomic.Int32
	var tasks []application.Task
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		v := newValidator(name, "go", domain.StatusPassed)
		inner := v.fn
		v.fn = func(ctx context.Context, req domain.ValidateRequest) domain.ValidationResult {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			running.Add(-1)
			return inner(ctx, req)
		}
		tasks = append(tasks, task(v))
	}

	orch := application.NewOrchestrator(application.OrchestratorOptions{MaxWorkers: 2})
	ex := orch.Execute(context.Background(), tasks)

	assert.True(t, ex.Passed)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestOrchestrator_FailFastSkipsUnstartedUnits(t *testing.T) {
	tasks := []application.Task{
		task(newValidator("first", "python", domain.StatusFailed)),
		task(newValidator("second", "python", domain.StatusPassed)),
		task(newValidator("third", "python", domain.StatusPassed)),
	}

	orch := application.NewOrchestrator(application.OrchestratorOptions{MaxWorkers: 1, FailFast: true})
	ex := orch.Execute(context.Background(), tasks)

	assert.Equal(t, []domain.Status{domain.StatusFailed, domain.StatusSkipped, domain.StatusSkipped}, statuses(ex.Results))
	assert.Equal(t, "skipped: fail_fast after earlier failure", ex.Results[1].Metadata["reason"])
	assert.False(t, ex.Passed)
	assert.Equal(t, 2, ex.Summary.Skipped)
}

func TestOrchestrator_WithoutFailFastEverythingRuns(t *testing.T) {
	tasks := []application.Task{
		task(newValidator("first", "python", domain.StatusFailed)),
		task(newValidator("second", "python", domain.StatusPassed)),
	}

	orch := application.NewOrchestrator(application.OrchestratorOptions{MaxWorkers: 1})
	ex := orch.Execute(context.Background(), tasks)

	assert.Equal(t, []domain.Status{domain.StatusFailed, domain.StatusPassed}, statuses(ex.Results))
	assert.False(t, ex.Passed)
}

func TestOrchestrator_PanicBecomesError(t *testing.T) {
	v := newValidator("boom", "cpp", domain.StatusPassed)
	v.fn = func(context.Context, domain.ValidateRequest) domain.ValidationResult {
		panic("nil map")
	}
	ok := newValidator("fine", "cpp", domain.StatusPassed)

	orch := application.NewOrchestrator(application.OrchestratorOptions{MaxWorkers: 2})
	ex := orch.Execute(context.Background(), []application.Task{task(v), task(ok)})

	require.Len(t, ex.Results, 2)
	crashed := ex.Results[0]
	assert.Equal(t, domain.StatusError, crashed.Status)
	require.Len(t, crashed.Errors, 1)
	assert.Equal(t, "<crash>", crashed.Errors[0].File)
	assert.Contains(t, crashed.Errors[0].Message, "nil map")
	assert.Equal(t, domain.StatusPassed, ex.Results[1].Status)
	assert.False(t, ex.Passed)
}

func TestOrchestrator_TimeoutAfterGrace(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	v := newValidator("stuck", "go", domain.StatusPassed)
	v.fn = func(context.Context, domain.ValidateRequest) domain.ValidationResult {
		<-release
		return domain.ValidationResult{Status: domain.StatusPassed, Passed: true}
	}
	tk := task(v)
	tk.Timeout = 20 * time.Millisecond

	orch := application.NewOrchestrator(application.OrchestratorOptions{Grace: 20 * time.Millisecond})
	ex := orch.Execute(context.Background(), []application.Task{tk})

	res := ex.Results[0]
	assert.Equal(t, domain.StatusError, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "<timeout>", res.Errors[0].File)
	assert.Equal(t, "timed out after 0.02s", res.Errors[0].Message)
}

func TestOrchestrator_ValidatorHonouringDeadlineKeepsItsResult(t *testing.T) {
	v := newValidator("polite", "go", domain.StatusPassed)
	v.fn = func(ctx context.Context, _ domain.ValidateRequest) domain.ValidationResult {
		<-ctx.Done()
		r := domain.TimeoutResult("polite", "go", 10*time.Millisecond)
		r.SetMetadata("partial_output", "half a line")
		return r
	}
	tk := task(v)
	tk.Timeout = 10 * time.Millisecond

	orch := application.NewOrchestrator(application.OrchestratorOptions{Grace: time.Second})
	ex := orch.Execute(context.Background(), []application.Task{tk})

	assert.Equal(t, domain.StatusError, ex.Results[0].Status)
	assert.Equal(t, "half a line", ex.Results[0].Metadata["partial_output"])
}

func TestOrchestrator_AllSkippedDoesNotPass(t *testing.T) {
	orch := application.NewOrchestrator(application.OrchestratorOptions{})
	ex := orch.Execute(context.Background(), nil)
	assert.False(t, ex.Passed)
	assert.Empty(t, ex.Results)
}

func TestOrchestrator_RecordsMetrics(t *testing.T) {
	m := metrics.New()
	tasks := []application.Task{
		task(newValidator("flake8", "python", domain.StatusPassed)),
		task(newValidator("pylint", "python", domain.StatusFailed)),
	}

	orch := application.NewOrchestrator(application.OrchestratorOptions{MaxWorkers: 2, Recorder: m})
	orch.Execute(context.Background(), tasks)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidatorRuns.WithLabelValues("flake8", "PASSED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidatorRuns.WithLabelValues("pylint", "FAILED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("FAILED")))
}
