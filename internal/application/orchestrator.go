package application

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/registry"
)

const (
	// DefaultGracePeriod is how long a validator may keep running past its
	// deadline before the orchestrator records the timeout itself.
	DefaultGracePeriod = 5 * time.Second

	reasonFailFast  = "skipped: fail_fast after earlier failure"
	reasonCancelled = "skipped: run cancelled"
)

// Recorder receives per-validator and per-run observations.
type Recorder interface {
	ObserveValidator(validator, status string, d time.Duration)
	ObserveRun(status string)
}

// Task is one unit of work: a validator and its request.
type Task struct {
	Descriptor registry.Descriptor
	Request    domain.ValidateRequest
	Timeout    time.Duration
}

// Execution is the aggregated outcome of a batch of tasks.
type Execution struct {
	Results  []domain.ValidationResult
	Summary  domain.Summary
	Passed   bool
	Duration time.Duration
}

// OrchestratorOptions configures an Orchestrator. Zero values take defaults.
type OrchestratorOptions struct {
	MaxWorkers     int
	FailFast       bool
	DefaultTimeout time.Duration
	Grace          time.Duration
	Logger         *zap.Logger
	Recorder       Recorder
}

// Orchestrator runs validators through a bounded pool.
type Orchestrator struct {
	maxWorkers     int
	failFast       bool
	defaultTimeout time.Duration
	grace          time.Duration
	logger         *zap.Logger
	recorder       Recorder
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	o := &Orchestrator{
		maxWorkers:     opts.MaxWorkers,
		failFast:       opts.FailFast,
		defaultTimeout: opts.DefaultTimeout,
		grace:          opts.Grace,
		logger:         opts.Logger,
		recorder:       opts.Recorder,
	}
	if o.maxWorkers <= 0 {
		o.maxWorkers = runtime.NumCPU()
	}
	if o.defaultTimeout <= 0 {
		o.defaultTimeout = domain.DefaultTimeout
	}
	if o.grace <= 0 {
		o.grace = DefaultGracePeriod
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Execute runs every task and returns the results in input order. Tasks
// start in input order; with fail-fast, tasks that have not started when a
// failure is observed are recorded as SKIPPED.
func (o *Orchestrator) Execute(ctx context.Context, tasks []Task) Execution {
	start := time.Now()
	results := make([]domain.ValidationResult, len(tasks))

	var tripped atomic.Bool
	var g errgroup.Group
	g.SetLimit(o.maxWorkers)

	for i, task := range tasks {
		g.Go(func() error {
			d := task.Descriptor
			switch {
			case o.failFast && tripped.Load():
				results[i] = domain.SkippedResult(d.Name, d.Language, reasonFailFast)
			case ctx.Err() != nil:
				results[i] = domain.SkippedResult(d.Name, d.Language, reasonCancelled)
			default:
				results[i] = o.runUnit(ctx, task)
				if results[i].Status.IsFailure() {
					tripped.Store(true)
				}
			}
			o.observe(results[i])
			return nil
		})
	}
	_ = g.Wait()

	summary, passed := domain.Summarize(results)
	ex := Execution{
		Results:  results,
		Summary:  summary,
		Passed:   passed,
		Duration: time.Since(start),
	}
	if o.recorder != nil {
		o.recorder.ObserveRun(string(runStatus(passed)))
	}
	o.logger.Info("validators finished",
		zap.Int("validators", summary.Validators),
		zap.Int("failed", summary.Failed),
		zap.Int("errored", summary.Errored),
		zap.Int("skipped", summary.Skipped),
		zap.Bool("passed", passed),
		zap.Duration("duration", ex.Duration),
	)
	return ex
}

func (o *Orchestrator) runUnit(ctx context.Context, task Task) domain.ValidationResult {
	d := task.Descriptor
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}
	log := o.logger.With(zap.String("validator", d.Name))
	log.Debug("starting validator", zap.Int("files", len(task.Request.Files)), zap.Duration("timeout", timeout))

	start := time.Now()
	uctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan domain.ValidationResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("validator panicked", zap.Any("panic", r))
				done <- domain.CrashResult(d.Name, d.Language, r)
			}
		}()
		done <- d.Validator.Validate(uctx, task.Request)
	}()

	var res domain.ValidationResult
	select {
	case res = <-done:
	case <-uctx.Done():
		grace := time.NewTimer(o.grace)
		defer grace.Stop()
		select {
		case res = <-done:
		case <-grace.C:
			log.Warn("validator ignored its deadline", zap.Duration("timeout", timeout))
			res = domain.TimeoutResult(d.Name, d.Language, timeout)
		}
	}

	if res.Validator == "" {
		res.Validator = d.Name
	}
	if res.Language == "" {
		res.Language = d.Language
	}
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	log.Debug("validator finished", zap.String("status", string(res.Status)), zap.Duration("duration", res.Duration))
	return res
}

func (o *Orchestrator) observe(res domain.ValidationResult) {
	if o.recorder == nil {
		return
	}
	o.recorder.ObserveValidator(res.Validator, string(res.Status), res.Duration)
}

func runStatus(passed bool) domain.Status {
	if passed {
		return domain.StatusPassed
	}
	return domain.StatusFailed
}
