package domain

import (
	"fmt"
	"sort"
	"time"
)

// Status is the outcome of one validator, test case or file check.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
	StatusError   Status = "ERROR"
)

// IsFailure reports whether the status counts against an entity's history.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusError
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Issue represents one finding reported by a validator.
type Issue struct {
	File       string `json:"file"`
	Line       int    `json:"line,omitempty"`
	Column     int    `json:"column,omitempty"`
	Severity   string `json:"severity"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// TestCaseResult is one test executed by a test-running validator.
type TestCaseResult struct {
	ID       string        `json:"id"`
	Suite    string        `json:"suite,omitempty"`
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Duration time.Duration `json:"duration"`
	Message  string        `json:"message,omitempty"`
}

// ValidationResult is one validator's outcome for one run.
type ValidationResult struct {
	Validator    string           `json:"validator"`
	Language     string           `json:"language"`
	Status       Status           `json:"status"`
	Passed       bool             `json:"passed"`
	Errors       []Issue          `json:"errors,omitempty"`
	Warnings     []Issue          `json:"warnings,omitempty"`
	Infos        []Issue          `json:"infos,omitempty"`
	Duration     time.Duration    `json:"duration"`
	FilesChecked int              `json:"files_checked"`
	Files        []string         `json:"files,omitempty"`
	Tests        []TestCaseResult `json:"tests,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
}

// AddIssue files the issue under its severity.
func (r *ValidationResult) AddIssue(issue Issue) {
	switch issue.Severity {
	case SeverityError:
		r.Errors = append(r.Errors, issue)
	case SeverityWarning:
		r.Warnings = append(r.Warnings, issue)
	default:
		r.Infos = append(r.Infos, issue)
	}
}

// Issues returns all issues ordered errors, warnings, infos.
func (r ValidationResult) Issues() []Issue {
	out := make([]Issue, 0, len(r.Errors)+len(r.Warnings)+len(r.Infos))
	out = append(out, r.Errors...)
	out = append(out, r.Warnings...)
	out = append(out, r.Infos...)
	return out
}

// SetMetadata stores a metadata value, allocating the map on first use.
func (r *ValidationResult) SetMetadata(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// ErrorResult builds the failed result used when a validator cannot
// produce a normal outcome (missing tool, crash, timeout).
func ErrorResult(validator, language, file, code, message string) ValidationResult {
	r := ValidationResult{
		Validator: validator,
		Language:  language,
		Status:    StatusError,
	}
	r.AddIssue(Issue{File: file, Severity: SeverityError, Code: code, Message: message})
	return r
}

// SkippedResult is recorded for validators the pool declined to start.
func SkippedResult(validator, language, reason string) ValidationResult {
	return ValidationResult{
		Validator: validator,
		Language:  language,
		Status:    StatusSkipped,
		Metadata:  map[string]any{"reason": reason},
	}
}

// TimeoutResult is recorded for a unit killed at its deadline.
func TimeoutResult(validator, language string, limit time.Duration) ValidationResult {
	return ErrorResult(validator, language, "<timeout>", "timeout",
		fmt.Sprintf("timed out after %gs", limit.Round(time.Millisecond).Seconds()))
}

// CrashResult is recorded when a validator panics.
func CrashResult(validator, language string, cause any) ValidationResult {
	return ErrorResult(validator, language, "<crash>", "crash", fmt.Sprintf("%s crashed: %v", validator, cause))
}

// ValidationRun is one invocation of the engine.
type ValidationRun struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	Incremental bool          `json:"incremental"`
	Status      Status        `json:"status"`
	Passed      bool          `json:"passed"`
	GitCommit   string        `json:"git_commit,omitempty"`
	GitBranch   string        `json:"git_branch,omitempty"`
	Duration    time.Duration `json:"duration"`
	Errors      int           `json:"errors"`
	Warnings    int           `json:"warnings"`
}

// Summary aggregates the results of one run.
type Summary struct {
	Validators   int `json:"validators"`
	Passed       int `json:"passed"`
	Failed       int `json:"failed"`
	Errored      int `json:"errored"`
	Skipped      int `json:"skipped"`
	Errors       int `json:"errors"`
	Warnings     int `json:"warnings"`
	FilesChecked int `json:"files_checked"`
}

// Summarize counts results. A run passes iff every non-skipped result
// passes and at least one result was not skipped.
func Summarize(results []ValidationResult) (Summary, bool) {
	var s Summary
	ran := 0
	passed := true
	for _, r := range results {
		s.Validators++
		s.Errors += len(r.Errors)
		s.Warnings += len(r.Warnings)
		s.FilesChecked += r.FilesChecked
		switch r.Status {
		case StatusSkipped:
			s.Skipped++
			continue
		case StatusError:
			s.Errored++
		case StatusFailed:
			s.Failed++
		default:
			if r.Passed {
				s.Passed++
			} else {
				s.Failed++
			}
		}
		ran++
		if !r.Passed {
			passed = false
		}
	}
	return s, passed && ran > 0
}

// EntityStatistics is the materialized per-entity aggregate.
// It is always reconstructible from run history.
type EntityStatistics struct {
	EntityID    string        `json:"entity_id"`
	EntityType  EntityType    `json:"entity_type"`
	TotalRuns   int           `json:"total_runs"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Errored     int           `json:"errored"`
	FailureRate float64       `json:"failure_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
	Window      int           `json:"window"`
	LastRun     time.Time     `json:"last_run"`
	LastFailure *time.Time    `json:"last_failure,omitempty"`
}

// SuccessRate is the complement of the failure rate over the window.
func (s EntityStatistics) SuccessRate() float64 {
	return 1 - s.FailureRate
}

// Execution is one entry of an entity's history.
type Execution struct {
	EntityID   string        `json:"entity_id"`
	EntityType EntityType    `json:"entity_type"`
	RunSeq     int64         `json:"run_seq"`
	Timestamp  time.Time     `json:"timestamp"`
	Status     Status        `json:"status"`
	Duration   time.Duration `json:"duration"`
}

// RunReport is the serializable export of one run.
type RunReport struct {
	Run        RunInfo           `json:"run"`
	Summary    Summary           `json:"summary"`
	Validators []ValidatorReport `json:"validators"`
	Issues     []ReportIssue     `json:"issues"`
	Tests      []ReportTest      `json:"tests,omitempty"`
	Selection  *SelectionInfo    `json:"selection,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
}

type RunInfo struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Incremental     bool      `json:"incremental"`
	Status          Status    `json:"status"`
	Passed          bool      `json:"passed"`
	GitCommit       string    `json:"git_commit,omitempty"`
	GitBranch       string    `json:"git_branch,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
}

type ValidatorReport struct {
	Name            string         `json:"name"`
	Language        string         `json:"language"`
	Status          Status         `json:"status"`
	Passed          bool           `json:"passed"`
	Errors          int            `json:"errors"`
	Warnings        int            `json:"warnings"`
	FilesChecked    int            `json:"files_checked"`
	DurationSeconds float64        `json:"duration_seconds"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type ReportIssue struct {
	Validator string `json:"validator"`
	Issue
}

type ReportTest struct {
	Validator string `json:"validator"`
	TestCaseResult
}

// SelectionInfo records how the executed set was chosen.
type SelectionInfo struct {
	Rule        string   `json:"rule,omitempty"`
	Scope       Scope    `json:"scope"`
	Selected    []string `json:"selected"`
	Skipped     []string `json:"skipped,omitempty"`
	Prioritized []string `json:"prioritized,omitempty"`
}

// NewRunReport assembles the export payload for a finished run.
func NewRunReport(run ValidationRun, results []ValidationResult) *RunReport {
	summary, _ := Summarize(results)
	report := &RunReport{
		Run: RunInfo{
			ID:              run.ID,
			Timestamp:       run.Timestamp,
			Incremental:     run.Incremental,
			Status:          run.Status,
			Passed:          run.Passed,
			GitCommit:       run.GitCommit,
			GitBranch:       run.GitBranch,
			DurationSeconds: run.Duration.Seconds(),
		},
		Summary:    summary,
		Validators: make([]ValidatorReport, 0, len(results)),
		Issues:     []ReportIssue{},
	}
	for _, r := range results {
		report.Validators = append(report.Validators, ValidatorReport{
			Name:            r.Validator,
			Language:        r.Language,
			Status:          r.Status,
			Passed:          r.Passed,
			Errors:          len(r.Errors),
			Warnings:        len(r.Warnings),
			FilesChecked:    r.FilesChecked,
			DurationSeconds: r.Duration.Seconds(),
			Metadata:        r.Metadata,
		})
		for _, is := range r.Issues() {
			report.Issues = append(report.Issues, ReportIssue{Validator: r.Validator, Issue: is})
		}
		for _, tc := range r.Tests {
			report.Tests = append(report.Tests, ReportTest{Validator: r.Validator, TestCaseResult: tc})
		}
	}
	sort.SliceStable(report.Issues, func(i, j int) bool {
		a, b := report.Issues[i], report.Issues[j]
		if a.Validator != b.Validator {
			return a.Validator < b.Validator
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	return report
}
