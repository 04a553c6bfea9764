package domain

import (
	"context"
	"time"
)

// ValidateRequest carries one unit of work to a validator.
type ValidateRequest struct {
	WorkDir string         `json:"work_dir"`
	Files   []string       `json:"files"`
	Tests   []string       `json:"tests,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// Validator is the contract every tool integration satisfies.
// Validate never returns an error: failures become an ERROR result.
type Validator interface {
	Name() string
	Language() string
	IsAvailable(ctx context.Context) bool
	Validate(ctx context.Context, req ValidateRequest) ValidationResult
}

// Versioned is implemented by validators that can report their tool version.
type Versioned interface {
	Version(ctx context.Context) (string, error)
}

// ConfigLoader loads project configuration.
type ConfigLoader interface {
	Load(projectPath string) (Config, error)
}

// FileCollector lists the project files a run validates.
type FileCollector interface {
	Collect(projectPath string, languages []string, exclude []string) (map[string][]string, error)
}

// LanguageDetector maps a file to its language, or "" when unknown.
type LanguageDetector interface {
	LanguageOf(path string) string
	Detect(projectPath string, files []string) []string
}

// GitInfo reads source-control metadata.
type GitInfo interface {
	IsGitRepo(projectPath string) bool
	CommitHash(projectPath string) (string, error)
	Branch(projectPath string) (string, error)
	ChangedFiles(projectPath string, since string) ([]string, error)
}

// HistoryReader is the read side of the Statistics Store used by the Rule Engine.
type HistoryReader interface {
	EntityIDs(ctx context.Context, entityType EntityType) ([]string, error)
	EntityStatistics(ctx context.Context, entityType EntityType) (map[string]EntityStatistics, error)
	RecentStatuses(ctx context.Context, entityType EntityType, n int) (map[string][]Status, error)
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Limit  int
	Branch string
	Commit string
	Since  time.Time
	Until  time.Time
}

// FileErrorFrequency is the share of runs in which a file had errors.
type FileErrorFrequency struct {
	Validator     string  `json:"validator"`
	File          string  `json:"file"`
	Runs          int     `json:"runs"`
	RunsWithError int     `json:"runs_with_errors"`
	Frequency     float64 `json:"frequency"`
	TotalErrors   int     `json:"total_errors"`
}

// TrendPoint is one day of a validator's history.
type TrendPoint struct {
	Day      string `json:"day"`
	Runs     int    `json:"runs"`
	Passed   int    `json:"passed"`
	Errors   int    `json:"errors"`
	Warnings int    `json:"warnings"`
}

// StatsStore is the durable statistics history.
type StatsStore interface {
	HistoryReader

	SaveRun(ctx context.Context, run ValidationRun, results []ValidationResult) error
	RebuildEntityStatistics(ctx context.Context) error
	DeleteRunsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	SuccessRate(ctx context.Context, entityID string, n int) (float64, int, error)
	Flaky(ctx context.Context, threshold float64, window int) ([]EntityStatistics, error)
	FailedInLast(ctx context.Context, n int) ([]string, error)
	FileErrorFrequency(ctx context.Context, validator string, minRuns int) ([]FileErrorFrequency, error)
	ValidatorTrend(ctx context.Context, validator string, days int) ([]TrendPoint, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]ValidationRun, error)
	RunReport(ctx context.Context, runID string) (*RunReport, error)
	Entity(ctx context.Context, entityID string) (*EntityStatistics, error)
	History(ctx context.Context, entityID string, limit int) ([]Execution, error)

	SaveRule(ctx context.Context, rule ExecutionRule) error
	Rule(ctx context.Context, name string) (*ExecutionRule, error)
	Rules(ctx context.Context, enabledOnly bool) ([]ExecutionRule, error)
	DeleteRule(ctx context.Context, name string) error

	Close() error
}

// ReportWriter exports a RunReport.
type ReportWriter interface {
	Write(path string, report *RunReport) error
}
