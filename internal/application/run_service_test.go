package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openkraft/anvil/internal/adapters/outbound/config"
	"github.com/openkraft/anvil/internal/adapters/outbound/detector"
	"github.com/openkraft/anvil/internal/adapters/outbound/export"
	"github.com/openkraft/anvil/internal/adapters/outbound/gitinfo"
	"github.com/openkraft/anvil/internal/adapters/outbound/metrics"
	"github.com/openkraft/anvil/internal/adapters/outbound/scanner"
	"github.com/openkraft/anvil/internal/adapters/outbound/sqlite"
	"github.com/openkraft/anvil/internal/application"
	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// project lays out a small python + go tree with an optional .anvil.yaml.
func project(t *testing.T, cfg string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"app/a.py":          "x = 1\n",
		"app/b.py":          "y = 2\n",
		"gen/models.py":     "z = 3\n",
		"tests/test_a.py":   "def test_x(): pass\n",
		"main.go":           "package main\n",
		"vendor/dep/dep.go": "package dep\n",
		"docs/README.md":    "# docs\n",
	}
	for name, body := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	}
	if cfg != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(cfg), 0644))
	}
	return dir
}

type fixture struct {
	reg     *registry.Registry
	py      *funcValidator
	golang  *funcValidator
	pytest  *funcValidator
	metrics *metrics.Metrics
	opener  application.StoreOpener
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:     registry.New(),
		py:      newValidator("lint-py", "python", domain.StatusPassed),
		golang:  newValidator("lint-go", "go", domain.StatusPassed),
		pytest:  newValidator("test-py", "python", domain.StatusPassed),
		metrics: metrics.New(),
	}
	require.NoError(t, f.reg.Register(registry.Descriptor{Name: "lint-py", Language: "python", Kind: registry.KindLint, DefaultEnabled: true, Validator: f.py}))
	require.NoError(t, f.reg.Register(registry.Descriptor{Name: "lint-go", Language: "go", Kind: registry.KindLint, DefaultEnabled: true, Validator: f.golang}))
	require.NoError(t, f.reg.Register(registry.Descriptor{Name: "test-py", Language: "python", Kind: registry.KindTest, DefaultEnabled: false, Validator: f.pytest}))
	f.opener = func(path string, window int) (domain.StatsStore, error) {
		s, err := sqlite.Open(path, sqlite.WithWindow(window), sqlite.WithLogger(zaptest.NewLogger(t)))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return f
}

func (f *fixture) service(t *testing.T) *application.RunService {
	return application.NewRunService(
		f.reg,
		config.New(f.reg.Known()),
		scanner.New(detector.New()),
		gitinfo.New(),
		f.opener,
		export.New(),
		f.metrics,
		zaptest.NewLogger(t),
	).WithGracePeriod(50 * time.Millisecond)
}

func openProjectStore(t *testing.T, dir string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(dir, domain.DefaultDatabasePath))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func validatorNames(report *domain.RunReport) []string {
	var out []string
	for _, v := range report.Validators {
		out = append(out, v.Name)
	}
	return out
}

func TestRunService_FullRunPasses(t *testing.T) {
	dir := project(t, "")
	f := newFixture(t)

	report, err := f.service(t).Run(context.Background(), application.RunRequest{ProjectPath: dir})
	require.NoError(t, err)

	assert.True(t, report.Run.Passed)
	assert.Equal(t, domain.StatusPassed, report.Run.Status)
	assert.NotEmpty(t, report.Run.ID)
	assert.False(t, report.Run.Incremental)
	assert.ElementsMatch(t, []string{"lint-go", "lint-py"}, validatorNames(report))
	assert.Equal(t, application.ExitPassed, application.ExitCodeFor(report, err))

	reqs := f.py.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []string{"app/a.py", "app/b.py", "gen/models.py", "tests/test_a.py"}, reqs[0].Files)
	assert.Equal(t, []string{"main.go"}, f.golang.requests()[0].Files, "vendor/ is never collected")
	assert.Empty(t, f.pytest.requests(), "disabled by default")

	require.NotNil(t, report.Selection)
	assert.Equal(t, "all", report.Selection.Rule)
	assert.Equal(t, domain.ScopeValidator, report.Selection.Scope)

	store := openProjectStore(t, dir)
	runs, err := store.ListRuns(context.Background(), domain.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.Run.ID, runs[0].ID)
}

func TestRunService_FailureSetsExitCode(t *testing.T) {
	dir := project(t, "")
	f := newFixture(t)
	f.reg.Unregister("lint-go")
	failing := newValidator("lint-go", "go", domain.StatusFailed)
	require.NoError(t, f.reg.Register(registry.Descriptor{Name: "lint-go", Language: "go", DefaultEnabled: true, Validator: failing}))

	report, err := f.service(t).Run(context.Background(), application.RunRequest{ProjectPath: dir})
	require.NoError(t, err)

	assert.False(t, report.Run.Passed)
	assert.Equal(t, application.ExitFailed, application.ExitCodeFor(report, err))
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "lint-go", report.Issues[0].Validator)
	assert.Equal(t, "main.go", report.Issues[0].File)
}

func TestRunService_ExplicitValidators(t *testing.T) {
	dir := project(t, "")
	f := newFixture(t)

	report, err := f.service(t).Run(context.Background(), application.RunRequest{
		ProjectPath: dir,
		Validators:  []string{"test-py"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"test-py"}, validatorNames(report))
	assert.Empty(t, f.py.requests())
	assert.Equal(t, []string{"test-py"}, report.Selection.Selected)
}

func TestRunService_UnknownValidatorIsConfigError(t *testing.T) {
	dir := project(t, "")
	f := newFixture(t)

	report, err := f.service(t).Run(context.Background(), application.RunRequest{
		ProjectPath: dir,
		Validators:  []string{"nope"},
	})
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
	assert.Equal(t, application.ExitConfig, application.ExitCodeFor(report, err))
}

func TestRunService_InvalidConfigStopsBeforeValidators(t *testing.T) {
	dir := project(t, "validators:\n  flake9: {enabled: true}\n")
	f := newFixture(t)

	_, err := f.service(t).Run(context.Background(), application.RunRequest{ProjectPath: dir})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
	assert.Empty(t, f.py.requests())
	assert.Empty(t, f.golang.requests())
}

func TestRunService_RequiredToolMissing(t *testing.T) {
	dir := project(t, "validators:\n  lint-go:\n    required: true\n")
	f := newFixture(t)
	f.golang.available = false

	report, err := f.service(t).Run(context.Background(), application.RunRequest{ProjectPath: dir})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrToolMissing))
	require.NotNil(t, report, "the run still completes and reports")
	assert.Len(t, report.Validators, 2)
	assert.Equal(t, application.ExitToolMissing, application.ExitCodeFor(report, err))
}

func TestRunService_IncrementalFileSet(t *testing.T) {
	dir := project(t, "")
	f := newFixture(t)

	report, err := f.service(t).Run(context.Background(), application.RunRequest{
		ProjectPath: dir,
		Incremental: true,
		Files:       []string{"app/b.py", filepath.Join(dir, "docs/README.md")},
	})
	require.NoError(t, err)

	assert.True(t, report.Run.Incremental)
	assert.Equal(t, []string{"lint-py"}, validatorNames(report), "go has no changed files")
	assert.Equal(t, []string{"app/b.py"}, f.py.requests()[0].Files)
}

func TestRunService_IncrementalWithoutGitFallsBackToFull(t *testing.T) {
	dir := project(t, "incremental: true\n")
	f := newFixture(t)

	report, err := f.service(t).Run(context.Background(), application.RunRequest{ProjectPath: dir})
	require.NoError(t, err)

	assert.Len(t, report.Validators, 2)
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "incremental mode unavailable")
}

func TestRunService_ExcludePrecedence(t *testing.T) {
	dir := project(t, `
exclude: ["gen/"]
validators:
  lint-py:
    exclude: ["tests/"]
languages:
  go:
    exclude: ["main.go"]
`)
	f := newFixture(t)
	require.NoError(t, f.reg.Register(registry.Descriptor{Name: "other-py", Language: "python", DefaultEnabled: true, Validator: newValidator("other-py", "python", domain.StatusPassed)}))

	report, err := f.service(t).Run(context.Background(), application.RunRequest{ProjectPath: dir})
	require.NoError(t, err)

	// the validator list replaces the global one wholesale
	assert.Equal(t, []string{"app/a.py", "app/b.py", "gen/models.py"}, f.py.requests()[0].Files)
	assert.Empty(t, f.golang.requests(), "no go files left after the language exclude")
	assert.ElementsMatch(t, []string{"lint-py", "other-py"}, validatorNames(report))
}

func TestRunService_LanguageDisabled(t *testing.T) {
	dir := project(t, "languages:\n  go:\n    enabled: false\n")
	f := newFixture(t)

	report, err := f.service(t).Run(context.Background(), application.RunRequest{ProjectPath: dir})
	require.NoError(t, err)
	assert.Equal(t, []string{"lint-py"}, validatorNames(report))
}

func TestRunService_FailedInLastRule(t *testing.T) {
	dir := project(t, `
rules:
  - name: recent
    criterion: failed-in-last
    window: 5
`)
	f := newFixture(t)
	svc := f.service(t)

	failing := true
	inner := f.golang.fn
	f.golang.fn = func(ctx context.Context, req domain.ValidateRequest) domain.ValidationResult {
		r := inner(ctx, req)
		if failing {
			r.Status, r.Passed = domain.StatusFailed, false
		}
		return r
	}

	first, err := svc.Run(context.Background(), application.RunRequest{ProjectPath: dir})
	require.NoError(t, err)
	assert.False(t, first.Run.Passed)

	failing = false
	second, err := svc.Run(context.Background(), application.RunRequest{ProjectPath: dir, Rule: "recent"})
	require.NoError(t, err)

	assert.Equal(t, []string{"lint-go"}, validatorNames(second))
	assert.Equal(t, "recent", second.Selection.Rule)
	assert.Equal(t, []string{"lint-go"}, second.Selection.Selected)
	assert.True(t, second.Run.Passed)
}

func TestRunService_UnknownRule(t *testing.T) {
	dir := project(t, "")
	f := newFixture(t)

	_, err := f.service(t).Run(context.Background(), application.RunRequest{ProjectPath: dir, Rule: "missing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestRunService_SmartFilterSkipsStableValidators(t *testing.T) {
	dir := project(t, `
statistics:
  smart_filter:
    enabled: true
    min_runs: 2
`)
	f := newFixture(t)
	svc := f.service(t)
	off := false
	for i := 0; i < 2; i++ {
		_, err := svc.Run(context.Background(), application.RunRequest{ProjectPath: dir, SmartFilter: &off})
		require.NoError(t, err)
	}

	report, err := svc.Run(context.Background(), application.RunRequest{ProjectPath: dir})
	require.NoError(t, err)

	assert.Equal(t, []string{"lint-go", "lint-py"}, report.Selection.Skipped)
	assert.Empty(t, report.Validators)
	assert.False(t, report.Run.Passed, "a run with nothing executed cannot pass")
}

func TestRunService_TestScopeSelectsFailingTests(t *testing.T) {
	dir := project(t, `
validators:
  test-py: {enabled: true}
rules:
  - name: failing-tests
    criterion: failed-in-last
    scope: test
`)
	f := newFixture(t)
	inner := f.pytest.fn
	f.pytest.fn = func(ctx context.Context, req domain.ValidateRequest) domain.ValidationResult {
		r := inner(ctx, req)
		r.Tests = []domain.TestCaseResult{
			{ID: "tests/test_a.py::test_x", Name: "test_x", Status: domain.StatusFailed},
			{ID: "tests/test_a.py::test_y", Name: "test_y", Status: domain.StatusPassed},
		}
		return r
	}
	svc := f.service(t)

	_, err := svc.Run(context.Background(), application.RunRequest{ProjectPath: dir})
	require.NoError(t, err)
	assert.Empty(t, f.pytest.requests()[0].Tests, "no history yet: every test runs")

	report, err := svc.Run(context.Background(), application.RunRequest{ProjectPath: dir, Rule: "failing-tests"})
	require.NoError(t, err)

	reqs := f.pytest.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []string{"tests/test_a.py::test_x"}, reqs[1].Tests)
	assert.Equal(t, domain.ScopeTest, report.Selection.Scope)
	assert.Len(t, f.py.requests(), 2, "non-test validators are unaffected by a test rule")
}

func TestRunService_FileScopeNarrowsFiles(t *testing.T) {
	dir := project(t, `
rules:
  - name: app-only
    criterion: group
    scope: file
    groups: ["lint-py:app/*"]
`)
	f := newFixture(t)

	report, err := f.service(t).Run(context.Background(), application.RunRequest{ProjectPath: dir, Rule: "app-only"})
	require.NoError(t, err)

	assert.Equal(t, []string{"lint-py"}, validatorNames(report))
	assert.Equal(t, []string{"app/a.py", "app/b.py"}, f.py.requests()[0].Files)
}

func TestRunService_StoreFailureIsAWarning(t *testing.T) {
	dir := project(t, "")
	f := newFixture(t)
	f.opener = func(string, int) (domain.StatsStore, error) {
		return nil, errors.New("disk on fire")
	}

	report, err := f.service(t).Run(context.Background(), application.RunRequest{ProjectPath: dir})
	require.NoError(t, err)

	assert.True(t, report.Run.Passed)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "disk on fire")
}

func TestRunService_NoStatsLeavesNoDatabase(t *testing.T) {
	dir := project(t, "")
	f := newFixture(t)

	_, err := f.service(t).Run(context.Background(), application.RunRequest{ProjectPath: dir, NoStats: true})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, domain.DefaultDatabasePath))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunService_WritesReportAndMetrics(t *testing.T) {
	dir := project(t, "report:\n  json_path: out/report.json\n")
	f := newFixture(t)

	report, err := f.service(t).Run(context.Background(), application.RunRequest{
		ProjectPath: dir,
		MetricsPath: "out/anvil.prom",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out", "report.json"))
	require.NoError(t, err)
	var decoded domain.RunReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.Run.ID, decoded.Run.ID)

	prom, err := os.ReadFile(filepath.Join(dir, "out", "anvil.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), `anvil_runs_total{status="PASSED"} 1`)
}

func TestRunService_FailFastFromConfig(t *testing.T) {
	dir := project(t, "max_workers: 1\nfail_fast: true\n")
	f := newFixture(t)
	f.reg.Unregister("lint-go")
	require.NoError(t, f.reg.Register(registry.Descriptor{Name: "lint-go", Language: "go", DefaultEnabled: true, Validator: newValidator("lint-go", "go", domain.StatusFailed)}))

	report, err := f.service(t).Run(context.Background(), application.RunRequest{ProjectPath: dir})
	require.NoError(t, err)

	require.Len(t, report.Validators, 2)
	assert.Equal(t, domain.StatusFailed, report.Validators[0].Status)
	assert.Equal(t, domain.StatusSkipped, report.Validators[1].Status)
	assert.Equal(t, 1, report.Summary.Skipped)
}
