package application

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/registry"
	"github.com/openkraft/anvil/internal/domain/rules"
)

const reasonNoTests = "skipped: no tests selected"

// ConfigSource loads configuration from the project root or an explicit file.
type ConfigSource interface {
	domain.ConfigLoader
	LoadFile(path string) (domain.Config, error)
}

// StoreOpener opens the statistics store at path with the given window.
type StoreOpener func(path string, window int) (domain.StatsStore, error)

// MetricsSink records observations and exports them as a textfile.
type MetricsSink interface {
	Recorder
	WriteTextfile(path string) error
}

// RunRequest selects what one invocation validates. Zero values defer to
// the project configuration.
type RunRequest struct {
	ProjectPath string
	ConfigPath  string

	// Validators names the validators to run, bypassing rules.
	Validators []string
	// Rule names an execution rule from the store or the config.
	Rule      string
	Languages []string

	Incremental bool
	// Files is the explicit incremental file set. When empty in incremental
	// mode the changed files come from git.
	Files []string
	Since string

	FailFast    *bool
	MaxWorkers  int
	SmartFilter *bool
	NoStats     bool

	ReportPath  string
	MetricsPath string
}

// RunService drives one validation run end to end:
// config → files → selection → execute → persist → report.
type RunService struct {
	registry  *registry.Registry
	config    ConfigSource
	collector domain.FileCollector
	git       domain.GitInfo
	openStore StoreOpener
	writer    domain.ReportWriter
	metrics   MetricsSink
	logger    *zap.Logger

	now   func() time.Time
	newID func() string
	grace time.Duration
}

func NewRunService(
	reg *registry.Registry,
	config ConfigSource,
	collector domain.FileCollector,
	git domain.GitInfo,
	openStore StoreOpener,
	writer domain.ReportWriter,
	metrics MetricsSink,
	logger *zap.Logger,
) *RunService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunService{
		registry:  reg,
		config:    config,
		collector: collector,
		git:       git,
		openStore: openStore,
		writer:    writer,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithClock replaces the clock used for run timestamps and retention.
func (s *RunService) WithClock(now func() time.Time) *RunService {
	s.now = now
	return s
}

// WithGracePeriod overrides how long a validator may run past its deadline.
func (s *RunService) WithGracePeriod(d time.Duration) *RunService {
	s.grace = d
	return s
}

// unit is a validator with the files and tests it will receive.
type unit struct {
	desc  registry.Descriptor
	files []string
	tests []string
}

// Run executes one validation run. The returned report is non-nil whenever
// validators were dispatched, including when a required tool is missing.
func (s *RunService) Run(ctx context.Context, req RunRequest) (*domain.RunReport, error) {
	projectPath, err := filepath.Abs(req.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("resolving project path: %w", err)
	}
	var warnings []string
	warn := func(msg string, err error) {
		s.logger.Warn(msg, zap.Error(err))
		warnings = append(warnings, fmt.Sprintf("%s: %v", msg, err))
	}

	// 1. Load and validate config
	cfg, err := s.loadConfig(projectPath, req)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// 2. Open the statistics store and sync config-defined rules
	store := s.open(projectPath, cfg, req, warn)
	if store != nil {
		defer store.Close()
	}

	// 3. Collect files
	candidates, err := s.candidates(cfg, req)
	if err != nil {
		return nil, err
	}
	incremental := req.Incremental || cfg.Incremental
	files, err := s.collect(projectPath, cfg, candidates, incremental, req, warn)
	if err != nil {
		return nil, err
	}

	// 4. Resolve the selection
	units, selection, skipped, err := s.selectUnits(ctx, cfg, req, store, candidates, files)
	if err != nil {
		return nil, err
	}

	// 5. Required-tool check
	var missing []string
	for _, u := range units {
		if cfg.IsRequired(u.desc.Name) && !u.desc.Validator.IsAvailable(ctx) {
			missing = append(missing, u.desc.Name)
		}
	}

	// 6. Execute
	tasks := make([]Task, len(units))
	for i, u := range units {
		tasks[i] = Task{
			Descriptor: u.desc,
			Request: domain.ValidateRequest{
				WorkDir: projectPath,
				Files:   u.files,
				Tests:   u.tests,
				Options: cfg.Options(u.desc.Name),
			},
			Timeout: cfg.EffectiveTimeout(u.desc.Name, u.desc.Language),
		}
	}
	failFast := cfg.FailFast
	if req.FailFast != nil {
		failFast = *req.FailFast
	}
	workers := cfg.MaxWorkers
	if req.MaxWorkers > 0 {
		workers = req.MaxWorkers
	}
	var recorder Recorder
	if s.metrics != nil {
		recorder = s.metrics
	}
	orch := NewOrchestrator(OrchestratorOptions{
		MaxWorkers:     workers,
		FailFast:       failFast,
		DefaultTimeout: time.Duration(cfg.Timeout),
		Grace:          s.grace,
		Logger:         s.logger,
		Recorder:       recorder,
	})
	started := s.now().UTC()
	ex := orch.Execute(ctx, tasks)
	results := append(ex.Results, skipped...)
	ex.Summary, ex.Passed = domain.Summarize(results)

	run := domain.ValidationRun{
		ID:          s.newID(),
		Timestamp:   started,
		Incremental: incremental,
		Status:      runStatus(ex.Passed),
		Passed:      ex.Passed,
		Duration:    ex.Duration,
		Errors:      ex.Summary.Errors,
		Warnings:    ex.Summary.Warnings,
	}
	if s.git != nil && s.git.IsGitRepo(projectPath) {
		run.GitCommit, _ = s.git.CommitHash(projectPath)
		run.GitBranch, _ = s.git.Branch(projectPath)
	}

	// 7. Persist
	if store != nil {
		if err := store.SaveRun(ctx, run, results); err != nil {
			warn("statistics not recorded", err)
		} else if days := cfg.Statistics.RetentionDays; days > 0 {
			cutoff := s.now().AddDate(0, 0, -days)
			if _, err := store.DeleteRunsOlderThan(ctx, cutoff); err != nil {
				warn("retention cleanup failed", err)
			}
		}
	}

	// 8. Build the report and export it
	report := domain.NewRunReport(run, results)
	report.Selection = &selection
	report.Warnings = warnings
	reportPath := firstNonEmpty(req.ReportPath, cfg.Report.JSONPath)
	if reportPath != "" && s.writer != nil {
		if err := s.writer.Write(resolve(projectPath, reportPath), report); err != nil {
			warn("writing report", err)
		}
	}
	metricsPath := firstNonEmpty(req.MetricsPath, cfg.Metrics.Textfile)
	if metricsPath != "" && s.metrics != nil {
		if err := s.metrics.WriteTextfile(resolve(projectPath, metricsPath)); err != nil {
			warn("writing metrics textfile", err)
		}
	}
	report.Warnings = warnings

	if len(missing) > 0 {
		return report, fmt.Errorf("%w: %s", domain.ErrToolMissing, strings.Join(missing, ", "))
	}
	return report, nil
}

func (s *RunService) loadConfig(projectPath string, req RunRequest) (domain.Config, error) {
	if req.ConfigPath != "" {
		return s.config.LoadFile(resolve(projectPath, req.ConfigPath))
	}
	return s.config.Load(projectPath)
}

// open returns nil when statistics are disabled or the store cannot be
// opened; a broken store never blocks validation.
func (s *RunService) open(projectPath string, cfg domain.Config, req RunRequest, warn func(string, error)) domain.StatsStore {
	if req.NoStats || !cfg.StatisticsEnabled() || s.openStore == nil {
		return nil
	}
	store, err := s.openStore(resolve(projectPath, cfg.Statistics.DatabasePath), cfg.Statistics.Window)
	if err != nil {
		warn("statistics disabled", err)
		return nil
	}
	for _, r := range cfg.Rules {
		if err := store.SaveRule(context.Background(), r); err != nil {
			warn(fmt.Sprintf("syncing rule %q", r.Name), err)
		}
	}
	return store
}

// candidates returns the validators this run may dispatch: explicit names
// when given, otherwise the enabled validators of enabled languages.
func (s *RunService) candidates(cfg domain.Config, req RunRequest) ([]registry.Descriptor, error) {
	var descs []registry.Descriptor
	if len(req.Validators) > 0 {
		selected, err := s.registry.Select(req.Validators)
		if err != nil {
			return nil, err
		}
		descs = selected
	} else {
		for _, d := range s.registry.Enabled(cfg) {
			if cfg.LanguageEnabled(d.Language) {
				descs = append(descs, d)
			}
		}
	}
	if len(req.Languages) == 0 {
		return descs, nil
	}
	want := make(map[string]bool, len(req.Languages))
	for _, l := range req.Languages {
		want[l] = true
	}
	var out []registry.Descriptor
	for _, d := range descs {
		if want[d.Language] {
			out = append(out, d)
		}
	}
	return out, nil
}

// collect lists the files of every candidate language, narrowed to the
// changed set in incremental mode. Exclusions are applied per validator.
func (s *RunService) collect(projectPath string, cfg domain.Config, descs []registry.Descriptor, incremental bool, req RunRequest, warn func(string, error)) (map[string][]string, error) {
	langs := make(map[string]bool)
	for _, d := range descs {
		langs[d.Language] = true
	}
	if len(langs) == 0 {
		return map[string][]string{}, nil
	}
	files, err := s.collector.Collect(projectPath, sortedSet(langs), nil)
	if err != nil {
		return nil, fmt.Errorf("collecting files: %w", err)
	}
	if !incremental {
		return files, nil
	}

	changed := req.Files
	if len(changed) == 0 {
		if s.git == nil || !s.git.IsGitRepo(projectPath) {
			warn("incremental mode unavailable, validating all files", errors.New("not a git repository"))
			return files, nil
		}
		changed, err = s.git.ChangedFiles(projectPath, req.Since)
		if err != nil {
			return nil, fmt.Errorf("listing changed files: %w", err)
		}
	}
	s.logger.Debug("incremental file set", zap.Int("changed", len(changed)))
	return restrictFiles(files, projectPath, changed), nil
}

func (s *RunService) selectUnits(
	ctx context.Context,
	cfg domain.Config,
	req RunRequest,
	store domain.StatsStore,
	descs []registry.Descriptor,
	files map[string][]string,
) ([]unit, domain.SelectionInfo, []domain.ValidationResult, error) {
	var units []unit
	for _, d := range descs {
		if fs := filesFor(cfg, d, files); len(fs) > 0 {
			units = append(units, unit{desc: d, files: fs})
		}
	}

	if len(req.Validators) > 0 {
		return units, domain.SelectionInfo{Scope: domain.ScopeValidator, Selected: unitNames(units)}, nil, nil
	}

	rule, err := s.resolveRule(ctx, cfg, store, req.Rule)
	if err != nil {
		return nil, domain.SelectionInfo{}, nil, err
	}
	var history domain.HistoryReader = emptyHistory{}
	if store != nil {
		history = store
	}
	engine := rules.NewEngine(history, cfg.Statistics.Window)
	smart := cfg.Statistics.SmartFilter.Enabled
	if req.SmartFilter != nil {
		smart = *req.SmartFilter
	}
	scope := rule.EffectiveScope()
	info := domain.SelectionInfo{Rule: rule.Name, Scope: scope}

	// pick runs the rule, then the smart filter when enabled, and
	// returns the ids in dispatch order.
	pick := func(candidates []string) ([]string, error) {
		selected, err := engine.Resolve(ctx, rule, candidates)
		if err != nil {
			return nil, fmt.Errorf("resolving rule %q: %w", rule.Name, err)
		}
		if !smart {
			info.Selected = nonNilStrings(selected)
			return selected, nil
		}
		fr, err := engine.Filter(ctx, scope.EntityType(), selected, rules.NewSmartFilter(cfg.Statistics.SmartFilter))
		if err != nil {
			return nil, fmt.Errorf("applying smart filter: %w", err)
		}
		info.Selected = nonNilStrings(fr.Run)
		info.Skipped = fr.Skipped
		info.Prioritized = fr.Prioritized
		return fr.Run, nil
	}

	switch scope {
	case domain.ScopeTest:
		known, err := history.EntityIDs(ctx, domain.EntityTest)
		if err != nil {
			return nil, info, nil, fmt.Errorf("loading test history: %w", err)
		}
		selected, err := pick(nil)
		if err != nil {
			return nil, info, nil, err
		}
		if len(known) == 0 {
			// no history yet: every test runs
			return units, info, nil, nil
		}
		var kept []unit
		var skipped []domain.ValidationResult
		for _, u := range units {
			if u.desc.Kind != registry.KindTest {
				kept = append(kept, u)
				continue
			}
			u.tests = ownedTests(u.desc.Language, selected)
			if len(u.tests) == 0 {
				skipped = append(skipped, domain.SkippedResult(u.desc.Name, u.desc.Language, reasonNoTests))
				continue
			}
			kept = append(kept, u)
		}
		return kept, info, skipped, nil

	case domain.ScopeFile:
		ids := []string{}
		for _, u := range units {
			for _, f := range u.files {
				ids = append(ids, domain.FileEntityID(u.desc.Name, f))
			}
		}
		order, err := pick(ids)
		if err != nil {
			return nil, info, nil, err
		}
		keep := make(map[string]bool, len(order))
		for _, id := range order {
			keep[id] = true
		}
		var kept []unit
		for _, u := range units {
			var fs []string
			for _, f := range u.files {
				if keep[domain.FileEntityID(u.desc.Name, f)] {
					fs = append(fs, f)
				}
			}
			if len(fs) > 0 {
				u.files = fs
				kept = append(kept, u)
			}
		}
		return orderUnits(kept, order, func(id string) string {
			v, _, _ := domain.SplitFileEntityID(id)
			return v
		}), info, nil, nil

	default:
		order, err := pick(unitNames(units))
		if err != nil {
			return nil, info, nil, err
		}
		return orderUnits(units, order, func(id string) string { return id }), info, nil, nil
	}
}

// resolveRule finds the named rule in the store, then the config. An empty
// name is the built-in "all" rule.
func (s *RunService) resolveRule(ctx context.Context, cfg domain.Config, store domain.StatsStore, name string) (domain.ExecutionRule, error) {
	if name == "" {
		name = string(domain.CriterionAll)
	}
	var rule *domain.ExecutionRule
	if store != nil {
		r, err := store.Rule(ctx, name)
		switch {
		case err == nil:
			rule = r
		case !errors.Is(err, domain.ErrNotFound):
			return domain.ExecutionRule{}, fmt.Errorf("loading rule %q: %w", name, err)
		}
	}
	if rule == nil {
		if r, ok := cfg.FindRule(name); ok {
			rule = &r
		}
	}
	if rule == nil {
		if name == string(domain.CriterionAll) {
			return domain.ExecutionRule{Name: name, Criterion: domain.CriterionAll}, nil
		}
		return domain.ExecutionRule{}, domain.ConfigError("unknown rule %q", name)
	}
	if !rule.IsEnabled() {
		return domain.ExecutionRule{}, domain.ConfigError("rule %q is disabled", name)
	}
	return *rule, nil
}

func filesFor(cfg domain.Config, d registry.Descriptor, files map[string][]string) []string {
	exclude := cfg.EffectiveExclude(d.Name, d.Language)
	var out []string
	for _, f := range files[d.Language] {
		if !rules.Excluded(exclude, f) {
			out = append(out, f)
		}
	}
	return out
}

// restrictFiles keeps only the collected files present in changed.
// Changed paths may be absolute or relative to the project.
func restrictFiles(files map[string][]string, projectPath string, changed []string) map[string][]string {
	keep := make(map[string]bool, len(changed))
	for _, f := range changed {
		if filepath.IsAbs(f) {
			rel, err := filepath.Rel(projectPath, f)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			f = rel
		}
		keep[filepath.ToSlash(filepath.Clean(f))] = true
	}
	out := make(map[string][]string, len(files))
	for lang, list := range files {
		var kept []string
		for _, f := range list {
			if keep[f] {
				kept = append(kept, f)
			}
		}
		if len(kept) > 0 {
			out[lang] = kept
		}
	}
	return out
}

// ownedTests filters test ids to the ones a validator of language can run.
// pytest ids carry a .py path, go test ids are "package::Test" and
// googletest ids are "Suite.Name".
func ownedTests(language string, ids []string) []string {
	var out []string
	for _, id := range ids {
		pyID := strings.Contains(id, ".py::")
		var ok bool
		switch language {
		case "python":
			ok = pyID
		case "go":
			ok = !pyID && strings.Contains(id, "::")
		case "cpp":
			ok = !strings.Contains(id, "::")
		}
		if ok {
			out = append(out, id)
		}
	}
	return out
}

// orderUnits sorts units by the first position of their id in order.
// Units that do not appear are dropped.
func orderUnits(units []unit, order []string, owner func(string) string) []unit {
	pos := make(map[string]int, len(order))
	for i, id := range order {
		name := owner(id)
		if _, ok := pos[name]; !ok {
			pos[name] = i
		}
	}
	var out []unit
	for _, u := range units {
		if _, ok := pos[u.desc.Name]; ok {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return pos[out[i].desc.Name] < pos[out[j].desc.Name] })
	return out
}

func unitNames(units []unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.desc.Name
	}
	return out
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func resolve(projectPath, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(projectPath, p)
}

// emptyHistory stands in for the store when statistics are disabled.
type emptyHistory struct{}

func (emptyHistory) EntityIDs(context.Context, domain.EntityType) ([]string, error) {
	return nil, nil
}

func (emptyHistory) EntityStatistics(context.Context, domain.EntityType) (map[string]domain.EntityStatistics, error) {
	return map[string]domain.EntityStatistics{}, nil
}

func (emptyHistory) RecentStatuses(context.Context, domain.EntityType, int) (map[string][]domain.Status, error) {
	return map[string][]domain.Status{}, nil
}
