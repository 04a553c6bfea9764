// Package validators holds the built-in tool integrations.
package validators

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/normalize"
	"github.com/openkraft/anvil/internal/domain/registry"
	"go.uber.org/zap"
)

// CommandRunner executes tool subprocesses.
type CommandRunner interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, c normalize.Command) (normalize.Output, error)
}

// BuildFunc turns a request into the tool invocation. formatArgs are the
// version-specific arguments selecting the structured output, if any.
type BuildFunc func(req domain.ValidateRequest, opts normalize.Options, formatArgs []string) normalize.Command

// PostFunc inspects the finished result, e.g. to enforce a coverage threshold.
type PostFunc func(res *domain.ValidationResult, opts normalize.Options)

// Tool is the static description of one integration.
type Tool struct {
	Name           string
	Language       string
	Kind           registry.Kind
	Description    string
	DefaultEnabled bool

	Executable string
	// ExecutableOption names the option holding the executable path, for
	// tools such as test binaries that are built by the project.
	ExecutableOption string
	VersionArgs      []string
	Formats          []normalize.Format
	Text             normalize.Strategy
	Policy           normalize.Policy
	Build            BuildFunc
	Post             PostFunc

	// FormatOption, when set, names the boolean option that turns the
	// structured formats on. Without it the text strategy is used.
	FormatOption string

	// NeedsFiles tools are not invoked when the request has no files.
	NeedsFiles bool
}

// ToolValidator adapts a Tool to domain.Validator.
type ToolValidator struct {
	tool     Tool
	runner   CommandRunner
	versions *normalize.VersionCache
	logger   *zap.Logger
}

// NewToolValidator wires a tool to the runner and the shared version cache.
func NewToolValidator(tool Tool, runner CommandRunner, versions *normalize.VersionCache, logger *zap.Logger) *ToolValidator {
	if versions == nil {
		versions = normalize.NewVersionCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tool.Policy.OK == nil {
		tool.Policy = normalize.DefaultPolicy
	}
	return &ToolValidator{tool: tool, runner: runner, versions: versions, logger: logger.With(zap.String("validator", tool.Name))}
}

func (v *ToolValidator) Name() string     { return v.tool.Name }
func (v *ToolValidator) Language() string { return v.tool.Language }

// Descriptor returns the registry entry for this validator.
func (v *ToolValidator) Descriptor() registry.Descriptor {
	return registry.Descriptor{
		Name:           v.tool.Name,
		Language:       v.tool.Language,
		Kind:           v.tool.Kind,
		Description:    v.tool.Description,
		DefaultEnabled: v.tool.DefaultEnabled,
		Validator:      v,
	}
}

// IsAvailable resolves the executable and probes its version once.
// Project-built executables are only resolved when a run supplies options.
func (v *ToolValidator) IsAvailable(ctx context.Context) bool {
	if v.tool.ExecutableOption != "" {
		return true
	}
	if _, err := v.runner.LookPath(v.tool.Executable); err != nil {
		return false
	}
	_, err := v.Version(ctx)
	return err == nil
}

// Version returns the first line of the tool's version output, or "" for
// tools without a version command.
func (v *ToolValidator) Version(ctx context.Context) (string, error) {
	if len(v.tool.VersionArgs) == 0 || v.tool.Executable == "" {
		return "", nil
	}
	return v.versions.Get(ctx, v.tool.Executable, func(ctx context.Context) (string, error) {
		if _, err := v.runner.LookPath(v.tool.Executable); err != nil {
			return "", err
		}
		out, err := v.runner.Run(ctx, normalize.Command{Name: v.tool.Executable, Args: v.tool.VersionArgs})
		if err != nil {
			return "", err
		}
		for _, line := range strings.Split(out.Normalized().Combined(), "\n") {
			if _, ok := normalize.ParseVersion(line); ok {
				return strings.TrimSpace(line), nil
			}
		}
		return "", fmt.Errorf("%w: %s printed no version", domain.ErrParseFailure, v.tool.Executable)
	})
}

// Validate never panics and never fails: every problem becomes an ERROR result.
func (v *ToolValidator) Validate(ctx context.Context, req domain.ValidateRequest) (res domain.ValidationResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("validator panicked", zap.Any("panic", r))
			res = domain.CrashResult(v.tool.Name, v.tool.Language, r)
		}
		res.Duration = time.Since(start)
	}()

	// 1. tool must exist
	opts := normalize.Options(req.Options)
	exe, err := v.executable(req.WorkDir, opts)
	if err != nil {
		return v.unavailable(err)
	}
	if _, err := v.runner.LookPath(exe); err != nil {
		return v.unavailable(err)
	}

	// 2. nothing to check
	if v.tool.NeedsFiles && len(req.Files) == 0 {
		return domain.ValidationResult{Validator: v.tool.Name, Language: v.tool.Language, Status: domain.StatusPassed, Passed: true}
	}

	// 3. pick the output format for the installed version
	var format normalize.Format
	var diagnostics []string
	if v.tool.FormatOption == "" || opts.Bool(v.tool.FormatOption, false) {
		format, diagnostics = v.selectFormat(ctx)
	}

	// 4. run
	cmd := v.tool.Build(req, opts, format.Args)
	cmd.Name = exe
	cmd.Dir = req.WorkDir
	for _, a := range cmd.Args {
		if strings.Contains(a, normalize.ReportPlaceholder) {
			cmd.ReportFile = true
		}
	}
	out, err := v.runner.Run(ctx, cmd)
	if err != nil {
		return v.unavailable(err)
	}
	if out.TimedOut {
		return v.timedOut(ctx, start, out)
	}

	// 5. normalize
	pctx := normalize.ParseContext{Tool: v.tool.Name, WorkDir: req.WorkDir, Files: req.Files, Options: opts}
	oc := normalize.Normalize(format.Structured, v.tool.Text, out, pctx, v.tool.Policy)
	oc.Diagnostics = append(diagnostics, oc.Diagnostics...)

	res = domain.ValidationResult{
		Validator:    v.tool.Name,
		Language:     v.tool.Language,
		Status:       oc.Status,
		Passed:       oc.Passed,
		FilesChecked: oc.FilesChecked,
		Files:        req.Files,
		Tests:        oc.Tests,
	}
	if res.FilesChecked == 0 {
		res.FilesChecked = len(req.Files)
	}
	for _, is := range oc.Issues {
		res.AddIssue(is)
	}
	for k, val := range oc.Metadata {
		res.SetMetadata(k, val)
	}
	res.SetMetadata("strategy", oc.Strategy)
	res.SetMetadata("exit_code", out.ExitCode)
	res.SetMetadata("command", cmd.String())
	if len(oc.Diagnostics) > 0 {
		res.SetMetadata("diagnostics", oc.Diagnostics)
	}

	// 6. tool-specific checks on the result
	if v.tool.Post != nil {
		v.tool.Post(&res, opts)
		if len(res.Errors) > 0 && res.Status == domain.StatusPassed {
			res.Status = domain.StatusFailed
			res.Passed = false
		}
	}
	return res
}

func (v *ToolValidator) selectFormat(ctx context.Context) (normalize.Format, []string) {
	if len(v.tool.Formats) == 0 {
		return normalize.Format{}, nil
	}
	if len(v.tool.VersionArgs) == 0 {
		f, _ := normalize.SelectFormat(v.tool.Formats, normalize.Version{})
		return f, nil
	}
	raw, err := v.Version(ctx)
	if err == nil {
		if ver, ok := normalize.ParseVersion(raw); ok {
			if f, ok := normalize.SelectFormat(v.tool.Formats, ver); ok {
				return f, nil
			}
		}
	}
	if raw == "" {
		raw = "unknown"
	}
	msg := fmt.Sprintf("unrecognized %s version %s; using text parser", v.tool.Name, raw)
	v.logger.Warn("unrecognized tool version", zap.String("version", raw), zap.NamedError("probe", err))
	return normalize.Format{}, []string{msg}
}

func (v *ToolValidator) executable(workDir string, opts normalize.Options) (string, error) {
	if v.tool.ExecutableOption == "" {
		return v.tool.Executable, nil
	}
	exe := opts.String(v.tool.ExecutableOption, "")
	if exe == "" {
		return "", fmt.Errorf("%w: option %q is not set", domain.ErrToolUnavailable, v.tool.ExecutableOption)
	}
	if strings.ContainsRune(exe, '/') && !filepath.IsAbs(exe) {
		exe = filepath.Join(workDir, exe)
	}
	return exe, nil
}

func (v *ToolValidator) unavailable(err error) domain.ValidationResult {
	v.logger.Warn("tool unavailable", zap.Error(err))
	return domain.ErrorResult(v.tool.Name, v.tool.Language, "<system>", "tool-unavailable",
		fmt.Sprintf("%s is not available: %v", v.tool.Name, err))
}

func (v *ToolValidator) timedOut(ctx context.Context, start time.Time, out normalize.Output) domain.ValidationResult {
	limit := time.Since(start)
	if deadline, ok := ctx.Deadline(); ok {
		limit = deadline.Sub(start)
	}
	res := domain.TimeoutResult(v.tool.Name, v.tool.Language, limit)
	if partial := strings.TrimSpace(out.Combined()); partial != "" {
		res.SetMetadata("partial_output", partial)
	}
	return res
}

// fileArgs appends the request's files to args.
func fileArgs(args []string, req domain.ValidateRequest) []string {
	return append(args, req.Files...)
}
