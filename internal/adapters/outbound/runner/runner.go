// Package runner executes tool subprocesses with a hard timeout.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/normalize"
	"go.uber.org/zap"
)

// DefaultWaitDelay bounds how long Run waits for pipes to close after the
// process was killed.
const DefaultWaitDelay = 2 * time.Second

// Runner implements the validators' command runner with os/exec.
type Runner struct {
	logger    *zap.Logger
	waitDelay time.Duration
}

// New creates a Runner. A nil logger discards logs.
func New(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger, waitDelay: DefaultWaitDelay}
}

// LookPath resolves an executable, wrapping domain.ErrToolUnavailable.
func (r *Runner) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found on PATH", domain.ErrToolUnavailable, name)
	}
	return path, nil
}

// Run executes c until it exits or ctx is done. On cancellation the whole
// process group is killed and whatever was captured so far is returned with
// TimedOut set. The error is non-nil only when the process could not start.
func (r *Runner) Run(ctx context.Context, c normalize.Command) (normalize.Output, error) {
	args := c.Args
	var reportPath string
	if c.ReportFile {
		f, err := os.CreateTemp("", "anvil-report-*")
		if err != nil {
			return normalize.Output{}, fmt.Errorf("creating report file: %w", err)
		}
		reportPath = f.Name()
		f.Close()
		defer os.Remove(reportPath)
		args = substitute(c.Args, reportPath)
	}

	cmd := exec.CommandContext(ctx, c.Name, args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = r.waitDelay

	start := time.Now()
	err := cmd.Run()
	out := normalize.Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil && cmd.ProcessState == nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return out, fmt.Errorf("%w: %s: %v", domain.ErrToolUnavailable, c.Name, err)
		}
		if ctx.Err() == nil {
			return out, fmt.Errorf("starting %s: %w", c.Name, err)
		}
	}

	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	} else {
		out.ExitCode = -1
	}
	if ctx.Err() != nil {
		out.TimedOut = true
		r.logger.Warn("command killed",
			zap.String("command", c.String()),
			zap.Duration("after", out.Duration),
			zap.Error(ctx.Err()))
	}

	if reportPath != "" {
		if data, err := os.ReadFile(reportPath); err == nil {
			out.Report = string(data)
		}
	}

	r.logger.Debug("command finished",
		zap.String("command", c.String()),
		zap.Int("exit_code", out.ExitCode),
		zap.Duration("duration", out.Duration))
	return out, nil
}

func substitute(args []string, reportPath string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, normalize.ReportPlaceholder, reportPath)
	}
	return out
}
