package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/openkraft/anvil/internal/adapters/outbound/runner"
	"github.com/openkraft/anvil/internal/adapters/outbound/validators"
	"github.com/openkraft/anvil/internal/application"
	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/registry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version = "dev"
	commit  = "none"
)

// ExitError carries the process exit code out of a command. Err is nil
// when the code alone says everything (validation failures).
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return application.ExitPassed
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, domain.ErrToolMissing):
		return application.ExitToolMissing
	default:
		return application.ExitConfig
	}
}

// RegistryFactory builds the validator registry. The logger is the one the
// validators log through.
type RegistryFactory func(logger *zap.Logger) (*registry.Registry, error)

// BuiltinRegistry registers every built-in tool integration.
func BuiltinRegistry(logger *zap.Logger) (*registry.Registry, error) {
	reg := registry.New()
	if err := validators.RegisterBuiltins(reg, runner.New(logger), logger); err != nil {
		return nil, err
	}
	return reg, nil
}

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	logLevel    string
	logFormat   string
	newRegistry RegistryFactory
}

func newRootCmd(newRegistry RegistryFactory) *cobra.Command {
	opts := &rootOptions{newRegistry: newRegistry}

	cmd := &cobra.Command{
		Use:   "anvil",
		Short: "Run every code-quality tool, one verdict",
		Long: "anvil runs linters, formatters, analyzers and test runners across Python, C++ and Go, " +
			"normalizes their output, and records every run so failing, flaky and slow checks can be queried.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config, else info)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: console or json (default from config)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newQueryCmd(opts))
	cmd.AddCommand(newRulesCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newValidatorsCmd(opts))
	cmd.AddCommand(newInitCmd(opts))
	cmd.AddCommand(newMCPCmd(opts))
	return cmd
}

// NewRootCmdForTest returns the root command for testing.
func NewRootCmdForTest() *cobra.Command {
	return newRootCmd(BuiltinRegistry)
}

// NewRootCmdWithRegistry returns the root command with a custom registry.
func NewRootCmdWithRegistry(newRegistry RegistryFactory) *cobra.Command {
	return newRootCmd(newRegistry)
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the run in progress.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd(BuiltinRegistry).ExecuteContext(ctx)
}

// Main executes the CLI and returns the process exit code. Errors are
// printed to stderr.
func Main() int {
	err := Execute()
	report(os.Stderr, err)
	return ExitCode(err)
}

func report(w io.Writer, err error) {
	if err == nil {
		return
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return
	}
	fmt.Fprintf(w, "anvil: %v\n", err)
}
