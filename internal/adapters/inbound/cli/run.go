package cli

import (
	"fmt"

	"github.com/openkraft/anvil/internal/adapters/outbound/metrics"
	"github.com/openkraft/anvil/internal/adapters/outbound/tui"
	"github.com/openkraft/anvil/internal/application"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		configPath  string
		validators  []string
		rule        string
		languages   []string
		incremental bool
		files       []string
		since       string
		failFast    bool
		maxWorkers  int
		smartFilter bool
		noStats     bool
		jsonOutput  bool
		reportPath  string
		metricsPath string
	)

	cmd := &cobra.Command{
		Use:   "run [path]",
		Short: "Run the configured validators",
		Long: "Run every enabled validator against the project and print one verdict.\n" +
			"Exit codes: 0 passed, 1 failed, 2 configuration error, 3 required tool missing.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup(args, configPath)
			if err != nil {
				return &ExitError{Code: application.ExitConfig, Err: err}
			}
			defer e.logger.Sync() //nolint:errcheck

			req := application.RunRequest{
				ProjectPath: e.projectPath,
				ConfigPath:  configPath,
				Validators:  validators,
				Rule:        rule,
				Languages:   languages,
				Incremental: incremental || len(files) > 0 || since != "",
				Files:       files,
				Since:       since,
				MaxWorkers:  maxWorkers,
				NoStats:     noStats,
				ReportPath:  reportPath,
				MetricsPath: metricsPath,
			}
			if cmd.Flags().Changed("fail-fast") {
				req.FailFast = &failFast
			}
			if cmd.Flags().Changed("smart-filter") {
				req.SmartFilter = &smartFilter
			}

			report, runErr := e.runService(metrics.New()).Run(cmd.Context(), req)
			if report != nil {
				if jsonOutput {
					if err := renderJSON(cmd.OutOrStdout(), report); err != nil {
						return err
					}
				} else {
					fmt.Fprint(cmd.OutOrStdout(), tui.RenderRunReport(report))
				}
			}

			code := application.ExitCodeFor(report, runErr)
			if code == application.ExitPassed {
				return nil
			}
			return &ExitError{Code: code, Err: runErr}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to the configuration file (default <path>/.anvil.yaml)")
	cmd.Flags().StringSliceVar(&validators, "validators", nil, "Run only these validators, bypassing rules")
	cmd.Flags().StringVar(&rule, "rule", "", "Execution rule that selects what runs")
	cmd.Flags().StringSliceVar(&languages, "language", nil, "Restrict the run to these languages")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "Validate only files changed since the last commit")
	cmd.Flags().StringSliceVar(&files, "files", nil, "Validate only these files (implies --incremental)")
	cmd.Flags().StringVar(&since, "since", "", "Git revision the incremental diff starts from (implies --incremental)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop dispatching after the first failure")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum validators running at once (default from config)")
	cmd.Flags().BoolVar(&smartFilter, "smart-filter", false, "Skip validators with a long passing history")
	cmd.Flags().BoolVar(&noStats, "no-stats", false, "Do not record this run in the statistics database")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the run report as JSON")
	cmd.Flags().StringVar(&reportPath, "report", "", "Also write the JSON report to this file")
	cmd.Flags().StringVar(&metricsPath, "metrics-textfile", "", "Write Prometheus metrics to this file")

	return cmd
}
