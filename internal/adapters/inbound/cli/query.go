package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/openkraft/anvil/internal/adapters/outbound/tui"
	"github.com/openkraft/anvil/internal/application"
	"github.com/openkraft/anvil/internal/domain"
	"github.com/spf13/cobra"
)

func newQueryCmd(opts *rootOptions) *cobra.Command {
	var (
		path       string
		configPath string
		params     application.QueryParams
		entityType string
		since      string
		until      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "query <kind>",
		Short: "Query the run history",
		Long: "Answer questions about recorded runs.\n\nKinds: " + strings.Join(application.QueryKinds, ", ") + ".\n" +
			"runs and run print a table; every other kind prints JSON.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: application.QueryKinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup([]string{path}, configPath)
			if err != nil {
				return err
			}
			defer e.logger.Sync() //nolint:errcheck

			params.EntityType = domain.EntityType(entityType)
			if params.Since, err = parseTime(since); err != nil {
				return domain.ConfigError("invalid --since: %v", err)
			}
			if params.Until, err = parseTime(until); err != nil {
				return domain.ConfigError("invalid --until: %v", err)
			}

			store, err := e.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			kind := args[0]
			res, err := application.NewQueryService(store).Query(cmd.Context(), kind, params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case jsonOutput:
				return renderJSON(out, res)
			case kind == application.QueryRuns:
				fmt.Fprint(out, tui.RenderRuns(res.Runs))
			case kind == application.QueryRun:
				fmt.Fprint(out, tui.RenderRunReport(res.Report))
			default:
				return renderJSON(out, res)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&path, "path", ".", "Project directory")
	f.StringVar(&configPath, "config", "", "Path to the configuration file")
	f.StringVar(&params.RunID, "run", "", "Run id (run; default latest)")
	f.StringVar(&params.EntityID, "entity", "", "Entity id: validator name, test id or validator:path")
	f.StringVar(&entityType, "type", "", "Entity type filter: validator, test or file (entities)")
	f.StringVar(&params.Validator, "validator", "", "Validator name (file-errors, problematic-files, validator-trend)")
	f.StringVar(&params.Branch, "branch", "", "Only runs on this branch (runs)")
	f.StringVar(&params.Commit, "commit", "", "Only runs at this commit (runs)")
	f.StringVar(&since, "since", "", "Only runs at or after this time, RFC3339 or YYYY-MM-DD (runs)")
	f.StringVar(&until, "until", "", "Only runs before this time, RFC3339 or YYYY-MM-DD (runs)")
	f.IntVar(&params.Limit, "limit", 0, "Maximum rows (runs, entity)")
	f.IntVar(&params.Window, "window", 0, "Number of recent executions considered")
	f.IntVar(&params.MinRuns, "min-runs", 0, "Minimum runs a file needs to be reported")
	f.IntVar(&params.Days, "days", 0, "Days of history (validator-trend)")
	f.Float64Var(&params.Threshold, "threshold", 0, "Rate threshold (flaky, problematic-files)")
	f.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
