package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/spf13/cobra"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var path, configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Maintain the statistics database",
	}
	cmd.PersistentFlags().StringVar(&path, "path", ".", "Project directory")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file")

	rebuild := &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute entity statistics from the stored runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup([]string{path}, configPath)
			if err != nil {
				return err
			}
			defer e.logger.Sync() //nolint:errcheck

			store, err := e.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.RebuildEntityStatistics(cmd.Context()); err != nil {
				return fmt.Errorf("rebuilding statistics: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Entity statistics rebuilt.")
			return nil
		},
	}

	var olderThan string
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			age, err := parseAge(olderThan)
			if err != nil {
				return domain.ConfigError("invalid --older-than %q: %v", olderThan, err)
			}
			e, err := opts.setup([]string{path}, configPath)
			if err != nil {
				return err
			}
			defer e.logger.Sync() //nolint:errcheck

			store, err := e.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.DeleteRunsOlderThan(cmd.Context(), time.Now().Add(-age))
			if err != nil {
				return fmt.Errorf("pruning runs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d run(s).\n", n)
			return nil
		},
	}
	prune.Flags().StringVar(&olderThan, "older-than", "90d", "Age cutoff: days (30d) or a Go duration (72h)")

	cmd.AddCommand(rebuild, prune)
	return cmd
}

// parseAge accepts "<n>d" in addition to time.ParseDuration syntax.
func parseAge(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("expected a number of days")
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}
