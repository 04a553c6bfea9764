package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openkraft/anvil/internal/adapters/outbound/config"
	"github.com/openkraft/anvil/internal/adapters/outbound/detector"
	"github.com/openkraft/anvil/internal/adapters/outbound/scanner"
	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/registry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Generate a .anvil.yaml configuration file",
		Long: "Create a .anvil.yaml for the project. Languages found in the tree are enabled,\n" +
			"the rest are disabled, and every registered validator is listed with its default.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			absPath, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			dest := filepath.Join(absPath, config.FileName)

			if !force {
				if _, err := os.Stat(dest); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", config.FileName)
				}
			}

			reg, err := opts.newRegistry(zap.NewNop())
			if err != nil {
				return fmt.Errorf("registering validators: %w", err)
			}

			det := detector.New()
			files, err := scanner.New(det).Collect(absPath, nil, nil)
			if err != nil {
				return fmt.Errorf("scanning project: %w", err)
			}
			var all []string
			for _, fs := range files {
				all = append(all, fs...)
			}

			content := generateConfig(reg, det.Detect(absPath, all))

			if err := os.WriteFile(dest, []byte(content), 0644); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", config.FileName)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing .anvil.yaml")

	return cmd
}

func generateConfig(reg *registry.Registry, detected []string) string {
	present := make(map[string]bool, len(detected))
	for _, l := range detected {
		present[l] = true
	}

	var b strings.Builder
	b.WriteString("# anvil configuration\n\n")
	b.WriteString("# max_workers: 4        # default: number of CPUs\n")
	b.WriteString("fail_fast: false\n")
	b.WriteString("timeout: 5m\n\n")

	b.WriteString("exclude:\n  - build/\n  - dist/\n\n")

	b.WriteString("languages:\n")
	for _, lang := range domain.KnownLanguages {
		fmt.Fprintf(&b, "  %s:\n    enabled: %t\n", lang, present[lang])
	}

	b.WriteString("\nvalidators:\n")
	for _, lang := range domain.KnownLanguages {
		ds := reg.ByLanguage(lang)
		if len(ds) == 0 {
			continue
		}
		fmt.Fprintf(&b, "  # %s\n", lang)
		for _, d := range ds {
			fmt.Fprintf(&b, "  %s:\n    enabled: %t\n", d.Name, d.DefaultEnabled)
		}
	}

	fmt.Fprintf(&b, `
statistics:
  enabled: true
  database_path: %s
  retention_days: 90
  smart_filter:
    enabled: false
    skip_threshold: 0.95
    min_runs: 5

# rules:
#   - name: recent-failures
#     criterion: failed-in-last
#     window: 5

# report:
#   json_path: .anvil/report.json
# metrics:
#   textfile: .anvil/anvil.prom
`, domain.DefaultDatabasePath)

	return b.String()
}
