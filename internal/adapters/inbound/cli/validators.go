package cli

import (
	"fmt"

	"github.com/openkraft/anvil/internal/adapters/outbound/tui"
	"github.com/openkraft/anvil/internal/domain"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type validatorInfo struct {
	Name        string `json:"name"`
	Language    string `json:"language"`
	Kind        string `json:"kind"`
	Enabled     bool   `json:"enabled"`
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

func newValidatorsCmd(opts *rootOptions) *cobra.Command {
	var (
		path       string
		configPath string
		language   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "validators",
		Short: "List registered validators and whether their tools are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup([]string{path}, configPath)
			if err != nil {
				return err
			}
			defer e.logger.Sync() //nolint:errcheck

			ds := e.registry.List()
			if language != "" {
				ds = e.registry.ByLanguage(language)
			}

			// Probing runs each tool; do it concurrently.
			infos := make([]validatorInfo, len(ds))
			g, ctx := errgroup.WithContext(cmd.Context())
			for i, d := range ds {
				g.Go(func() error {
					info := validatorInfo{
						Name:        d.Name,
						Language:    d.Language,
						Kind:        string(d.Kind),
						Enabled:     e.cfg.IsEnabled(d.Name, d.Language, d.DefaultEnabled),
						Available:   d.Validator.IsAvailable(ctx),
						Description: d.Description,
					}
					if v, ok := d.Validator.(domain.Versioned); ok && info.Available {
						info.Version, _ = v.Version(ctx)
					}
					infos[i] = info
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			if jsonOutput {
				return renderJSON(cmd.OutOrStdout(), infos)
			}
			rows := make([]tui.ValidatorRow, len(infos))
			for i, info := range infos {
				rows[i] = tui.ValidatorRow(info)
			}
			fmt.Fprint(cmd.OutOrStdout(), tui.RenderValidators(rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Project directory")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to the configuration file")
	cmd.Flags().StringVar(&language, "language", "", "Only validators of this language")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
