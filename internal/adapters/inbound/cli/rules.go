package cli

import (
	"fmt"
	"strings"

	"github.com/openkraft/anvil/internal/adapters/outbound/tui"
	"github.com/openkraft/anvil/internal/application"
	"github.com/openkraft/anvil/internal/domain"
	"github.com/spf13/cobra"
)

func newRulesCmd(opts *rootOptions) *cobra.Command {
	var path, configPath string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage execution rules",
		Long: "Execution rules decide which validators, tests or files a run selects.\n" +
			"Rules from .anvil.yaml are synced into the statistics database before every command.",
	}
	cmd.PersistentFlags().StringVar(&path, "path", ".", "Project directory")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file")

	// open wires a RuleService over the project store; done releases it.
	open := func(cmd *cobra.Command) (*env, *application.RuleService, func(), error) {
		e, err := opts.setup([]string{path}, configPath)
		if err != nil {
			return nil, nil, nil, err
		}
		store, err := e.openStore()
		if err != nil {
			return nil, nil, nil, err
		}
		svc := application.NewRuleService(store, e.cfg.Statistics.Window)
		for _, r := range e.cfg.Rules {
			if err := svc.Save(cmd.Context(), r); err != nil {
				store.Close()
				return nil, nil, nil, err
			}
		}
		done := func() {
			store.Close()
			_ = e.logger.Sync()
		}
		return e, svc, done, nil
	}

	cmd.AddCommand(newRulesListCmd(open))
	cmd.AddCommand(newRulesShowCmd(open))
	cmd.AddCommand(newRulesAddCmd(open))
	cmd.AddCommand(newRulesDeleteCmd(open))
	cmd.AddCommand(newRulesPreviewCmd(open))
	return cmd
}

type ruleOpener func(cmd *cobra.Command) (*env, *application.RuleService, func(), error)

func newRulesListCmd(open ruleOpener) *cobra.Command {
	var enabledOnly, jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List execution rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, done, err := open(cmd)
			if err != nil {
				return err
			}
			defer done()

			rs, err := svc.List(cmd.Context(), enabledOnly)
			if err != nil {
				return err
			}
			if jsonOutput {
				if rs == nil {
					rs = []domain.ExecutionRule{}
				}
				return renderJSON(cmd.OutOrStdout(), rs)
			}
			fmt.Fprint(cmd.OutOrStdout(), tui.RenderRules(rs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "Only enabled rules")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newRulesShowCmd(open ruleOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one execution rule as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, done, err := open(cmd)
			if err != nil {
				return err
			}
			defer done()

			r, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderJSON(cmd.OutOrStdout(), r)
		},
	}
}

func newRulesAddCmd(open ruleOpener) *cobra.Command {
	var (
		rule      domain.ExecutionRule
		threshold float64
		disabled  bool
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create or replace an execution rule",
		Example: "  anvil rules add recent --criterion failed-in-last --window 5\n" +
			"  anvil rules add python-lint --criterion group --groups 'flake8,pylint,py*'\n" +
			"  anvil rules add unstable-tests --scope test --criterion failure-rate --threshold 0.2",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, done, err := open(cmd)
			if err != nil {
				return err
			}
			defer done()

			rule.Name = args[0]
			if cmd.Flags().Changed("threshold") {
				rule.Threshold = &threshold
			}
			enabled := !disabled
			rule.Enabled = &enabled
			if err := svc.Save(cmd.Context(), rule); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved rule %q\n", rule.Name)
			return nil
		},
	}
	f := cmd.Flags()
	f.Var(newEnumValue((*string)(&rule.Criterion), criteria()), "criterion", "Selection criterion: "+strings.Join(criteria(), ", "))
	f.Var(newEnumValue((*string)(&rule.Scope), scopes()), "scope", "Entity scope: "+strings.Join(scopes(), ", ")+" (default validator)")
	f.StringSliceVar(&rule.Groups, "groups", nil, "Glob patterns or names (group)")
	f.Float64Var(&threshold, "threshold", domain.DefaultFailureRateThreshold, "Minimum failure rate (failure-rate)")
	f.IntVar(&rule.Window, "window", 0, "Recent runs considered (failed-in-last, failure-rate)")
	f.StringVar(&rule.Description, "description", "", "Free-form description")
	f.BoolVar(&disabled, "disabled", false, "Store the rule disabled")
	_ = cmd.MarkFlagRequired("criterion")
	return cmd
}

func newRulesDeleteCmd(open ruleOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an execution rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, done, err := open(cmd)
			if err != nil {
				return err
			}
			defer done()

			if err := svc.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted rule %q\n", args[0])
			return nil
		},
	}
}

func newRulesPreviewCmd(open ruleOpener) *cobra.Command {
	var candidates []string
	cmd := &cobra.Command{
		Use:   "preview <name>",
		Short: "Show what a rule would select, without running anything",
		Long: "Resolve a rule against the run history. For validator-scoped rules the candidates\n" +
			"default to the enabled validators; other scopes select from history.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, svc, done, err := open(cmd)
			if err != nil {
				return err
			}
			defer done()

			r, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(candidates) == 0 && r.EffectiveScope() == domain.ScopeValidator {
				for _, d := range e.registry.Enabled(e.cfg) {
					candidates = append(candidates, d.Name)
				}
			}
			selected, err := svc.PreviewRule(cmd.Context(), *r, candidates)
			if err != nil {
				return err
			}
			if selected == nil {
				selected = []string{}
			}
			return renderJSON(cmd.OutOrStdout(), map[string]any{
				"rule":     r.Name,
				"scope":    r.EffectiveScope(),
				"selected": selected,
			})
		},
	}
	cmd.Flags().StringSliceVar(&candidates, "candidates", nil, "Entity ids to select from")
	return cmd
}

func criteria() []string {
	out := make([]string, len(domain.ValidCriteria))
	for i, c := range domain.ValidCriteria {
		out[i] = string(c)
	}
	return out
}

func scopes() []string {
	out := make([]string, len(domain.ValidScopes))
	for i, s := range domain.ValidScopes {
		out[i] = string(s)
	}
	return out
}

// enumValue is a pflag.Value restricted to a fixed set of strings.
type enumValue struct {
	target  *string
	allowed []string
}

func newEnumValue(target *string, allowed []string) *enumValue {
	return &enumValue{target: target, allowed: allowed}
}

func (v *enumValue) String() string { return *v.target }
func (v *enumValue) Type() string   { return "string" }

func (v *enumValue) Set(s string) error {
	for _, a := range v.allowed {
		if s == a {
			*v.target = s
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", strings.Join(v.allowed, ", "))
}
