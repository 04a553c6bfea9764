package cli

import (
	mcpadapter "github.com/openkraft/anvil/internal/adapters/inbound/mcp"
	"github.com/openkraft/anvil/internal/application"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "MCP server commands",
		Long:  "Commands for running the anvil MCP (Model Context Protocol) server.",
	}
	cmd.AddCommand(newMCPServeCmd(opts))
	return cmd
}

func newMCPServeCmd(opts *rootOptions) *cobra.Command {
	var projectPath, configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start anvil MCP server (stdio)",
		Long:  "Start the anvil MCP server using stdio transport. This lets AI coding assistants query run history, flaky checks and execution rules.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectPath == "" {
				projectPath = "."
			}
			e, err := opts.setup([]string{projectPath}, configPath)
			if err != nil {
				return err
			}
			defer e.logger.Sync() //nolint:errcheck

			store, err := e.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			s := mcpadapter.NewAnvilMCPServer(
				application.NewQueryService(store),
				application.NewRuleService(store, e.cfg.Statistics.Window),
			)
			return server.ServeStdio(s)
		},
	}

	cmd.Flags().StringVar(&projectPath, "path", "", "Project path (defaults to current working directory)")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to the configuration file")

	return cmd
}
