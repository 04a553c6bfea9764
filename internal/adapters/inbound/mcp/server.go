package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/openkraft/anvil/internal/application"
)

// NewAnvilMCPServer creates an MCP server exposing the run history and
// execution rules. Both services share the caller's statistics store.
func NewAnvilMCPServer(queries *application.QueryService, rules *application.RuleService) *server.MCPServer {
	s := server.NewMCPServer(
		"anvil",
		"0.1.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithInstructions("Read-only access to anvil validation history. "+
			"Use anvil_runs for recent verdicts, anvil_flaky and anvil_entity to inspect unstable checks, "+
			"and anvil_rule_preview to see what an execution rule would select."),
	)

	registerTools(s, queries, rules)
	registerResources(s, queries, rules)

	return s
}
