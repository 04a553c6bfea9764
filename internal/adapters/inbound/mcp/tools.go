package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/openkraft/anvil/internal/application"
	"github.com/openkraft/anvil/internal/domain"
)

// registerTools registers all anvil MCP tools on the given server.
func registerTools(s *server.MCPServer, queries *application.QueryService, rules *application.RuleService) {
	// 1. anvil_query
	s.AddTool(
		mcplib.NewTool("anvil_query",
			mcplib.WithDescription("Answers a question about recorded validation runs. Kinds: "+strings.Join(application.QueryKinds, ", ")),
			mcplib.WithString("kind",
				mcplib.Required(),
				mcplib.Enum(application.QueryKinds...),
				mcplib.Description("Query kind"),
			),
			mcplib.WithString("run_id", mcplib.Description("Run id (run; default latest)")),
			mcplib.WithString("entity_id", mcplib.Description("Validator name, test id or validator:path (entity, success-rate)")),
			mcplib.WithString("entity_type", mcplib.Description("validator, test or file (entities)")),
			mcplib.WithString("validator", mcplib.Description("Validator name (file-errors, problematic-files, validator-trend)")),
			mcplib.WithString("branch", mcplib.Description("Git branch filter (runs)")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum rows")),
			mcplib.WithNumber("window", mcplib.Description("Recent executions considered")),
			mcplib.WithNumber("min_runs", mcplib.Description("Minimum runs a file needs")),
			mcplib.WithNumber("days", mcplib.Description("Days of history (validator-trend)")),
			mcplib.WithNumber("threshold", mcplib.Description("Rate threshold (flaky, problematic-files)")),
		),
		handleQuery(queries),
	)

	// 2. anvil_runs
	s.AddTool(
		mcplib.NewTool("anvil_runs",
			mcplib.WithDescription("Lists the most recent validation runs, newest first"),
			mcplib.WithNumber("limit", mcplib.Description("Maximum runs (default 20)")),
			mcplib.WithString("branch", mcplib.Description("Only runs on this git branch")),
		),
		handleRuns(queries),
	)

	// 3. anvil_flaky
	s.AddTool(
		mcplib.NewTool("anvil_flaky",
			mcplib.WithDescription("Lists validators, tests and files whose outcome keeps flipping"),
			mcplib.WithNumber("threshold", mcplib.Description("Minimum flakiness score (default 0.1)")),
			mcplib.WithNumber("window", mcplib.Description("Recent executions considered")),
		),
		handleFlaky(queries),
	)

	// 4. anvil_entity
	s.AddTool(
		mcplib.NewTool("anvil_entity",
			mcplib.WithDescription("Returns the statistics and recent history of one validator, test or file"),
			mcplib.WithString("entity_id",
				mcplib.Required(),
				mcplib.Description("Validator name, test id or validator:path"),
			),
			mcplib.WithNumber("limit", mcplib.Description("History entries (default 20)")),
		),
		handleEntity(queries),
	)

	// 5. anvil_rules
	s.AddTool(
		mcplib.NewTool("anvil_rules",
			mcplib.WithDescription("Lists the stored execution rules"),
			mcplib.WithBoolean("enabled_only", mcplib.Description("Only enabled rules")),
		),
		handleRules(rules),
	)

	// 6. anvil_rule_preview
	s.AddTool(
		mcplib.NewTool("anvil_rule_preview",
			mcplib.WithDescription("Shows which entities a stored rule would select right now, without running anything"),
			mcplib.WithString("name",
				mcplib.Required(),
				mcplib.Description("Rule name"),
			),
			mcplib.WithString("candidates", mcplib.Description("Comma-separated entity ids to select from; empty selects from history")),
		),
		handleRulePreview(rules),
	)
}

func handleQuery(queries *application.QueryService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		kind, err := request.RequireString("kind")
		if err != nil {
			return errorResult(err.Error()), nil
		}
		params := application.QueryParams{
			RunID:      request.GetString("run_id", ""),
			EntityID:   request.GetString("entity_id", ""),
			EntityType: domain.EntityType(request.GetString("entity_type", "")),
			Validator:  request.GetString("validator", ""),
			Branch:     request.GetString("branch", ""),
			Limit:      request.GetInt("limit", 0),
			Window:     request.GetInt("window", 0),
			MinRuns:    request.GetInt("min_runs", 0),
			Days:       request.GetInt("days", 0),
			Threshold:  request.GetFloat("threshold", 0),
		}
		return query(ctx, queries, kind, params)
	}
}

func handleRuns(queries *application.QueryService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		return query(ctx, queries, application.QueryRuns, application.QueryParams{
			Limit:  request.GetInt("limit", 0),
			Branch: request.GetString("branch", ""),
		})
	}
}

func handleFlaky(queries *application.QueryService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		return query(ctx, queries, application.QueryFlaky, application.QueryParams{
			Threshold: request.GetFloat("threshold", 0),
			Window:    request.GetInt("window", 0),
		})
	}
}

func handleEntity(queries *application.QueryService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		id, err := request.RequireString("entity_id")
		if err != nil {
			return errorResult(err.Error()), nil
		}
		return query(ctx, queries, application.QueryEntity, application.QueryParams{
			EntityID: id,
			Limit:    request.GetInt("limit", 0),
		})
	}
}

func handleRules(rules *application.RuleService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		rs, err := rules.List(ctx, request.GetBool("enabled_only", false))
		if err != nil {
			return errorResult(fmt.Sprintf("listing rules failed: %v", err)), nil
		}
		if rs == nil {
			rs = []domain.ExecutionRule{}
		}
		return jsonResult(rs)
	}
}

func handleRulePreview(rules *application.RuleService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil {
			return errorResult(err.Error()), nil
		}
		selected, err := rules.Preview(ctx, name, splitAndTrim(request.GetString("candidates", "")))
		if err != nil {
			return errorResult(fmt.Sprintf("preview failed: %v", err)), nil
		}
		if selected == nil {
			selected = []string{}
		}
		return jsonResult(map[string]any{"rule": name, "selected": selected})
	}
}

func query(ctx context.Context, queries *application.QueryService, kind string, p application.QueryParams) (*mcplib.CallToolResult, error) {
	res, err := queries.Query(ctx, kind, p)
	if err != nil {
		return errorResult(fmt.Sprintf("query %s failed: %v", kind, err)), nil
	}
	return jsonResult(res)
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// jsonResult marshals v to JSON and returns it as a text content result.
func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.NewTextContent(string(data))},
	}, nil
}

// errorResult returns a tool result that indicates an error occurred.
func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.NewTextContent(msg)},
		IsError: true,
	}
}
