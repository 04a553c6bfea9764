package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/openkraft/anvil/internal/application"
)

// registerResources registers all anvil MCP resources on the given server.
func registerResources(s *server.MCPServer, queries *application.QueryService, rules *application.RuleService) {
	// 1. anvil://runs/latest - report of the newest run
	s.AddResource(
		mcplib.NewResource(
			"anvil://runs/latest",
			"Latest Run",
			mcplib.WithResourceDescription("Full report of the most recent validation run"),
			mcplib.WithMIMEType("application/json"),
		),
		handleLatestRunResource(queries),
	)

	// 2. anvil://rules - stored execution rules
	s.AddResource(
		mcplib.NewResource(
			"anvil://rules",
			"Execution Rules",
			mcplib.WithResourceDescription("Every stored execution rule"),
			mcplib.WithMIMEType("application/json"),
		),
		handleRulesResource(rules),
	)

	// 3. anvil://entities/{id} - per-entity statistics (resource template)
	s.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"anvil://entities/{id}",
			"Entity Statistics",
			mcplib.WithTemplateDescription("Statistics and recent history of a validator, test or file"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		handleEntityResource(queries),
	)
}

func handleLatestRunResource(queries *application.QueryService) server.ResourceHandlerFunc {
	return func(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
		res, err := queries.Query(ctx, application.QueryRun, application.QueryParams{})
		if err != nil {
			return nil, fmt.Errorf("loading latest run: %w", err)
		}
		return jsonContents(request.Params.URI, res.Report)
	}
}

func handleRulesResource(rules *application.RuleService) server.ResourceHandlerFunc {
	return func(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
		rs, err := rules.List(ctx, false)
		if err != nil {
			return nil, err
		}
		return jsonContents(request.Params.URI, rs)
	}
}

func handleEntityResource(queries *application.QueryService) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
		id := templateArg(request.Params.Arguments, "id")
		if id == "" {
			return nil, fmt.Errorf("entity id is required")
		}

		res, err := queries.Query(ctx, application.QueryEntity, application.QueryParams{EntityID: id})
		if err != nil {
			return nil, err
		}
		return jsonContents(request.Params.URI, res)
	}
}

// templateArg reads a variable populated by URI template matching, which
// arrives as a string or a single-element list depending on the expansion.
func templateArg(args map[string]any, name string) string {
	switch v := args[name].(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func jsonContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
