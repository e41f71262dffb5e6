package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"agentopt://agents",
			"Agents",
			mcplib.WithResourceDescription("Registered agents with their activation state"),
			mcplib.WithMIMEType("application/json"),
		),
		func(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
			return jsonResource(req.Params.URI, s.orch.Agents())
		},
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"agentopt://metrics",
			"Metrics",
			mcplib.WithResourceDescription("Live per-agent metrics and cycle statistics"),
			mcplib.WithMIMEType("application/json"),
		),
		func(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
			return jsonResource(req.Params.URI, s.orch.GetComprehensiveMetrics())
		},
	)
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
