package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/agentopt/internal/domain/task"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		mcpserver.ServerTool{
			Tool: mcplib.NewTool("create_session",
				mcplib.WithDescription("Open a session. Tasks are always submitted within a session."),
				mcplib.WithString("mode",
					mcplib.Description("Progress mode"),
					mcplib.Enum("auto", "interactive", "hybrid"),
				),
			),
			Handler: s.handleCreateSession,
		},
		mcpserver.ServerTool{
			Tool: mcplib.NewTool("end_session",
				mcplib.WithDescription("Close a session"),
				mcplib.WithString("session_id", mcplib.Required(), mcplib.Description("The session to close")),
			),
			Handler: s.handleEndSession,
		},
		mcpserver.ServerTool{
			Tool: mcplib.NewTool("execute_task",
				mcplib.WithDescription("Run a task in a session and wait for its result"),
				mcplib.WithString("session_id", mcplib.Required(), mcplib.Description("The session to run in")),
				mcplib.WithString("title", mcplib.Description("Short task title")),
				mcplib.WithString("description", mcplib.Description("What the agent should do")),
				mcplib.WithBoolean("use_optimization", mcplib.Description("Route to the agent learned to be best for this kind of task")),
				mcplib.WithObject("requirements", mcplib.Description("Free-form task requirements")),
			),
			Handler: s.handleExecuteTask,
		},
		mcpserver.ServerTool{
			Tool: mcplib.NewTool("get_related_context",
				mcplib.WithDescription("Find context entries relevant to a query, preferring the given session"),
				mcplib.WithString("session_id", mcplib.Required(), mcplib.Description("The session to search first")),
				mcplib.WithString("query", mcplib.Description("Words to match")),
				mcplib.WithNumber("limit", mcplib.Description("Maximum number of entries")),
			),
			Handler: s.handleGetRelatedContext,
		},
		mcpserver.ServerTool{
			Tool:    mcplib.NewTool("get_system_status", mcplib.WithDescription("Evaluate system health now")),
			Handler: s.handleGetSystemStatus,
		},
		mcpserver.ServerTool{
			Tool:    mcplib.NewTool("force_optimization", mcplib.WithDescription("Run an optimizer cycle now and return its result")),
			Handler: s.handleForceOptimization,
		},
		mcpserver.ServerTool{
			Tool:    mcplib.NewTool("analyze_patterns", mcplib.WithDescription("Rebuild the learned agent rankings now")),
			Handler: s.handleAnalyzePatterns,
		},
		mcpserver.ServerTool{
			Tool:    mcplib.NewTool("get_active_issues", mcplib.WithDescription("List the open health issues")),
			Handler: s.handleGetActiveIssues,
		},
		mcpserver.ServerTool{
			Tool: mcplib.NewTool("manual_recovery",
				mcplib.WithDescription("Apply a recovery action to an open health issue"),
				mcplib.WithString("issue_id", mcplib.Required(), mcplib.Description("The issue to recover")),
				mcplib.WithString("action", mcplib.Required(),
					mcplib.Description("Recovery action"),
					mcplib.Enum("force_optimization", "deactivate_agent", "reactivate_agent"),
				),
			),
			Handler: s.handleManualRecovery,
		},
		mcpserver.ServerTool{
			Tool:    mcplib.NewTool("get_report", mcplib.WithDescription("Return the comprehensive system report")),
			Handler: s.handleGetReport,
		},
	)
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func jsonResult(v any, what string) *mcplib.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal "+what, err)
	}
	return toolResultJSON(data)
}

func (s *Server) handleCreateSession(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	mode := stringArg(req.GetArguments(), "mode")
	if mode == "" {
		mode = "auto"
	}
	id, err := s.orch.CreateSession(ctx, mode)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to create session", err), nil
	}
	return jsonResult(map[string]string{"session_id": id, "mode": mode}, "session"), nil
}

func (s *Server) handleEndSession(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	id := stringArg(req.GetArguments(), "session_id")
	if id == "" {
		return mcplib.NewToolResultError("session_id is required"), nil
	}
	if err := s.orch.EndSession(ctx, id); err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to end session", err), nil
	}
	return mcplib.NewToolResultText("session closed"), nil
}

func (s *Server) handleExecuteTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	id := stringArg(args, "session_id")
	if id == "" {
		return mcplib.NewToolResultError("session_id is required"), nil
	}
	tr := task.Request{
		Title:       stringArg(args, "title"),
		Description: stringArg(args, "description"),
	}
	if tr.Title == "" && tr.Description == "" {
		return mcplib.NewToolResultError("title or description is required"), nil
	}
	tr.UseOptimization, _ = args["use_optimization"].(bool)
	tr.Requirements, _ = args["requirements"].(map[string]any)

	t, err := s.orch.ExecuteTask(ctx, id, tr)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to execute task", err), nil
	}
	res := jsonResult(t, "task")
	res.IsError = t.Status == task.StatusFailed
	return res, nil
}

func (s *Server) handleGetRelatedContext(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	id := stringArg(args, "session_id")
	if id == "" {
		return mcplib.NewToolResultError("session_id is required"), nil
	}
	limit := 0
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}
	entries, err := s.orch.GetRelatedContext(ctx, id, stringArg(args, "query"), limit)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to read context", err), nil
	}
	return jsonResult(entries, "context"), nil
}

func (s *Server) handleGetSystemStatus(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return jsonResult(s.orch.GetSystemStatus(ctx), "status"), nil
}

func (s *Server) handleForceOptimization(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if _, err := s.orch.ForceOptimization(ctx); err != nil {
		return mcplib.NewToolResultErrorFromErr("optimization failed", err), nil
	}
	res, _ := s.orch.Optimizer().LastResult()
	return jsonResult(res, "optimization result"), nil
}

func (s *Server) handleAnalyzePatterns(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if err := s.orch.AnalyzePatterns(ctx); err != nil {
		return mcplib.NewToolResultErrorFromErr("analysis failed", err), nil
	}
	return jsonResult(s.orch.Learning().Insights(), "insights"), nil
}

func (s *Server) handleGetActiveIssues(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return jsonResult(s.orch.ActiveIssues(), "issues"), nil
}

func (s *Server) handleManualRecovery(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	id, action := stringArg(args, "issue_id"), stringArg(args, "action")
	if id == "" || action == "" {
		return mcplib.NewToolResultError("issue_id and action are required"), nil
	}
	a, err := s.orch.ManualRecovery(ctx, id, action)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("recovery failed", err), nil
	}
	return jsonResult(a, "recovery action"), nil
}

func (s *Server) handleGetReport(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return jsonResult(s.orch.GetComprehensiveReport(ctx), "report"), nil
}
