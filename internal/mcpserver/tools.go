package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/session"
)

func registerTools(s *server.MCPServer, manager *session.Manager, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List live agent sessions. Optionally filter by project ID."),
			mcp.WithString("project",
				mcp.Description("Project ID to filter by (optional)"),
			),
		),
		listSessionsHandler(manager),
	)

	s.AddTool(
		mcp.NewTool("get_session",
			mcp.WithDescription("Get one session by ID, including status, branch and PR."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID"),
			),
		),
		getSessionHandler(manager),
	)

	s.AddTool(
		mcp.NewTool("spawn_session",
			mcp.WithDescription("Spawn a new agent session for a project, optionally bound to an issue."),
			mcp.WithString("project",
				mcp.Required(),
				mcp.Description("Project ID to spawn the session in"),
			),
			mcp.WithString("issue",
				mcp.Description("Issue ID or URL the session works on (optional)"),
			),
			mcp.WithString("prompt",
				mcp.Description("Initial prompt for the agent (optional)"),
			),
		),
		spawnSessionHandler(manager),
	)

	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Type a message into a session's agent terminal."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID"),
			),
			mcp.WithString("message",
				mcp.Required(),
				mcp.Description("The message text"),
			),
		),
		sendMessageHandler(manager),
	)

	s.AddTool(
		mcp.NewTool("kill_session",
			mcp.WithDescription("Terminate a session: tear down its host, remove its worktree and archive its metadata."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID"),
			),
		),
		killSessionHandler(manager),
	)

	s.AddTool(
		mcp.NewTool("cleanup_sessions",
			mcp.WithDescription("Kill finished sessions (merged PR, or dead host with the agent gone). Set dry_run to preview."),
			mcp.WithString("project",
				mcp.Description("Project ID to clean up; all projects when omitted"),
			),
			mcp.WithBoolean("dry_run",
				mcp.Description("Report what would be killed without killing"),
			),
		),
		cleanupSessionsHandler(manager),
	)

	log.Info("registered MCP tools", zap.Int("count", 6))
}

// sessionSummary is the tool-facing projection of a session.
type sessionSummary struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Status    string `json:"status"`
	Activity  string `json:"activity,omitempty"`
	Branch    string `json:"branch,omitempty"`
	IssueID   string `json:"issueId,omitempty"`
	PRURL     string `json:"prUrl,omitempty"`
}

func summarize(s *session.Session) sessionSummary {
	out := sessionSummary{
		ID:        s.ID,
		ProjectID: s.ProjectID,
		Status:    string(s.Status),
		Activity:  string(s.Activity),
		Branch:    s.Branch,
		IssueID:   s.IssueID,
	}
	if s.PR != nil {
		out.PRURL = s.PR.URL
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(formatted)), nil
}

func listSessionsHandler(manager *session.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessions, err := manager.List(req.GetString("project", ""))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list sessions: %v", err)), nil
		}
		out := make([]sessionSummary, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, summarize(s))
		}
		return jsonResult(out)
	}
}

func getSessionHandler(manager *session.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		s, err := manager.Get(id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to read session: %v", err)), nil
		}
		if s == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Session %s not found", id)), nil
		}
		return jsonResult(summarize(s))
	}
}

func spawnSessionHandler(manager *session.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		project, err := req.RequireString("project")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		s, err := manager.Spawn(ctx, session.SpawnRequest{
			ProjectID: project,
			IssueID:   req.GetString("issue", ""),
			Prompt:    req.GetString("prompt", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to spawn session: %v", err)), nil
		}
		return jsonResult(summarize(s))
	}
}

func sendMessageHandler(manager *session.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := manager.Send(ctx, id, message); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to send message: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Message delivered to session %s", id)), nil
	}
}

func killSessionHandler(manager *session.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := manager.Kill(ctx, id); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to kill session: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Session %s killed", id)), nil
	}
}

func cleanupSessionsHandler(manager *session.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report, err := manager.Cleanup(ctx,
			req.GetString("project", ""),
			session.CleanupOptions{DryRun: req.GetBool("dry_run", false)})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Cleanup failed: %v", err)), nil
		}
		return jsonResult(report)
	}
}
