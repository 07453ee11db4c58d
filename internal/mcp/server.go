package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dzianisv/opencode-plugins-sub001/internal/models"
	"github.com/dzianisv/opencode-plugins-sub001/internal/store"
)

// Server exposes reflection history as MCP tools, so an agent (or the user
// through one) can ask what the judge decided about past sessions.
type Server struct {
	store store.Store
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store) *Server {
	return &Server{store: s}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("ocp", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.historyTool())
	srv.AddTool(s.lastVerdictTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

type cycleOut struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	Outcome    string `json:"outcome"`
	Severity   string `json:"severity"`
	Reason     string `json:"reason"`
	FinishedAt string `json:"finished_at"`
}

func cycleToOut(c *models.ReflectionCycle) cycleOut {
	return cycleOut{
		ID:         c.ID,
		SessionID:  c.SessionID,
		Outcome:    string(c.Outcome),
		Severity:   string(c.Severity),
		Reason:     c.Reason,
		FinishedAt: c.FinishedAt.UTC().Format(time.RFC3339),
	}
}

// ocp_reflection_history
func (s *Server) historyTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ocp_reflection_history",
		mcp.WithDescription("List recorded reflection cycles, newest first. Returns a JSON array with id, session_id, outcome, severity, reason, and finished_at."),
		mcp.WithString("session", mcp.Description("Filter by session id")),
		mcp.WithNumber("limit", mcp.Description("Max cycles to return (default 20)")),
	)
	return tool, s.handleHistory
}

func (s *Server) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := request.GetString("session", "")
	limit := request.GetInt("limit", 20)

	cycles, err := s.store.ListCycles(ctx, sessionID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list cycles: %v", err)), nil
	}

	out := make([]cycleOut, len(cycles))
	for i, c := range cycles {
		out[i] = cycleToOut(c)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal cycles: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ocp_last_verdict
func (s *Server) lastVerdictTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("ocp_last_verdict",
		mcp.WithDescription("Get the most recent reflection verdict for a session, including the raw verdict JSON when available."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id")),
	)
	return tool, s.handleLastVerdict
}

func (s *Server) handleLastVerdict(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session"), nil
	}

	cycle, err := s.store.LastCycle(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load cycle: %v", err)), nil
	}
	if cycle == nil {
		return mcp.NewToolResultText(`{"found": false}`), nil
	}

	out := struct {
		Found bool `json:"found"`
		cycleOut
		Verdict json.RawMessage `json:"verdict,omitempty"`
	}{
		Found:    true,
		cycleOut: cycleToOut(cycle),
	}
	if cycle.VerdictJSON != "" {
		out.Verdict = json.RawMessage(cycle.VerdictJSON)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal verdict: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
