package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/indranilweb/ai-document-assistant/internal/conversation"
	"github.com/indranilweb/ai-document-assistant/internal/session"
)

// SessionChatter abstracts the session manager for the MCP layer.
type SessionChatter interface {
	Chat(ctx context.Context, id, question string) (string, []conversation.Turn, error)
	Get(id string) (session.Metadata, session.HydrationState, error)
	List() []session.Metadata
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Sessions     SessionChatter
	Interactions InteractionLister // optional; enables the interactions resource
}

// NewMCPServer creates an MCP server with the document assistant tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"docassist",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("docassist — question answering over uploaded document sessions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_document",
			mcp.WithDescription("Ask a question against an existing document session. The answer is grounded in the session's documents and the conversation so far."),
			mcp.WithString("session_id", mcp.Description("ID of the document session"), mcp.Required()),
			mcp.WithString("question", mcp.Description("Question to ask"), mcp.Required()),
		),
		mcpAskDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List all document sessions with their source documents, most recent first."),
		),
		mcpListSessions(deps),
	)

	s.AddTool(
		mcp.NewTool("get_session",
			mcp.WithDescription("Get a document session's documents, full conversation transcript, and hydration state."),
			mcp.WithString("session_id", mcp.Description("ID of the document session"), mcp.Required()),
		),
		mcpGetSession(deps),
	)

	if deps.Interactions != nil {
		s.AddResource(
			mcp.NewResource(
				"assistant://interactions",
				"Recent Interactions",
				mcp.WithResourceDescription("Last 10 question/answer interactions across all sessions"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceInteractions(deps),
		)
	}

	return s
}

func mcpAskDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		answer, _, err := deps.Sessions.Chat(ctx, id, question)
		if err != nil {
			return mcpError(fmt.Sprintf("chat failed: %v", err)), nil
		}

		return mcpText(answer), nil
	}
}

func mcpListSessions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessions := deps.Sessions.List()

		type sessionSummary struct {
			SessionID string   `json:"session_id"`
			Documents []string `json:"documents"`
			Turns     int      `json:"turns"`
			UpdatedAt string   `json:"updated_at"`
		}

		summaries := make([]sessionSummary, len(sessions))
		for i, meta := range sessions {
			summaries[i] = sessionSummary{
				SessionID: meta.ID,
				Documents: meta.Documents,
				Turns:     len(meta.Transcript),
				UpdatedAt: meta.UpdatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpGetSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		meta, state, err := deps.Sessions.Get(id)
		if err != nil {
			return mcpError(fmt.Sprintf("get session failed: %v", err)), nil
		}

		b, err := json.Marshal(toView(meta, state))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal session: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpResourceInteractions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.Interactions.ListInteractions(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			SessionID string `json:"session_id"`
			CreatedAt string `json:"created_at"`
			Question  string `json:"question"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			question := ix.Question
			if utf8.RuneCountInString(question) > 200 {
				runes := []rune(question)
				question = string(runes[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				SessionID: ix.SessionID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				Question:  question,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
