package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/remembot/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. The tools operate on the
// configured local user, mirroring the REST routes.
type MCPDeps struct {
	Store     *storage.Store
	Memories  MemoryAPI
	LocalUser string
}

// NewMCPServer creates an MCP server with the memory and reminder tools
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"remembot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("remembot is a personal memory assistant: store facts, recall them semantically, and inspect pending reminders."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("remember",
			mcp.WithDescription("Store a piece of information as a durable memory for later recall."),
			mcp.WithString("content", mcp.Description("The text to remember"), mcp.Required()),
			mcp.WithArray("tags", mcp.Description("Optional tags for categorization")),
		),
		mcpRemember(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Semantically search stored memories and return matching entries."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("list_reminders",
			mcp.WithDescription("List pending reminders, soonest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpListReminders(deps),
	)

	return s
}

func mcpRemember(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		tags := req.GetStringSlice("tags", nil)

		user, err := deps.Store.GetOrCreateUser(deps.LocalUser)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to resolve user: %v", err)), nil
		}

		interaction, err := deps.Store.CreateInteraction(storage.Interaction{
			ID:               uuid.New().String(),
			UserID:           user.ID,
			ChannelMessageID: "mcp-" + uuid.New().String(),
			Type:             storage.InteractionText,
			Content:          content,
			CreatedAt:        time.Now().UTC(),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record interaction: %v", err)), nil
		}

		m, err := deps.Memories.Create(ctx, user, interaction.ID, content, "text", tags)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store memory: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored memory %s", m.ID)), nil
	}
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		user, err := deps.Store.GetOrCreateUser(deps.LocalUser)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to resolve user: %v", err)), nil
		}

		results, err := deps.Memories.Search(ctx, user, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type hit struct {
			ID        string   `json:"id"`
			Content   string   `json:"content"`
			Type      string   `json:"type"`
			Tags      []string `json:"tags,omitempty"`
			CreatedAt string   `json:"created_at"`
		}
		out := make([]hit, len(results))
		for i, m := range results {
			out[i] = hit{
				ID:        m.LocalID,
				Content:   m.Content,
				Type:      m.Type,
				Tags:      m.Tags,
				CreatedAt: m.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListReminders(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}

		user, err := deps.Store.GetOrCreateUser(deps.LocalUser)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to resolve user: %v", err)), nil
		}

		reminders, err := deps.Store.PendingReminders(user.ID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list reminders: %v", err)), nil
		}
		if len(reminders) == 0 {
			return mcpText("[]"), nil
		}

		type pending struct {
			ID          string `json:"id"`
			Message     string `json:"message"`
			ScheduledAt string `json:"scheduled_at"`
			Timezone    string `json:"timezone"`
			Recurrence  string `json:"recurrence,omitempty"`
		}
		out := make([]pending, len(reminders))
		for i, r := range reminders {
			out[i] = pending{
				ID:          r.ID,
				Message:     r.Message,
				ScheduledAt: r.ScheduledAt.Format(time.RFC3339),
				Timezone:    r.Timezone,
				Recurrence:  r.Recurrence,
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal reminders: %v", err)), nil
		}
		return mcpText(string(b)), nil
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
