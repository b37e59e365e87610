package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/semnotes/internal/notes"
)

const (
	mcpMaxLimit      = 50
	recentNotesCount = 10
	recentPreview    = 200
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Notes          NoteService
	SearchDefaults notes.SearchParams
}

// NewMCPServer creates an MCP server with the semnotes tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.SearchDefaults.Limit <= 0 {
		deps.SearchDefaults = notes.DefaultSearchParams("")
	}

	s := server.NewMCPServer(
		"semnotes",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("semnotes: personal notes with semantic search and question answering."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("add_note",
			mcp.WithDescription("Store a note. It becomes searchable immediately."),
			mcp.WithString("title", mcp.Description("Note title")),
			mcp.WithString("description", mcp.Description("Note body"), mcp.Required()),
		),
		mcpAddNote(deps),
	)

	s.AddTool(
		mcp.NewTool("search_notes",
			mcp.WithDescription("Semantically search the notes and return the best matches with similarity scores."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
			mcp.WithNumber("threshold", mcp.Description("Minimum similarity between 0 and 1 (default 0.3)")),
		),
		mcpSearchNotes(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_notes",
			mcp.WithDescription("Answer a question from the notes. Pass session_id from a previous answer to ask a follow-up."),
			mcp.WithString("question", mcp.Description("The question"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Conversation to continue")),
		),
		mcpAskNotes(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"notes://recent",
			"Recent Notes",
			mcp.WithResourceDescription("The 10 most recently created notes"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpAddNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		desc, err := req.RequireString("description")
		if err != nil {
			return mcpError("description is required"), nil
		}
		title := req.GetString("title", "")

		n, err := deps.Notes.CreateNote(ctx, title, desc)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored note %s", n.ID)), nil
	}
}

func mcpSearchNotes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		p := deps.SearchDefaults
		p.Query = query
		p.Limit = req.GetInt("limit", p.Limit)
		if p.Limit <= 0 {
			p.Limit = deps.SearchDefaults.Limit
		}
		if p.Limit > mcpMaxLimit {
			p.Limit = mcpMaxLimit
		}
		p.Threshold = req.GetFloat("threshold", p.Threshold)

		results, err := deps.Notes.SearchSemantic(ctx, p)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAskNotes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		resp, err := deps.Notes.Ask(ctx, question, req.GetString("session_id", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		type askResult struct {
			Answer    string   `json:"answer"`
			SessionID string   `json:"session_id"`
			Sources   []string `json:"sources"`
		}
		out := askResult{Answer: resp.Answer, SessionID: resp.SessionID, Sources: make([]string, len(resp.Sources))}
		for i, s := range resp.Sources {
			out.Sources[i] = s.Metadata.Title
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		all, err := deps.Notes.ListNotes(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list notes: %w", err)
		}

		type noteSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Title     string `json:"title"`
			Preview   string `json:"preview"`
		}

		// ListNotes is oldest first.
		summaries := make([]noteSummary, 0, recentNotesCount)
		for i := len(all) - 1; i >= 0 && len(summaries) < recentNotesCount; i-- {
			n := all[i]
			preview := n.Description
			if utf8.RuneCountInString(preview) > recentPreview {
				runes := []rune(preview)
				preview = string(runes[:recentPreview]) + "..."
			}
			summaries = append(summaries, noteSummary{
				ID:        n.ID,
				CreatedAt: n.CreatedAt.Format(time.RFC3339),
				Title:     n.Title,
				Preview:   preview,
			})
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal notes: %w", err)
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
