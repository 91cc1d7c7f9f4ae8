package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/interviewd/internal/session"
	"github.com/kalambet/interviewd/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. Every tool acts on one owner's session.
type MCPDeps struct {
	Session *session.Session
}

// NewMCPServer creates an MCP server with the interview tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"interviewd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("interviewd: create interviews and read or append to their transcripts."),
		server.WithRecovery(),
	)

	titles := make([]string, 0, len(storage.Titles()))
	for _, t := range storage.Titles() {
		titles = append(titles, string(t))
	}
	skills := make([]string, 0, len(storage.Skills()))
	for _, sk := range storage.Skills() {
		skills = append(skills, string(sk))
	}

	s.AddTool(
		mcp.NewTool("list_interviews",
			mcp.WithDescription("List all interviews, newest first, without transcripts."),
		),
		mcpListInterviews(deps),
	)

	s.AddTool(
		mcp.NewTool("create_interview",
			mcp.WithDescription("Create a new interview and return its id."),
			mcp.WithString("title", mcp.Description("Interview title"), mcp.Required(), mcp.Enum(titles...)),
			mcp.WithArray("skills", mcp.Description("Skills covered by the interview"), mcp.Required(),
				mcp.Items(map[string]any{"type": "string", "enum": skills})),
		),
		mcpCreateInterview(deps),
	)

	s.AddTool(
		mcp.NewTool("get_interview",
			mcp.WithDescription("Return an interview with its full transcript."),
			mcp.WithString("interview_id", mcp.Description("Interview id"), mcp.Required()),
		),
		mcpGetInterview(deps),
	)

	s.AddTool(
		mcp.NewTool("add_message",
			mcp.WithDescription("Append a message to an interview transcript and broadcast it to live viewers."),
			mcp.WithString("interview_id", mcp.Description("Interview id"), mcp.Required()),
			mcp.WithString("role", mcp.Description("Message author"), mcp.Required(), mcp.Enum("user", "assistant", "system")),
			mcp.WithString("content", mcp.Description("Message text"), mcp.Required()),
			mcp.WithString("message_id", mcp.Description("Optional caller-chosen message id; generated when omitted")),
		),
		mcpAddMessage(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"interview://list",
			"Interviews",
			mcp.WithResourceDescription("All interviews as JSON, newest first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceInterviews(deps),
	)

	return s
}

func mcpListInterviews(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := deps.Session.ListInterviews(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing interviews: %v", err)), nil
		}
		b, err := json.Marshal(list)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal interviews: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCreateInterview(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		raw := req.GetStringSlice("skills", nil)
		if len(raw) == 0 {
			return mcpError("skills is required"), nil
		}
		skills := make([]storage.Skill, len(raw))
		for i, s := range raw {
			skills[i] = storage.Skill(s)
		}

		id, err := deps.Session.CreateInterview(ctx, storage.Title(title), skills)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Created interview %s", id)), nil
	}
}

func mcpGetInterview(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("interview_id")
		if err != nil {
			return mcpError("interview_id is required"), nil
		}
		detail, err := deps.Session.GetInterview(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("interview %s not found", id)), nil
		}
		if err != nil {
			return mcpError(err.Error()), nil
		}
		b, err := json.Marshal(detail)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal interview: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("interview_id")
		if err != nil {
			return mcpError("interview_id is required"), nil
		}
		role, err := req.RequireString("role")
		if err != nil {
			return mcpError("role is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		messageID := req.GetString("message_id", "")
		if messageID == "" {
			messageID = uuid.New().String()
		}

		msg, err := deps.Session.AppendMessage(ctx, storage.NewMessage{
			InterviewID: id,
			MessageID:   messageID,
			Role:        storage.Role(role),
			Content:     content,
		})
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("interview %s not found", id)), nil
		}
		if err != nil {
			return mcpError(err.Error()), nil
		}
		b, err := json.Marshal(msg)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal message: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceInterviews(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		list, err := deps.Session.ListInterviews(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list interviews: %w", err)
		}
		b, err := json.Marshal(list)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interviews: %w", err)
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
