package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.addTool(s.memoryContextTool())
	s.addTool(s.memoryRememberTool())
	s.addTool(s.memoryListTool())
	s.addTool(s.memoryForgetTool())
}

func (s *Server) memoryContextTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("memory_context",
		mcplib.WithDescription("Load the formatted memory context for a user, ready to inject into a prompt"),
		mcplib.WithString("user_id",
			mcplib.Required(),
			mcplib.Description("The user whose memories to load"),
		),
		mcplib.WithString("agent_id",
			mcplib.Required(),
			mcplib.Description("The agent the memories belong to"),
		),
		mcplib.WithNumber("max_tokens",
			mcplib.Description("Token budget for the context block (default 800)"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleMemoryContext,
	}
}

func (s *Server) memoryRememberTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("memory_remember",
		mcplib.WithDescription("Store something the user explicitly asked to remember"),
		mcplib.WithString("user_id",
			mcplib.Required(),
			mcplib.Description("The user the memory is about"),
		),
		mcplib.WithString("agent_id",
			mcplib.Required(),
			mcplib.Description("The agent storing the memory"),
		),
		mcplib.WithString("content",
			mcplib.Required(),
			mcplib.Description("The user's request, verbatim"),
		),
		mcplib.WithString("session_id",
			mcplib.Description("The conversation the request came from"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleMemoryRemember,
	}
}

func (s *Server) memoryListTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("memory_list",
		mcplib.WithDescription("List the active stored observations for a user"),
		mcplib.WithString("user_id",
			mcplib.Required(),
			mcplib.Description("The user whose observations to list"),
		),
		mcplib.WithString("agent_id",
			mcplib.Required(),
			mcplib.Description("The agent the observations belong to"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleMemoryList,
	}
}

func (s *Server) memoryForgetTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("memory_forget",
		mcplib.WithDescription("Forget a single stored observation by ID"),
		mcplib.WithString("observation_id",
			mcplib.Required(),
			mcplib.Description("The observation to forget"),
		),
		mcplib.WithString("user_id",
			mcplib.Required(),
			mcplib.Description("The user who owns the observation"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleMemoryForget,
	}
}

func (s *Server) handleMemoryContext(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Memory == nil {
		return mcplib.NewToolResultError("memory service not configured"), nil
	}
	args := req.GetArguments()
	userID, _ := args["user_id"].(string)
	agentID, _ := args["agent_id"].(string)
	if userID == "" || agentID == "" {
		return mcplib.NewToolResultError("user_id and agent_id are required"), nil
	}
	maxTokens := 0
	if v, ok := args["max_tokens"].(float64); ok {
		maxTokens = int(v)
	}

	blob := s.deps.Memory.LoadContext(ctx, userID, agentID, maxTokens)
	data, err := json.Marshal(map[string]string{"context": blob})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal context", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleMemoryRemember(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Rememberer == nil {
		return mcplib.NewToolResultError("memory service not configured"), nil
	}
	args := req.GetArguments()
	userID, _ := args["user_id"].(string)
	agentID, _ := args["agent_id"].(string)
	content, _ := args["content"].(string)
	if userID == "" || agentID == "" || content == "" {
		return mcplib.NewToolResultError("user_id, agent_id and content are required"), nil
	}
	sessionID, _ := args["session_id"].(string)

	s.deps.Rememberer.StoreExplicit(userID, agentID, content, sessionID)
	return toolResultJSON(`{"status":"queued"}`), nil
}

func (s *Server) handleMemoryList(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Memory == nil {
		return mcplib.NewToolResultError("memory service not configured"), nil
	}
	args := req.GetArguments()
	userID, _ := args["user_id"].(string)
	agentID, _ := args["agent_id"].(string)
	if userID == "" || agentID == "" {
		return mcplib.NewToolResultError("user_id and agent_id are required"), nil
	}

	observations, err := s.deps.Memory.ListActive(ctx, userID, agentID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list observations", err), nil
	}
	data, err := json.Marshal(observations)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal observations", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleMemoryForget(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Memory == nil {
		return mcplib.NewToolResultError("memory service not configured"), nil
	}
	args := req.GetArguments()
	observationID, _ := args["observation_id"].(string)
	userID, _ := args["user_id"].(string)
	if observationID == "" || userID == "" {
		return mcplib.NewToolResultError("observation_id and user_id are required"), nil
	}

	ok, err := s.deps.Memory.Deactivate(ctx, observationID, userID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to forget observation", err), nil
	}
	if !ok {
		return mcplib.NewToolResultError("observation not found"), nil
	}
	return toolResultJSON(`{"status":"forgotten"}`), nil
}
