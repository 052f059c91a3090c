// Package mcp exposes the memory service to AI agents over the Model
// Context Protocol, so any MCP-capable agent can load its user context
// and store explicit memories without speaking the admin HTTP API.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/engramhq/engram/internal/domain/memory"
)

// ContextReader serves assembled memory context and raw observations.
type ContextReader interface {
	LoadContext(ctx context.Context, userID, agentID string, maxTokens int) string
	ListActive(ctx context.Context, userID, agentID string) ([]memory.Observation, error)
	Deactivate(ctx context.Context, observationID, userID string) (bool, error)
}

// Rememberer queues explicit memory requests.
type Rememberer interface {
	StoreExplicit(userID, agentID, content, sessionID string)
}

// ServerConfig holds MCP server settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string // plaintext key for SSE transport auth; empty disables auth
}

// ServerDeps holds the service dependencies the tools call into.
type ServerDeps struct {
	Memory     ContextReader
	Rememberer Rememberer
}

// Server wraps an MCP server exposing the memory tools over SSE.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	tools     map[string]mcpserver.ServerTool
	httpSrv   *http.Server
}

// NewServer creates an MCP server with all memory tools registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version),
		tools:     make(map[string]mcpserver.ServerTool),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Tools returns the registered tools by name.
func (s *Server) Tools() map[string]mcpserver.ServerTool {
	return s.tools
}

// Start serves the MCP SSE transport in a background goroutine.
func (s *Server) Start() error {
	sse := mcpserver.NewSSEServer(s.mcpServer)

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           AuthMiddleware(s.cfg.APIKey, sse),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("mcp server listening", "addr", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the MCP transport.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// addTool registers the tool on the MCP server and remembers it by name.
func (s *Server) addTool(t mcpserver.ServerTool) {
	s.tools[t.Tool.Name] = t
	s.mcpServer.AddTools(t)
}

// toolResultJSON wraps a JSON string as a text tool result.
func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
