package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/keymeterhq/keymeter/internal/service"
	"github.com/keymeterhq/keymeter/internal/store"
)

// MCPServer wraps the mcp-go server with key-management tool registrations.
// All tools are read-only: agents can inspect keys and usage, never issue or
// deactivate them.
type MCPServer struct {
	store    *store.Store
	usageSvc *service.UsageService
	logger   *slog.Logger
	server   *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all tools. The returned
// server is ready to serve over stdio or HTTP.
func NewMCPServer(st *store.Store, usageSvc *service.UsageService, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		store:    st,
		usageSvc: usageSvc,
		logger:   logger,
	}

	mcpServer := server.NewMCPServer(
		"Keymeter",
		"0.1.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, for MCP clients that
// launch the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
