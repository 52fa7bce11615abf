// Package mcp exposes the maintenance review workflow to agent clients over
// the Model Context Protocol.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const serverName = "skein-engine"

const serverInstructions = `Schema-drift maintenance for API integrations.
Use the proposal tools to review inferred schema changes: list or inspect
pending proposals, approve or reject them, revert an approved one, and apply
description-suggestion decisions. Every tool requires a tenant_id.`

// Server bundles the MCP server with the logger the tool handlers share.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates the maintenance MCP server.
func NewServer(version string, logger *zap.Logger) *Server {
	return &Server{
		mcp: server.NewMCPServer(
			serverName,
			version,
			server.WithToolCapabilities(true),
			server.WithInstructions(serverInstructions),
		),
		logger: logger,
	}
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// NewStreamableHTTPServer wraps the server in its HTTP transport. Stateless:
// every proposal operation carries its full context, so clients need no
// session affinity.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}
