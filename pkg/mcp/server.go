// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes aegis identity, trust, and spawn operations as MCP
// tools, and provides a client wrapper for programmatic access to a
// running aegis MCP server.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/aegis/pkg/runtime"
)

// Server wraps the mcp-go server around an aegis runtime.
type Server struct {
	rt        *runtime.Runtime
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server exposing the aegis tool surface.
func NewServer(name, version string, rt *runtime.Runtime) *Server {
	s := &Server{
		rt:        rt,
		mcpServer: server.NewMCPServer(name, version),
	}
	s.registerTools()
	return s
}

// MCPServer exposes the underlying mcp-go server, for embedding into
// custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves MCP over stdin/stdout and blocks until EOF.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over HTTP with server-sent events on addr.
func (s *Server) ServeSSE(addr string) error {
	return server.NewSSEServer(s.mcpServer).Start(addr)
}
