// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes document identity tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/docbroker/docbroker/internal/models"
	"github.com/docbroker/docbroker/internal/registry"
)

// Server wraps the MCP server with the registry tools.
type Server struct {
	mcp *server.MCPServer
	reg *registry.Registry
}

// New creates an MCP server backed by reg.
func New(reg *registry.Registry, version string) *Server {
	s := &Server{reg: reg}

	s.mcp = server.NewMCPServer(
		"DocBroker",
		version,
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("normalize_url",
		mcp.WithDescription("Canonicalize a document URL the way the broker does before deriving its key: "+
			"whitespace removed, trailing slashes stripped, lower-cased."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Document URL")),
	), s.normalizeURL)

	s.mcp.AddTool(mcp.NewTool("document_key",
		mcp.WithDescription("Derive the stable document key for a URL without registering it."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Document URL")),
	), s.documentKey)

	s.mcp.AddTool(mcp.NewTool("register_document",
		mcp.WithDescription("Register a document URL and return its record, creating it on first reference."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Document URL")),
		mcp.WithString("title", mcp.Description("Optional display title")),
		mcp.WithString("originalName", mcp.Description("Optional original file name")),
	), s.registerDocument)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) normalizeURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n := registry.Normalize(raw)
	if n == "" {
		return mcp.NewToolResultError("document URL is required"), nil
	}
	return mcp.NewToolResultText(n), nil
}

func (s *Server) documentKey(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	key := s.reg.DeriveKey(raw)
	if key == "" {
		return mcp.NewToolResultError("document URL is required"), nil
	}
	return mcp.NewToolResultText(key), nil
}

func (s *Server) registerDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.reg.GetOrCreate(ctx, raw, models.MetadataPatch{
		Title:        req.GetString("title", ""),
		OriginalName: req.GetString("originalName", ""),
		RequestedBy:  "mcp",
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("register: %v", err)), nil
	}
	if rec == nil {
		return mcp.NewToolResultError("document URL is required"), nil
	}
	out, _ := json.MarshalIndent(rec, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
