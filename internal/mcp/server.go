// Package mcp exposes the gateway to MCP clients. Agents can discover the
// published endpoints, read dataset schemas and query endpoints with an API
// key, exactly as an HTTP caller would.
package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/datatap/datatap/internal/gateway"
	"github.com/datatap/datatap/internal/model"
)

// Catalog is the read-only view of the config store the MCP server needs.
// *config.Store implements it.
type Catalog interface {
	ListEndpoints(ctx context.Context, activeOnly bool) ([]model.Endpoint, error)
	GetEndpoint(ctx context.Context, id int64) (*model.Endpoint, error)
	ListDatasets(ctx context.Context) ([]model.Dataset, error)
	GetDatasetMeta(ctx context.Context, id int64) (*model.Dataset, error)
}

// Gateway serves generated endpoints. *gateway.Gateway implements it.
type Gateway interface {
	Serve(ctx context.Context, req gateway.Request) gateway.Response
	Prefix() string
}

// MCPServer wraps the mcp-go server with the datatap tools and resources.
type MCPServer struct {
	catalog Catalog
	gw      Gateway
	apiKey  string
	logger  *slog.Logger
	server  *server.MCPServer
}

// NewMCPServer creates an MCPServer. apiKey is used by query_endpoint when
// the caller does not pass one; it may be empty.
func NewMCPServer(catalog Catalog, gw Gateway, apiKey string, version string, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MCPServer{
		catalog: catalog,
		gw:      gw,
		apiKey:  apiKey,
		logger:  logger,
	}

	mcpServer := server.NewMCPServer(
		"datatap",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout, for clients that launch the
// server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP serves MCP in Streamable HTTP mode on addr (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:   boolPtr(true),
		IdempotentHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
