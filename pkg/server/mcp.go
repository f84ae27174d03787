package server

import (
	"context"
	"net/http"
	"time"

	"github.com/flowmcp/flowmcp/pkg/core"
	"github.com/flowmcp/flowmcp/pkg/operation"
	"github.com/flowmcp/flowmcp/pkg/operation/workflow"

	"github.com/mark3labs/mcp-go/server"
)

// serverName and serverVersion identify this server in the MCP initialize
// handshake.
const (
	serverName    = "flowmcp"
	serverVersion = "1.0.0"
)

// MCPServer wraps the underlying MCP server instance.
type MCPServer struct {
	server *server.MCPServer
}

// NewMCPServer creates and configures a new MCPServer instance with the
// workflow tools backed by the given API client and the
// grant-introspection tools.
func NewMCPServer(client workflow.Client) *MCPServer {
	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(MCPToolHandlerMiddleware()),
	)

	operation.RegisterWorkflowTools(mcpServer, client)
	operation.RegisterAuthTools(mcpServer)

	return &MCPServer{
		server: mcpServer,
	}
}

// ServeHTTP returns a streamable HTTP server that injects the auth header,
// the verified grant left on the request context by the authenticator
// middleware, and a request ID into the tool context.
func (s *MCPServer) ServeHTTP() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.server,
		server.WithHeartbeatInterval(30*time.Second),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			ctx = core.AuthFromRequest(ctx, r)
			if grant, ok := core.GrantFromContext(r.Context()); ok {
				ctx = core.WithGrant(ctx, grant)
			}
			return core.WithRequestID(ctx)
		}),
	)
}

// ServeStdio starts the MCP server using stdio transport, injecting the
// auth token from the environment into the context. Stdio callers bypass
// the HTTP authenticator, so no grant is ever attached.
func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.server, server.WithStdioContextFunc(func(ctx context.Context) context.Context {
		ctx = core.AuthFromEnv(ctx)
		return core.WithRequestID(ctx)
	}))
}
