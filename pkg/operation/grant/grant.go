// Package grant provides an MCP tool for inspecting the caller's
// authorization context.
package grant

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/flowmcp/flowmcp/pkg/core"
	"github.com/mark3labs/mcp-go/mcp"
)

// ShowGrantTool defines the MCP tool for displaying the caller's grant.
var ShowGrantTool = mcp.NewTool("show_grant",
	mcp.WithDescription("Show the authorization context of the current caller: client id, granted scopes, and token expiry. Callers authenticated by the shared secret see a masked credential instead."),
)

type grantView struct {
	AuthType  string   `json:"auth_type"`
	ClientID  string   `json:"client_id,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	Resource  string   `json:"resource,omitempty"`
	ExpiresAt string   `json:"expires_at,omitempty"`
	Token     string   `json:"token,omitempty"`
}

// HandleShowGrantTool reports the grant attached to the request context, or
// a masked credential for static-secret callers.
func HandleShowGrantTool(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger := core.LoggerFromCtx(ctx)
	logger.Info("Handling show_grant tool")

	view := grantView{}
	if g, ok := core.GrantFromContext(ctx); ok {
		view.AuthType = "oauth"
		view.ClientID = g.ClientID
		view.Scopes = g.Scopes
		view.Resource = g.Resource
		view.ExpiresAt = time.Unix(g.ExpiresAt, 0).UTC().Format(time.RFC3339)
	} else {
		view.AuthType = "static"
		if token, err := core.TokenFromContext(ctx); err == nil {
			view.Token = maskCredential(token)
		}
	}

	data, err := json.Marshal(view)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

// maskCredential shows only the first 6 and last 2 characters of the raw
// credential, after stripping a Bearer prefix.
func maskCredential(token string) string {
	token = strings.TrimPrefix(token, "Bearer ")
	switch {
	case len(token) > 8:
		return token[:6] + "****" + token[len(token)-2:]
	case len(token) > 0:
		return "****"
	default:
		return ""
	}
}
