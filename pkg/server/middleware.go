package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/flowmcp/flowmcp/pkg/core"

	"github.com/gin-gonic/gin"
)

// TokenVerifier resolves a bearer credential to its grant context.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*core.Grant, error)
}

// corsMiddleware is an optimized CORS handler for Gin. It merges allowed
// headers with defaults, sets standard options, and can be further
// customized per route group.
func corsMiddleware(allowedHeaders ...string) gin.HandlerFunc {
	defaultHeaders := []string{"Mcp-Protocol-Version", "Authorization", "Content-Type"}
	headersList := defaultHeaders
	if len(allowedHeaders) > 0 {
		headers := make([]string, 0, len(defaultHeaders)+len(allowedHeaders))
		headers = append(headers, defaultHeaders...)
		for _, h := range allowedHeaders {
			hNorm := strings.TrimSpace(h)
			if hNorm != "" && hNorm != "*" && !containsCI(defaultHeaders, hNorm) {
				headers = append(headers, hNorm)
			}
		}
		headersList = headers
	}

	allowedMethods := []string{"GET", "POST", "DELETE", "OPTIONS"}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Vary", "Origin")
		c.Header("Access-Control-Allow-Methods", strings.Join(allowedMethods, ", "))
		c.Header("Access-Control-Allow-Headers", strings.Join(headersList, ", "))
		c.Header("Access-Control-Max-Age", "86400")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// RequestAuthenticator returns the gin middleware guarding the MCP
// endpoint. It accepts two credential shapes in the Authorization header:
// a bearer token minted by the verifier (the grant is attached to the
// request context) and the static shared secret (no grant attached, scope
// checks downstream are skipped). Everything else is rejected with a
// JSON-RPC-shaped 401 body so MCP clients can parse the failure.
//
// A nil verifier means the authorization layer is disabled; only the
// static secret is accepted then.
func RequestAuthenticator(verifier TokenVerifier, staticSecret, baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		cred, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || cred == "" {
			unauthorized(c, baseURL)
			return
		}

		if verifier != nil {
			if grant, err := verifier.VerifyToken(c.Request.Context(), cred); err == nil {
				ctx := core.WithGrant(c.Request.Context(), grant)
				c.Request = c.Request.WithContext(ctx)
				c.Next()
				return
			}
		}

		if staticSecret != "" &&
			subtle.ConstantTimeCompare([]byte(cred), []byte(staticSecret)) == 1 {
			c.Next()
			return
		}

		unauthorized(c, baseURL)
	}
}

// unauthorized writes the fixed JSON-RPC error body used for every
// authentication failure, with a WWW-Authenticate challenge pointing at the
// protected-resource metadata.
func unauthorized(c *gin.Context, baseURL string) {
	if baseURL != "" {
		c.Header("WWW-Authenticate",
			`Bearer resource_metadata="`+baseURL+`/.well-known/oauth-protected-resource"`)
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"jsonrpc": "2.0",
		"error": gin.H{
			"code":    -32001,
			"message": "Unauthorized",
		},
		"id": nil,
	})
}

// containsCI checks if slice contains item (case-insensitive).
func containsCI(slice []string, item string) bool {
	item = strings.ToLower(item)
	for _, s := range slice {
		if strings.ToLower(s) == item {
			return true
		}
	}
	return false
}
