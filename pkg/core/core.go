// Package core holds the domain types shared across the OAuth layer, the
// stores, and the MCP tool handlers, together with the context plumbing that
// carries per-request state between them.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
)

// ErrScopeDenied is returned when a caller's grant lacks a required scope.
var ErrScopeDenied = errors.New("insufficient scope")

// AuthKey is a custom context key type for storing the raw Authorization
// header value in context.
type AuthKey struct{}

// GrantKey is a custom context key type for storing the verified Grant in
// context. No grant is attached for callers authenticated by the static
// shared secret.
type GrantKey struct{}

// RequestIDKey is a custom context key type for storing the request ID in context.
type RequestIDKey struct{}

// WithRequestID returns a new context with a generated request ID set.
func WithRequestID(ctx context.Context) context.Context {
	reqID := uuid.New().String()
	return context.WithValue(ctx, RequestIDKey{}, reqID)
}

// withAuthKey returns a new context with the provided auth header value set.
func withAuthKey(ctx context.Context, auth string) context.Context {
	return context.WithValue(ctx, AuthKey{}, auth)
}

// AuthFromRequest extracts the Authorization header from the HTTP request
// and stores it in the context. Used for HTTP transport.
func AuthFromRequest(ctx context.Context, r *http.Request) context.Context {
	return withAuthKey(ctx, r.Header.Get("Authorization"))
}

// AuthFromEnv extracts the API_KEY environment variable and stores it in the
// context. Used for stdio transport.
func AuthFromEnv(ctx context.Context) context.Context {
	return withAuthKey(ctx, os.Getenv("API_KEY"))
}

// TokenFromContext retrieves the auth header value from the context.
// Returns the value if present, or an error if missing.
func TokenFromContext(ctx context.Context) (string, error) {
	auth, ok := ctx.Value(AuthKey{}).(string)
	if !ok {
		return "", fmt.Errorf("missing auth")
	}
	return auth, nil
}

// WithGrant returns a new context carrying the verified grant.
func WithGrant(ctx context.Context, grant *Grant) context.Context {
	return context.WithValue(ctx, GrantKey{}, grant)
}

// GrantFromContext retrieves the verified grant from the context. The second
// return value is false when the caller authenticated without OAuth (static
// secret) or the context carries no grant at all.
func GrantFromContext(ctx context.Context) (*Grant, bool) {
	grant, ok := ctx.Value(GrantKey{}).(*Grant)
	return grant, ok && grant != nil
}

// RequireScope checks the grant carried by ctx for the given scope. Callers
// without a grant (static-secret authentication) pass unconditionally; their
// access was already settled at the transport layer.
func RequireScope(ctx context.Context, scope string) error {
	grant, ok := GrantFromContext(ctx)
	if !ok {
		return nil
	}
	if !grant.HasScope(scope) {
		return fmt.Errorf("%w: %s", ErrScopeDenied, scope)
	}
	return nil
}

// LoggerFromCtx returns a slog.Logger with a request_id field if present in
// context. If no request ID is found, it returns the default logger.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	reqID, _ := ctx.Value(RequestIDKey{}).(string)
	if reqID != "" {
		return slog.Default().With("request_id", reqID)
	}
	return slog.Default()
}
