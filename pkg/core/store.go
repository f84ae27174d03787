package core

import (
	"context"
	"time"
)

// Client represents an OAuth 2.0 client application registered via dynamic
// client registration.
type Client struct {
	ID              string   `json:"client_id"`
	Secret          string   `json:"client_secret,omitempty"`
	Name            string   `json:"client_name,omitempty"`
	RedirectURIs    []string `json:"redirect_uris"`
	GrantTypes      []string `json:"grant_types,omitempty"`
	ResponseTypes   []string `json:"response_types,omitempty"`
	TokenAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope           string   `json:"scope,omitempty"`
	CreatedAt       int64    `json:"created_at"`
	UpdatedAt       int64    `json:"updated_at,omitempty"`
}

// AuthorizationCode represents a short-lived, single-use authorization code
// and the request context it was issued for. The same record shape backs
// federation state rows, which are keyed by the internal state value instead
// of a code the client ever sees.
type AuthorizationCode struct {
	Code                string   `json:"code"`
	ClientID            string   `json:"client_id"`
	RedirectURI         string   `json:"redirect_uri"`
	Scope               []string `json:"scope"`
	Resource            string   `json:"resource,omitempty"`
	State               string   `json:"state,omitempty"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
	CreatedAt           int64    `json:"created_at"`
	ExpiresAt           int64    `json:"expires_at"`
}

// AccessToken represents a bearer token and the grant context it carries.
type AccessToken struct {
	Token     string   `json:"token"`
	ClientID  string   `json:"client_id"`
	Scope     []string `json:"scope"`
	Resource  string   `json:"resource,omitempty"`
	CreatedAt int64    `json:"created_at"`
	ExpiresAt int64    `json:"expires_at"`
}

// Grant is the verified context attached to an authenticated call.
// ExpiresAt is truncated to unix seconds.
type Grant struct {
	Token     string   `json:"-"`
	ClientID  string   `json:"client_id"`
	Scopes    []string `json:"scopes"`
	Resource  string   `json:"resource,omitempty"`
	ExpiresAt int64    `json:"expires_at"`
}

// HasScope reports whether the grant carries the given scope.
func (g *Grant) HasScope(scope string) bool {
	for _, s := range g.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Store defines the persistence contract for clients, authorization codes,
// and access tokens.
//
// Reads are live-only: a record whose expiry has passed is reported as not
// found even when no sweep has removed it yet. ConsumeAuthorizationCode must
// be atomic with respect to concurrent consumers of the same code; exactly
// one caller observes the record.
type Store interface {
	// RegisterClient persists a client record. Re-registration with the
	// same id overwrites the previous record (last write wins).
	RegisterClient(ctx context.Context, client *Client) error
	// GetClient returns the client, or store.ErrClientNotFound.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// SaveAuthorizationCode stores a new code. It fails with
	// store.ErrCodeExists if an unexpired record with the same code value
	// is already present.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	// GetAuthorizationCode returns the code without consuming it, or
	// store.ErrCodeNotFound if absent or expired.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
	// ConsumeAuthorizationCode atomically fetches and deletes the code.
	// It returns store.ErrCodeNotFound if the code is absent, expired, or
	// already consumed by a concurrent caller.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
	// DeleteExpiredCodes removes every code with expires_at <= now and
	// returns the number of records removed.
	DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error)

	// SaveAccessToken stores a new token. It fails with
	// store.ErrTokenExists if an unexpired record with the same token
	// value is already present.
	SaveAccessToken(ctx context.Context, token *AccessToken) error
	// GetAccessToken returns the token, or store.ErrTokenNotFound if
	// absent or expired. Tokens are reused until expiry; reads do not
	// consume.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)
	// DeleteAccessToken revokes a token ahead of its natural expiry.
	// Deleting an unknown token returns store.ErrTokenNotFound.
	DeleteAccessToken(ctx context.Context, token string) error
	// DeleteExpiredTokens removes every token with expires_at <= now and
	// returns the number of records removed.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}
