// Package idp contains clients for the external identity providers the
// federated authorization flow can delegate authentication to.
package idp

import (
	"context"
	"time"
)

// requestTimeout bounds every call to an external provider; the federated
// flow must fail rather than hang the caller.
const requestTimeout = 30 * time.Second

// Token is the credential returned by an external provider's token endpoint.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// UserInfo is the external identity resolved after a successful exchange.
// It is used for audit logging only; identity attributes do not scope the
// issued token.
type UserInfo struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// IdentityProvider is the contract the federated flow needs from an external
// provider: build a consent URL, exchange the callback code server-to-server,
// and resolve the authenticated identity.
type IdentityProvider interface {
	// Name identifies the provider in logs and configuration.
	Name() string
	// Scopes is the fixed identity scope string requested at the consent
	// endpoint.
	Scopes() string
	// AuthorizeURL builds the provider's consent URL with our internal
	// state echoed as the callback parameter.
	AuthorizeURL(clientID, state, redirectURI string) (string, error)
	// ExchangeCode exchanges the code received on the callback for an
	// access credential at the provider's token endpoint.
	ExchangeCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*Token, error)
	// FetchUserInfo resolves the external identity behind the credential.
	FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error)
}
