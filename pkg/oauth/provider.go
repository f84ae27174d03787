// Package oauth implements the authorization layer: code issuance, PKCE
// validation, code-to-token exchange, token verification, and expiry
// reaping, over a pluggable persistence store. Two Provider variants exist:
// LocalProvider completes the whole flow itself, FederatedProvider delegates
// authentication to an external identity provider and rejoins the local flow
// for the code-to-token half.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/flowmcp/flowmcp/pkg/core"
	"github.com/flowmcp/flowmcp/pkg/store"
)

const (
	// CodeTTL is the lifetime of an authorization code.
	CodeTTL = 10 * time.Minute
	// TokenTTL is the lifetime of an access token.
	TokenTTL = time.Hour
)

// AuthorizeParams carries the validated query parameters of an authorization
// request.
type AuthorizeParams struct {
	RedirectURI         string
	Scopes              []string
	Resource            string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// TokenResponse is the body of a successful token endpoint response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// Provider orchestrates the OAuth dance. It holds no entity state of its
// own; all four entity types are owned by the store.
type Provider interface {
	// Authorize validates the request, stores a new authorization code,
	// and returns the redirect target for the user agent. For the
	// federated variant the target is the external provider's consent
	// endpoint rather than the client's redirect URI.
	Authorize(ctx context.Context, client *core.Client, params AuthorizeParams) (string, error)
	// ChallengeForCode returns the stored PKCE challenge for the code
	// without consuming it, or ErrInvalidGrant.
	ChallengeForCode(ctx context.Context, client *core.Client, code string) (string, error)
	// ExchangeCode atomically consumes the code and mints an access token
	// carrying the code's scopes and resource.
	ExchangeCode(ctx context.Context, client *core.Client, code, verifier, redirectURI, resource string) (*TokenResponse, error)
	// ExchangeRefreshToken always fails with ErrUnsupportedGrantType.
	ExchangeRefreshToken(ctx context.Context, client *core.Client, refreshToken string) (*TokenResponse, error)
	// VerifyToken resolves a bearer token to its grant context, or
	// ErrInvalidToken.
	VerifyToken(ctx context.Context, token string) (*core.Grant, error)
	// RevokeToken invalidates a token ahead of its natural expiry.
	// Revoking an unknown token is a success (RFC 7009).
	RevokeToken(ctx context.Context, token string) error
}

// LocalProvider implements Provider with locally issued credentials.
type LocalProvider struct {
	store core.Store

	now func() time.Time
}

// NewLocalProvider creates a provider over the given store.
func NewLocalProvider(s core.Store) *LocalProvider {
	return &LocalProvider{
		store: s,
		now:   time.Now,
	}
}

// Authorize validates that the redirect URI is registered for the client,
// stores a new authorization code with a 10-minute expiry, and returns
// the client's redirect URI with code and state appended.
func (p *LocalProvider) Authorize(ctx context.Context, client *core.Client, params AuthorizeParams) (string, error) {
	if !redirectURIAllowed(params.RedirectURI, client.RedirectURIs) {
		return "", fmt.Errorf("%w: %s", ErrRedirectMismatch, params.RedirectURI)
	}

	now := p.now()
	authCode := &core.AuthorizationCode{
		Code:                GenerateSecret(),
		ClientID:            client.ID,
		RedirectURI:         params.RedirectURI,
		Scope:               params.Scopes,
		Resource:            params.Resource,
		State:               params.State,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		CreatedAt:           now.Unix(),
		ExpiresAt:           now.Add(CodeTTL).Unix(),
	}
	if err := p.store.SaveAuthorizationCode(ctx, authCode); err != nil {
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	return redirectWithCode(params.RedirectURI, authCode.Code, params.State)
}

// ChallengeForCode returns the stored PKCE challenge for the code. The code
// is not consumed; only the exchange consumes it, so challenge lookup and
// exchange can be performed by different call sites.
func (p *LocalProvider) ChallengeForCode(ctx context.Context, _ *core.Client, code string) (string, error) {
	authCode, err := p.store.GetAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrCodeNotFound) {
			return "", ErrInvalidGrant
		}
		return "", fmt.Errorf("failed to look up authorization code: %w", err)
	}
	return authCode.CodeChallenge, nil
}

// ExchangeCode consumes the code via the store's atomic fetch-and-delete and
// mints a bearer token with a 1-hour expiry. The PKCE verifier check is part
// of the exchange, not a separate step; a code is single-use even when the
// verifier check fails.
func (p *LocalProvider) ExchangeCode(ctx context.Context, client *core.Client, code, verifier, redirectURI, _ string) (*TokenResponse, error) {
	authCode, err := p.store.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrCodeNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	if authCode.ClientID != client.ID {
		// Reported as invalid_grant externally; the wrapped sentinel keeps
		// the distinction observable for callers using errors.Is.
		return nil, fmt.Errorf("%w: %w", ErrInvalidGrant, ErrClientMismatch)
	}
	if redirectURI != "" && redirectURI != authCode.RedirectURI {
		return nil, fmt.Errorf("%w: redirect_uri does not match", ErrInvalidGrant)
	}
	if authCode.CodeChallenge != "" {
		if err := verifyPKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, verifier); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
		}
	}

	now := p.now()
	accessToken := &core.AccessToken{
		Token:     GenerateSecret(),
		ClientID:  client.ID,
		Scope:     authCode.Scope,
		Resource:  authCode.Resource,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(TokenTTL).Unix(),
	}
	if err := p.store.SaveAccessToken(ctx, accessToken); err != nil {
		return nil, fmt.Errorf("failed to save access token: %w", err)
	}

	return &TokenResponse{
		AccessToken: accessToken.Token,
		TokenType:   "bearer",
		ExpiresIn:   int64(TokenTTL.Seconds()),
		Scope:       strings.Join(authCode.Scope, " "),
	}, nil
}

// ExchangeRefreshToken always fails: refresh is a permanent, intentional
// limitation of this provider.
func (p *LocalProvider) ExchangeRefreshToken(_ context.Context, _ *core.Client, _ string) (*TokenResponse, error) {
	return nil, ErrUnsupportedGrantType
}

// VerifyToken resolves a bearer token to its grant context. Expiry is
// re-checked on every read, so a token past its expires_at is rejected even
// before the reaper has removed it.
func (p *LocalProvider) VerifyToken(ctx context.Context, token string) (*core.Grant, error) {
	accessToken, err := p.store.GetAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) || errors.Is(err, store.ErrEmptyToken) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to look up access token: %w", err)
	}

	return &core.Grant{
		Token:     accessToken.Token,
		ClientID:  accessToken.ClientID,
		Scopes:    accessToken.Scope,
		Resource:  accessToken.Resource,
		ExpiresAt: accessToken.ExpiresAt,
	}, nil
}

// RevokeToken deletes the token. Revoking an unknown or already expired
// token succeeds.
func (p *LocalProvider) RevokeToken(ctx context.Context, token string) error {
	err := p.store.DeleteAccessToken(ctx, token)
	if err != nil && !errors.Is(err, store.ErrTokenNotFound) {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}
	return nil
}

// GenerateSecret returns a high-entropy opaque value used for codes,
// tokens, client secrets, and
// federation state.
func GenerateSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// redirectURIAllowed reports whether uri exactly matches one of the client's
// registered redirect URIs.
func redirectURIAllowed(uri string, allowed []string) bool {
	for _, a := range allowed {
		if uri == a {
			return true
		}
	}
	return false
}

// redirectWithCode appends code and (if present) state to the redirect URI
// as query parameters.
func redirectWithCode(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("failed to parse redirect URI: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// verifyPKCE matches the verifier against the stored challenge under the
// stored method. An empty method is treated as plain.
func verifyPKCE(challenge, method, verifier string) error {
	if verifier == "" {
		return errors.New("code_verifier is required")
	}
	computed, err := computeCodeChallenge(verifier, method)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return errors.New("code_verifier does not match challenge")
	}
	return nil
}

func computeCodeChallenge(codeVerifier, method string) (string, error) {
	switch method {
	case "plain", "":
		return codeVerifier, nil
	case "S256":
		return oauth2.S256ChallengeFromVerifier(codeVerifier), nil
	default:
		return "", fmt.Errorf("unsupported code challenge method: %s", method)
	}
}
