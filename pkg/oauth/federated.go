package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flowmcp/flowmcp/pkg/core"
	"github.com/flowmcp/flowmcp/pkg/idp"
	"github.com/flowmcp/flowmcp/pkg/store"
)

// CallbackResult tells the HTTP layer where to send the user agent after a
// successful external callback: the original client's redirect URI, the
// freshly minted local code, and the client's opaque state echoed back.
type CallbackResult struct {
	RedirectURI string
	AuthCode    string
	ClientState string
}

// Redirect builds the URL the user agent is sent to after a successful
// callback: the client's redirect URI with the local code and the client's
// original state appended.
func (r *CallbackResult) Redirect() (string, error) {
	return redirectWithCode(r.RedirectURI, r.AuthCode, r.ClientState)
}

// FederatedConfig carries the external provider credentials and the
// externally reachable base URL used to construct the callback URI.
type FederatedConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
}

// FederatedProvider implements Provider by delegating authentication to an
// external identity provider. It composes a LocalProvider for the
// code-to-token half of the flow; only Authorize and the callback differ.
//
// Authorize stores the inbound request keyed by an internally generated
// state value and redirects the user agent to the external provider's
// consent endpoint. HandleCallback consumes that state, exchanges the
// external code server-to-server, and mints a genuine local authorization
// code from the stored request context. From there the flow rejoins the
// local ExchangeCode path.
type FederatedProvider struct {
	local    *LocalProvider
	provider idp.IdentityProvider
	config   FederatedConfig

	now func() time.Time
}

// NewFederatedProvider creates a federated provider over the same store as
// the inner local provider.
func NewFederatedProvider(s core.Store, provider idp.IdentityProvider, config FederatedConfig) *FederatedProvider {
	return &FederatedProvider{
		local:    NewLocalProvider(s),
		provider: provider,
		config:   config,
		now:      time.Now,
	}
}

// CallbackURL returns the externally reachable callback URI registered with
// the external provider.
func (f *FederatedProvider) CallbackURL() string {
	return strings.TrimSuffix(f.config.BaseURL, "/") + "/oauth/callback"
}

// Authorize stores the authorization request under an internal state value
// with a 10-minute expiry and returns the external provider's consent URL.
func (f *FederatedProvider) Authorize(ctx context.Context, client *core.Client, params AuthorizeParams) (string, error) {
	if !redirectURIAllowed(params.RedirectURI, client.RedirectURIs) {
		return "", fmt.Errorf("%w: %s", ErrRedirectMismatch, params.RedirectURI)
	}

	// The state row reuses the authorization code shape and table; it is
	// keyed by a value the client never sees and consumed exactly once on
	// the callback.
	state := GenerateSecret()
	now := f.now()
	if err := f.local.store.SaveAuthorizationCode(ctx, &core.AuthorizationCode{
		Code:                state,
		ClientID:            client.ID,
		RedirectURI:         params.RedirectURI,
		Scope:               params.Scopes,
		Resource:            params.Resource,
		State:               params.State,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		CreatedAt:           now.Unix(),
		ExpiresAt:           now.Add(CodeTTL).Unix(),
	}); err != nil {
		return "", fmt.Errorf("failed to save federation state: %w", err)
	}

	authURL, err := f.provider.AuthorizeURL(f.config.ClientID, state, f.CallbackURL())
	if err != nil {
		return "", fmt.Errorf("failed to build provider authorize URL: %w", err)
	}

	slog.Info("Redirecting to external identity provider",
		"provider", f.provider.Name(), "client_id", client.ID)
	return authURL, nil
}

// HandleCallback processes the external provider's callback. The state row
// is consumed first, so a replayed callback fails with ErrInvalidState
// before any network call is made.
func (f *FederatedProvider) HandleCallback(ctx context.Context, extCode, state string) (*CallbackResult, error) {
	request, err := f.local.store.ConsumeAuthorizationCode(ctx, state)
	if err != nil {
		if errors.Is(err, store.ErrCodeNotFound) {
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("failed to consume federation state: %w", err)
	}

	extToken, err := f.provider.ExchangeCode(ctx, f.config.ClientID, f.config.ClientSecret, extCode, f.CallbackURL())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamIdentity, err)
	}

	// Identity attributes are resolved for audit logging only; they do not
	// scope the issued token.
	if userInfo, err := f.provider.FetchUserInfo(ctx, extToken.AccessToken); err != nil {
		slog.Warn("Failed to fetch external user info",
			"provider", f.provider.Name(), "error", err)
	} else {
		slog.Info("External user authenticated",
			"provider", f.provider.Name(), "login", userInfo.Login)
	}

	now := f.now()
	authCode := &core.AuthorizationCode{
		Code:                GenerateSecret(),
		ClientID:            request.ClientID,
		RedirectURI:         request.RedirectURI,
		Scope:               request.Scope,
		Resource:            request.Resource,
		State:               request.State,
		CodeChallenge:       request.CodeChallenge,
		CodeChallengeMethod: request.CodeChallengeMethod,
		CreatedAt:           now.Unix(),
		ExpiresAt:           now.Add(CodeTTL).Unix(),
	}
	if err := f.local.store.SaveAuthorizationCode(ctx, authCode); err != nil {
		return nil, fmt.Errorf("failed to save authorization code: %w", err)
	}

	return &CallbackResult{
		RedirectURI: request.RedirectURI,
		AuthCode:    authCode.Code,
		ClientState: request.State,
	}, nil
}

// ChallengeForCode delegates to the inner local provider.
func (f *FederatedProvider) ChallengeForCode(ctx context.Context, client *core.Client, code string) (string, error) {
	return f.local.ChallengeForCode(ctx, client, code)
}

// ExchangeCode delegates to the inner local provider.
func (f *FederatedProvider) ExchangeCode(ctx context.Context, client *core.Client, code, verifier, redirectURI, resource string) (*TokenResponse, error) {
	return f.local.ExchangeCode(ctx, client, code, verifier, redirectURI, resource)
}

// ExchangeRefreshToken delegates to the inner local provider and always fails.
func (f *FederatedProvider) ExchangeRefreshToken(ctx context.Context, client *core.Client, refreshToken string) (*TokenResponse, error) {
	return f.local.ExchangeRefreshToken(ctx, client, refreshToken)
}

// VerifyToken delegates to the inner local provider.
func (f *FederatedProvider) VerifyToken(ctx context.Context, token string) (*core.Grant, error) {
	return f.local.VerifyToken(ctx, token)
}

// RevokeToken delegates to the inner local provider.
func (f *FederatedProvider) RevokeToken(ctx context.Context, token string) error {
	return f.local.RevokeToken(ctx, token)
}
