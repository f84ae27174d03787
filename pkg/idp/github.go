package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

const (
	githubAuthorizeURL = "https://github.com/login/oauth/authorize"
	githubTokenURL     = "https://github.com/login/oauth/access_token"
	githubUserAPIURL   = "https://api.github.com/user"
	githubScopes       = "read:user user:email"
)

// GitHubProvider implements IdentityProvider for GitHub.
type GitHubProvider struct {
	httpClient *http.Client
}

// NewGitHubProvider creates a new GitHub provider with a configured HTTP client.
func NewGitHubProvider() *GitHubProvider {
	return &GitHubProvider{
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Name implements IdentityProvider.
func (g *GitHubProvider) Name() string { return "github" }

// Scopes implements IdentityProvider.
func (g *GitHubProvider) Scopes() string { return githubScopes }

// AuthorizeURL builds the GitHub consent URL.
func (g *GitHubProvider) AuthorizeURL(clientID, state, redirectURI string) (string, error) {
	u, err := url.Parse(githubAuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse authorize URL: %w", err)
	}
	values := url.Values{}
	values.Set("client_id", clientID)
	values.Set("state", state)
	if redirectURI != "" {
		values.Set("redirect_uri", redirectURI)
	}
	values.Set("scope", githubScopes)
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// ExchangeCode exchanges an authorization code at GitHub's token endpoint.
// GitHub reports grant errors with a 200 status and an error field in the
// body, so both paths are checked.
func (g *GitHubProvider) ExchangeCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*Token, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	reqBody := map[string]string{
		"client_id":     clientID,
		"client_secret": clientSecret,
		"code":          code,
		"redirect_uri":  redirectURI,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", githubTokenURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		Token
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token response: %w", err)
	}
	if tokenResp.Error != "" {
		return nil, fmt.Errorf("provider rejected the exchange: %s: %s", tokenResp.Error, tokenResp.ErrorDescription)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("provider returned no access token")
	}
	return &tokenResp.Token, nil
}

// FetchUserInfo resolves the authenticated GitHub identity.
func (g *GitHubProvider) FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", githubUserAPIURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user info body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch user info with status %d: %s", resp.StatusCode, string(body))
	}
	slog.Debug("GitHub user info response", "raw_body", string(body))

	var user struct {
		Login     string `json:"login"`
		Email     string `json:"email"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	return &UserInfo{
		Login:     user.Login,
		Name:      user.Name,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
	}, nil
}
