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
	gitlabAuthorizePath = "/oauth/authorize"
	gitlabTokenPath     = "/oauth/token"
	gitlabUserAPIPath   = "/api/v4/user"
	gitlabScopes        = "read_user"
)

// GitLabProvider implements IdentityProvider for GitLab.
// It supports self-hosted GitLab instances by allowing a custom host.
type GitLabProvider struct {
	host       string
	httpClient *http.Client
}

// NewGitLabProvider creates a new GitLab provider for a specific GitLab host.
// Use "https://gitlab.com" for GitLab.com or your self-hosted instance URL.
func NewGitLabProvider(host string) *GitLabProvider {
	if host == "" {
		host = "https://gitlab.com"
	}
	return &GitLabProvider{
		host: host,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Name implements IdentityProvider.
func (g *GitLabProvider) Name() string { return "gitlab" }

// Scopes implements IdentityProvider.
func (g *GitLabProvider) Scopes() string { return gitlabScopes }

// AuthorizeURL builds the GitLab consent URL.
func (g *GitLabProvider) AuthorizeURL(clientID, state, redirectURI string) (string, error) {
	u, err := url.Parse(g.host + gitlabAuthorizePath)
	if err != nil {
		return "", fmt.Errorf("failed to parse GitLab authorize URL: %w", err)
	}

	values := url.Values{}
	values.Set("client_id", clientID)
	values.Set("response_type", "code")
	values.Set("state", state)
	if redirectURI != "" {
		values.Set("redirect_uri", redirectURI)
	}
	values.Set("scope", gitlabScopes)
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// ExchangeCode exchanges an authorization code at the GitLab token endpoint.
func (g *GitLabProvider) ExchangeCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*Token, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	reqBody := map[string]string{
		"client_id":     clientID,
		"client_secret": clientSecret,
		"code":          code,
		"grant_type":    "authorization_code",
		"redirect_uri":  redirectURI,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GitLab request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.host+gitlabTokenPath, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange GitLab token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read GitLab token response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitLab token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp Token
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal GitLab token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("provider returned no access token")
	}
	return &tokenResp, nil
}

// FetchUserInfo fetches user information from the GitLab API.
func (g *GitLabProvider) FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", g.host+gitlabUserAPIPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch GitLab user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read GitLab user info body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch GitLab user info with status %d: %s", resp.StatusCode, string(body))
	}
	slog.Debug("GitLab user info response", "raw_body", string(body))

	var user struct {
		ID        int    `json:"id"`
		Username  string `json:"username"`
		Email     string `json:"email"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to decode GitLab user info: %w", err)
	}
	return &UserInfo{
		Login:     user.Username,
		Name:      user.Name,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
	}, nil
}
