// Package server assembles the HTTP surface: OAuth endpoints, discovery
// metadata, the authenticated MCP endpoint, and the middleware between
// them.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/flowmcp/flowmcp/pkg/core"
	"github.com/flowmcp/flowmcp/pkg/oauth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/client/transport"
)

// scopes advertised in discovery metadata and assigned to clients that
// register without one.
const defaultScope = "mcp:tools mcp:read mcp:write"

// Config carries the values the router needs beyond its collaborators.
type Config struct {
	// BaseURL is the externally reachable base URL, without trailing
	// slash, used in discovery metadata and the federated callback.
	BaseURL string
	// StaticSecret is the shared-secret fallback credential. Empty
	// disables the fallback.
	StaticSecret string
}

// CallbackHandler is implemented by providers that delegate authentication
// to an external identity provider; the /oauth/callback route is only
// registered when the provider supports it.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, extCode, state string) (*oauth.CallbackResult, error)
}

// NewRouter builds the gin engine. A nil provider disables the OAuth
// endpoints entirely; the MCP endpoint then accepts the static secret only.
func NewRouter(cfg Config, provider oauth.Provider, store core.Store, mcpServer *MCPServer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	var verifier TokenVerifier
	if provider != nil {
		verifier = provider
	}
	auth := RequestAuthenticator(verifier, cfg.StaticSecret, cfg.BaseURL)

	streamable := mcpServer.ServeHTTP()
	router.POST("/mcp", auth, gin.WrapH(streamable))
	router.GET("/mcp", auth, gin.WrapH(streamable))
	router.DELETE("/mcp", auth, gin.WrapH(streamable))

	router.GET("/.well-known/oauth-protected-resource", func(c *gin.Context) {
		c.JSON(http.StatusOK, &transport.OAuthProtectedResource{
			AuthorizationServers: []string{cfg.BaseURL},
			Resource:             cfg.BaseURL + "/mcp",
			ResourceName:         "Workflow MCP Server",
		})
	})

	if provider == nil {
		return router
	}

	router.GET("/.well-known/oauth-authorization-server", func(c *gin.Context) {
		c.JSON(http.StatusOK, transport.AuthServerMetadata{
			Issuer:                            cfg.BaseURL,
			AuthorizationEndpoint:             cfg.BaseURL + "/oauth/authorize",
			TokenEndpoint:                     cfg.BaseURL + "/oauth/token",
			RegistrationEndpoint:              cfg.BaseURL + "/oauth/register",
			ScopesSupported:                   strings.Split(defaultScope, " "),
			ResponseTypesSupported:            []string{"code"},
			GrantTypesSupported:               []string{"authorization_code"},
			TokenEndpointAuthMethodsSupported: []string{"none", "client_secret_post"},
			CodeChallengeMethodsSupported:     []string{"plain", "S256"},
		})
	})

	router.POST("/oauth/register", handleRegister(store))
	router.GET("/oauth/authorize", handleAuthorize(provider, store))
	router.POST("/oauth/token", handleToken(provider, store))
	router.POST("/oauth/revoke", handleRevoke(provider))

	if cb, ok := provider.(CallbackHandler); ok {
		router.GET("/oauth/callback", handleCallback(cb))
	}

	return router
}

// clientRegistrationRequest is the RFC 7591 registration request body,
// reduced to the fields this server honors.
type clientRegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	Scope                   string   `json:"scope"`
}

type clientRegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope"`
}

func handleRegister(store core.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req clientRegistrationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			oauthErrorMessage(c, http.StatusBadRequest, "invalid_request", "malformed registration body")
			return
		}
		if len(req.RedirectURIs) == 0 {
			oauthErrorMessage(c, http.StatusBadRequest, "invalid_request", "redirect_uris is required")
			return
		}

		if len(req.GrantTypes) == 0 {
			req.GrantTypes = []string{"authorization_code"}
		}
		if len(req.ResponseTypes) == 0 {
			req.ResponseTypes = []string{"code"}
		}
		if req.Scope == "" {
			req.Scope = defaultScope
		}

		client := &core.Client{
			ID:              uuid.New().String(),
			Secret:          oauth.GenerateSecret(),
			Name:            req.ClientName,
			RedirectURIs:    req.RedirectURIs,
			GrantTypes:      req.GrantTypes,
			ResponseTypes:   req.ResponseTypes,
			TokenAuthMethod: req.TokenEndpointAuthMethod,
			Scope:           req.Scope,
			CreatedAt:       time.Now().Unix(),
		}
		if err := store.RegisterClient(c.Request.Context(), client); err != nil {
			slog.Error("Failed to register client", "error", err)
			oauthErrorMessage(c, http.StatusInternalServerError, "server_error", "failed to register client")
			return
		}

		slog.Info("Client registered", "client_id", client.ID, "name", client.Name)
		c.JSON(http.StatusCreated, clientRegistrationResponse{
			ClientID:                client.ID,
			ClientSecret:            client.Secret,
			ClientIDIssuedAt:        client.CreatedAt,
			ClientName:              client.Name,
			RedirectURIs:            client.RedirectURIs,
			GrantTypes:              client.GrantTypes,
			ResponseTypes:           client.ResponseTypes,
			TokenEndpointAuthMethod: client.TokenAuthMethod,
			Scope:                   client.Scope,
		})
	}
}

func handleAuthorize(provider oauth.Provider, store core.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.Query("client_id")
		redirectURI := c.Query("redirect_uri")
		responseType := c.Query("response_type")
		scope := c.Query("scope")
		state := c.Query("state")
		codeChallenge := c.Query("code_challenge")
		codeChallengeMethod := c.Query("code_challenge_method")

		if clientID == "" || redirectURI == "" || responseType == "" {
			oauthErrorMessage(c, http.StatusBadRequest, "invalid_request",
				"client_id, redirect_uri, and response_type are required")
			return
		}
		if responseType != "code" {
			oauthErrorMessage(c, http.StatusBadRequest, "unsupported_response_type",
				"only response_type=code is supported")
			return
		}
		if codeChallenge != "" &&
			codeChallengeMethod != "" && codeChallengeMethod != "plain" && codeChallengeMethod != "S256" {
			oauthErrorMessage(c, http.StatusBadRequest, "invalid_request",
				"unsupported code_challenge_method")
			return
		}

		client, err := store.GetClient(c.Request.Context(), clientID)
		if err != nil {
			oauthErrorMessage(c, http.StatusBadRequest, "invalid_client", "unknown client_id")
			return
		}

		slog.Debug("Authorization request received",
			"client_id", clientID,
			"redirect_uri", redirectURI,
			"scope", scope,
			"code_challenge_method", codeChallengeMethod,
		)

		redirectURL, err := provider.Authorize(c.Request.Context(), client, oauth.AuthorizeParams{
			RedirectURI:         redirectURI,
			Scopes:              splitScope(scope),
			State:               state,
			Resource:            c.Query("resource"),
			CodeChallenge:       codeChallenge,
			CodeChallengeMethod: codeChallengeMethod,
		})
		if err != nil {
			// A mismatched redirect URI must never be redirected to.
			if errors.Is(err, oauth.ErrRedirectMismatch) {
				oauthErrorMessage(c, http.StatusBadRequest, "invalid_request",
					"redirect_uri is not registered for this client")
				return
			}
			slog.Error("Authorization failed", "client_id", clientID, "error", err)
			oauthError(c, http.StatusInternalServerError, err)
			return
		}

		c.Redirect(http.StatusFound, redirectURL)
	}
}

func handleToken(provider oauth.Provider, store core.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		grantType := c.PostForm("grant_type")

		switch grantType {
		case "authorization_code":
		case "refresh_token":
			oauthError(c, http.StatusBadRequest, oauth.ErrUnsupportedGrantType)
			return
		default:
			oauthErrorMessage(c, http.StatusBadRequest, "invalid_request",
				"grant_type must be authorization_code")
			return
		}

		code := c.PostForm("code")
		clientID := c.PostForm("client_id")
		clientSecret := c.PostForm("client_secret")
		redirectURI := c.PostForm("redirect_uri")
		codeVerifier := c.PostForm("code_verifier")

		if code == "" || clientID == "" {
			oauthErrorMessage(c, http.StatusBadRequest, "invalid_request",
				"code and client_id are required")
			return
		}

		client, err := store.GetClient(c.Request.Context(), clientID)
		if err != nil {
			oauthErrorMessage(c, http.StatusBadRequest, "invalid_client", "unknown client_id")
			return
		}
		// Public clients (auth method "none") present no secret; everyone
		// else must match the registered one.
		if client.TokenAuthMethod != "none" && client.Secret != "" {
			if subtle.ConstantTimeCompare([]byte(clientSecret), []byte(client.Secret)) != 1 {
				oauthErrorMessage(c, http.StatusUnauthorized, "invalid_client", "client authentication failed")
				return
			}
		}

		token, err := provider.ExchangeCode(c.Request.Context(),
			client, code, codeVerifier, redirectURI, c.PostForm("resource"))
		if err != nil {
			slog.Warn("Token exchange failed", "client_id", clientID, "error", err)
			status := http.StatusBadRequest
			if oauth.ErrorCode(err) == "server_error" {
				status = http.StatusInternalServerError
			}
			oauthError(c, status, err)
			return
		}

		slog.Info("Access token issued", "client_id", clientID)
		c.JSON(http.StatusOK, token)
	}
}

func handleRevoke(provider oauth.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.PostForm("token")
		if token == "" {
			oauthErrorMessage(c, http.StatusBadRequest, "invalid_request", "token is required")
			return
		}

		if err := provider.RevokeToken(c.Request.Context(), token); err != nil {
			slog.Error("Revocation failed", "error", err)
			oauthError(c, http.StatusInternalServerError, err)
			return
		}
		// Revoking an unknown token is a success per RFC 7009.
		c.JSON(http.StatusOK, gin.H{})
	}
}

func handleCallback(cb CallbackHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		extCode := c.Query("code")
		state := c.Query("state")
		if extCode == "" || state == "" {
			oauthErrorMessage(c, http.StatusBadRequest, "invalid_request", "code and state are required")
			return
		}

		result, err := cb.HandleCallback(c.Request.Context(), extCode, state)
		if err != nil {
			switch {
			case errors.Is(err, oauth.ErrInvalidState):
				oauthErrorMessage(c, http.StatusBadRequest, "invalid_request", "unknown or expired state")
			case errors.Is(err, oauth.ErrUpstreamIdentity):
				slog.Error("Upstream identity provider failed", "error", err)
				oauthErrorMessage(c, http.StatusBadGateway, "server_error", "identity provider error")
			default:
				slog.Error("Callback failed", "error", err)
				oauthError(c, http.StatusInternalServerError, err)
			}
			return
		}

		redirectURL, err := result.Redirect()
		if err != nil {
			slog.Error("Failed to build callback redirect", "error", err)
			oauthError(c, http.StatusInternalServerError, err)
			return
		}
		c.Redirect(http.StatusFound, redirectURL)
	}
}

// oauthError writes the RFC 6749 error body for a provider error, mapping
// the sentinel onto its error code with a canned description so internal
// detail never reaches the client.
func oauthError(c *gin.Context, status int, err error) {
	code := oauth.ErrorCode(err)
	oauthErrorMessage(c, status, code, errorDescriptions[code])
}

func oauthErrorMessage(c *gin.Context, status int, code, description string) {
	c.JSON(status, gin.H{"error": code, "error_description": description})
}

var errorDescriptions = map[string]string{
	"invalid_request":        "the request is missing a required parameter or is otherwise malformed",
	"invalid_grant":          "the authorization code is invalid, expired, or already used",
	"unsupported_grant_type": "refresh_token grants are not supported",
	"invalid_token":          "the access token is invalid or expired",
	"server_error":           "internal server error",
}

func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Split(scope, " ")
}
