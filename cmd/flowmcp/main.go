// Command flowmcp serves a workflow-automation MCP endpoint behind an
// OAuth 2.0 authorization layer, with an optional dynamic registration
// flow, federation to an external identity provider, and a static
// shared-secret fallback.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowmcp/flowmcp/pkg/idp"
	"github.com/flowmcp/flowmcp/pkg/logger"
	"github.com/flowmcp/flowmcp/pkg/oauth"
	"github.com/flowmcp/flowmcp/pkg/operation/workflow"
	"github.com/flowmcp/flowmcp/pkg/server"
	"github.com/flowmcp/flowmcp/pkg/store"
)

func main() {
	var (
		addr            string
		baseURL         string
		useStdio        bool
		enableOAuth     bool
		idpName         string
		idpClientID     string
		idpClientSecret string
		gitlabHost      string
		authToken       string
		storeType       string
		sqlitePath      string
		redisAddr       string
		redisPassword   string
		redisDB         int
		reapInterval    time.Duration
		logLevel        string
		workflowBaseURL string
		workflowAPIKey  string
	)

	flag.StringVar(&addr, "addr", ":8095", "address to listen on")
	flag.StringVar(&baseURL, "base-url", "http://localhost:8095", "externally reachable base URL")
	flag.BoolVar(&useStdio, "stdio", false, "serve MCP over stdio instead of HTTP (credential from API_KEY)")
	flag.BoolVar(&enableOAuth, "enable-oauth", false, "enable the OAuth 2.0 authorization layer")
	flag.StringVar(&idpName, "idp", "", "federate authentication to an external identity provider: github or gitlab (empty = local authorization)")
	flag.StringVar(&idpClientID, "idp-client-id", "", "external identity provider client ID")
	flag.StringVar(&idpClientSecret, "idp-client-secret", "", "external identity provider client secret (or IDP_CLIENT_SECRET)")
	flag.StringVar(&gitlabHost, "gitlab-host", "https://gitlab.com", "GitLab host for self-hosted instances")
	flag.StringVar(&authToken, "auth-token", "", "static shared-secret credential (or MCP_AUTH_TOKEN)")
	flag.StringVar(&storeType, "store", "memory", "store type: memory, sqlite, or redis")
	flag.StringVar(&sqlitePath, "sqlite-path", "", "SQLite database file path (only used when store=sqlite)")
	flag.StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address (only used when store=redis)")
	flag.StringVar(&redisPassword, "redis-password", "", "Redis password (only used when store=redis)")
	flag.IntVar(&redisDB, "redis-db", 0, "Redis database (only used when store=redis)")
	flag.DurationVar(&reapInterval, "reap-interval", time.Hour, "interval between expired-record sweeps")
	flag.StringVar(&logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR). Defaults to DEBUG in development, INFO in production")
	flag.StringVar(&workflowBaseURL, "workflow-base-url", "http://localhost:5678", "workflow-automation API base URL")
	flag.StringVar(&workflowAPIKey, "workflow-api-key", "", "workflow-automation API key (or WORKFLOW_API_KEY)")
	flag.Parse()

	logger.NewWithLevel(logLevel)

	if authToken == "" {
		authToken = os.Getenv("MCP_AUTH_TOKEN")
	}
	if idpClientSecret == "" {
		idpClientSecret = os.Getenv("IDP_CLIENT_SECRET")
	}
	if workflowAPIKey == "" {
		workflowAPIKey = os.Getenv("WORKFLOW_API_KEY")
	}

	// Stdio transport reads its credential from API_KEY per request; the
	// HTTP transport needs at least one credential configured up front.
	if !useStdio && !enableOAuth && authToken == "" {
		slog.Error("No credential configured: enable OAuth or set an auth token")
		os.Exit(1)
	}

	storeConfig := store.Config{
		Type:       store.ParseStoreType(storeType),
		SQLitePath: sqlitePath,
		Redis: store.RedisOptions{
			Addr:     redisAddr,
			Password: redisPassword,
			DB:       redisDB,
		},
	}
	oauthStore, err := store.NewStore(storeConfig)
	if err != nil {
		slog.Error("Failed to create store", "type", storeType, "error", err)
		os.Exit(1)
	}

	switch storeConfig.Type {
	case store.StoreTypeMemory:
		slog.Info("Using in-memory store")
	case store.StoreTypeSQLite:
		slog.Info("Using SQLite store", "path", sqlitePath)
		if s, ok := oauthStore.(*store.SQLiteStore); ok {
			defer s.Close()
		}
	case store.StoreTypeRedis:
		slog.Info("Using Redis store", "addr", redisAddr, "db", redisDB)
		if s, ok := oauthStore.(*store.RedisStore); ok {
			defer s.Close()
		}
	}

	var provider oauth.Provider
	if enableOAuth {
		switch idpName {
		case "":
			provider = oauth.NewLocalProvider(oauthStore)
			slog.Info("Using local authorization")
		case "github", "gitlab":
			if idpClientID == "" || idpClientSecret == "" {
				slog.Error("Identity provider client ID and secret must be provided", "idp", idpName)
				os.Exit(1)
			}
			var identity idp.IdentityProvider
			if idpName == "github" {
				identity = idp.NewGitHubProvider()
			} else {
				identity = idp.NewGitLabProvider(gitlabHost)
			}
			provider = oauth.NewFederatedProvider(oauthStore, identity, oauth.FederatedConfig{
				ClientID:     idpClientID,
				ClientSecret: idpClientSecret,
				BaseURL:      baseURL,
			})
			slog.Info("Federating authentication", "idp", idpName)
		default:
			slog.Error("Invalid identity provider. Use 'github' or 'gitlab'.", "idp", idpName)
			os.Exit(1)
		}

		reaper := oauth.NewReaper(oauthStore, reapInterval)
		reaper.Start()
		defer reaper.Stop()
	}

	workflowClient := workflow.NewHTTPClient(workflowBaseURL, workflowAPIKey)
	mcpServer := server.NewMCPServer(workflowClient)

	if useStdio {
		slog.Info("Serving MCP over stdio")
		if err := mcpServer.ServeStdio(); err != nil {
			slog.Error("Stdio server error", "err", err)
			os.Exit(1)
		}
		return
	}

	router := server.NewRouter(server.Config{
		BaseURL:      baseURL,
		StaticSecret: authToken,
	}, provider, oauthStore, mcpServer)

	slog.Info("MCP HTTP server listening", "addr", addr, "base_url", baseURL)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	signal.Notify(quit, syscall.SIGTERM)

	<-quit
	slog.Info("Shutdown signal received, shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "err", err)
		os.Exit(1)
	}

	slog.Info("Server shutdown gracefully")
}
