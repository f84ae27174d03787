package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewGitLabProvider(t *testing.T) {
	// Default host
	provider := NewGitLabProvider("")
	if provider.host != "https://gitlab.com" {
		t.Errorf("Expected default host to be https://gitlab.com, got %s", provider.host)
	}
	if provider.httpClient == nil {
		t.Error("Expected httpClient to be initialized")
	}

	// Custom host for self-hosted instances
	customHost := "https://gitlab.example.com"
	provider = NewGitLabProvider(customHost)
	if provider.host != customHost {
		t.Errorf("Expected host to be %s, got %s", customHost, provider.host)
	}
}

func TestGitLabProvider_AuthorizeURL(t *testing.T) {
	provider := NewGitLabProvider("https://gitlab.com")

	url, err := provider.AuthorizeURL("test-client", "test-state", "https://example.com/callback")
	if err != nil {
		t.Fatalf("AuthorizeURL failed: %v", err)
	}

	expectedParts := []string{
		"https://gitlab.com/oauth/authorize",
		"client_id=test-client",
		"state=test-state",
		"response_type=code",
		"scope=read_user",
	}
	for _, part := range expectedParts {
		if !strings.Contains(url, part) {
			t.Errorf("URL missing expected part %q. Full URL: %s", part, url)
		}
	}
}

func TestGitLabProvider_ExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		if body["grant_type"] != "authorization_code" {
			t.Errorf("grant_type = %q, want authorization_code", body["grant_type"])
		}
		if body["code"] != "the_code" || body["client_id"] != "cid" || body["client_secret"] != "csecret" {
			t.Errorf("Unexpected exchange body: %v", body)
		}
		json.NewEncoder(w).Encode(Token{AccessToken: "gitlab_token", TokenType: "bearer"})
	}))
	defer srv.Close()

	provider := NewGitLabProvider(srv.URL)
	token, err := provider.ExchangeCode(context.Background(), "cid", "csecret", "the_code", "https://example.com/cb")
	if err != nil {
		t.Fatalf("ExchangeCode failed: %v", err)
	}
	if token.AccessToken != "gitlab_token" {
		t.Errorf("AccessToken = %q, want gitlab_token", token.AccessToken)
	}
}

func TestGitLabProvider_ExchangeCode_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			},
		},
		{
			name: "empty access token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(Token{})
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			provider := NewGitLabProvider(srv.URL)
			if _, err := provider.ExchangeCode(context.Background(), "cid", "csecret", "code", ""); err == nil {
				t.Error("ExchangeCode should fail")
			}
		})
	}
}

func TestGitLabProvider_FetchUserInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/user" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer the_token" {
			t.Errorf("Authorization = %q, want Bearer the_token", got)
		}
		w.Write([]byte(`{"id":42,"username":"dev","name":"Dev Eloper","email":"dev@example.com","avatar_url":"https://gitlab.com/a.png"}`))
	}))
	defer srv.Close()

	provider := NewGitLabProvider(srv.URL)
	user, err := provider.FetchUserInfo(context.Background(), "the_token")
	if err != nil {
		t.Fatalf("FetchUserInfo failed: %v", err)
	}
	if user.Login != "dev" || user.Email != "dev@example.com" {
		t.Errorf("Unexpected user info: %+v", user)
	}
}
