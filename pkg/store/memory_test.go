package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flowmcp/flowmcp/pkg/core"
)

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	if store == nil {
		t.Fatal("NewMemoryStore() returned nil")
	}

	if store.codes == nil {
		t.Error("codes map should be initialized")
	}
	if store.tokens == nil {
		t.Error("tokens map should be initialized")
	}
	if store.clients == nil {
		t.Error("clients map should be initialized")
	}
}

func TestMemoryStore_SaveAuthorizationCode(t *testing.T) {
	tests := []struct {
		name    string
		code    *core.AuthorizationCode
		wantErr error
	}{
		{
			name: "valid authorization code",
			code: &core.AuthorizationCode{
				Code:        "test_code_123",
				ClientID:    "client_123",
				RedirectURI: "https://example.com/callback",
				Scope:       []string{"mcp:read", "mcp:write"},
				ExpiresAt:   time.Now().Add(10 * time.Minute).Unix(),
				CreatedAt:   time.Now().Unix(),
			},
			wantErr: nil,
		},
		{
			name: "valid code with PKCE",
			code: &core.AuthorizationCode{
				Code:                "pkce_code_456",
				ClientID:            "client_456",
				RedirectURI:         "https://example.com/callback",
				Scope:               []string{"mcp:read"},
				CodeChallenge:       "challenge_string",
				CodeChallengeMethod: "S256",
				ExpiresAt:           time.Now().Add(10 * time.Minute).Unix(),
				CreatedAt:           time.Now().Unix(),
			},
			wantErr: nil,
		},
		{
			name:    "nil authorization code",
			code:    nil,
			wantErr: ErrNilAuthorizationCode,
		},
		{
			name: "empty code string",
			code: &core.AuthorizationCode{
				Code:        "",
				ClientID:    "client_789",
				RedirectURI: "https://example.com/callback",
				Scope:       []string{"mcp:read"},
				ExpiresAt:   time.Now().Add(10 * time.Minute).Unix(),
				CreatedAt:   time.Now().Unix(),
			},
			wantErr: ErrEmptyCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			ctx := context.Background()

			err := store.SaveAuthorizationCode(ctx, tt.code)

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("SaveAuthorizationCode() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.wantErr == nil && tt.code != nil {
				savedCode, getErr := store.GetAuthorizationCode(ctx, tt.code.Code)
				if getErr != nil {
					t.Errorf("Failed to retrieve saved code: %v", getErr)
				}
				if savedCode.Code != tt.code.Code {
					t.Errorf("Retrieved code mismatch: got %v, want %v", savedCode.Code, tt.code.Code)
				}
			}
		})
	}
}

func TestMemoryStore_SaveAuthorizationCode_DuplicateLive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	code := &core.AuthorizationCode{
		Code:      "duplicate_code",
		ClientID:  "client_123",
		ExpiresAt: time.Now().Add(10 * time.Minute).Unix(),
		CreatedAt: time.Now().Unix(),
	}
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	err := store.SaveAuthorizationCode(ctx, &core.AuthorizationCode{
		Code:      "duplicate_code",
		ClientID:  "client_456",
		ExpiresAt: time.Now().Add(10 * time.Minute).Unix(),
		CreatedAt: time.Now().Unix(),
	})
	if !errors.Is(err, ErrCodeExists) {
		t.Errorf("Overwriting a live code: error = %v, want %v", err, ErrCodeExists)
	}

	// An expired leftover under the same key may be replaced.
	store.now = func() time.Time { return time.Now().Add(20 * time.Minute) }
	err = store.SaveAuthorizationCode(ctx, &core.AuthorizationCode{
		Code:      "duplicate_code",
		ClientID:  "client_789",
		ExpiresAt: time.Now().Add(30 * time.Minute).Unix(),
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		t.Errorf("Replacing an expired code: error = %v, want nil", err)
	}
}

func TestMemoryStore_GetAuthorizationCode_Expired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	code := &core.AuthorizationCode{
		Code:      "expiring_code",
		ClientID:  "client_123",
		ExpiresAt: time.Now().Add(10 * time.Minute).Unix(),
		CreatedAt: time.Now().Unix(),
	}
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.GetAuthorizationCode(ctx, "expiring_code"); err != nil {
		t.Fatalf("Live code should be readable: %v", err)
	}

	// Advance past expiry; the record becomes invisible without any sweep.
	store.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	_, err := store.GetAuthorizationCode(ctx, "expiring_code")
	if !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("Expired code read: error = %v, want %v", err, ErrCodeNotFound)
	}
}

func TestMemoryStore_ConsumeAuthorizationCode(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	code := &core.AuthorizationCode{
		Code:      "consume_me",
		ClientID:  "client_123",
		Scope:     []string{"mcp:read"},
		ExpiresAt: time.Now().Add(10 * time.Minute).Unix(),
		CreatedAt: time.Now().Unix(),
	}
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.ConsumeAuthorizationCode(ctx, "consume_me")
	if err != nil {
		t.Fatalf("First consume failed: %v", err)
	}
	if got.ClientID != "client_123" {
		t.Errorf("Consumed code client mismatch: got %v", got.ClientID)
	}

	_, err = store.ConsumeAuthorizationCode(ctx, "consume_me")
	if !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("Second consume: error = %v, want %v", err, ErrCodeNotFound)
	}
}

func TestMemoryStore_ConsumeAuthorizationCode_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	code := &core.AuthorizationCode{
		Code:      "race_code",
		ClientID:  "client_123",
		ExpiresAt: time.Now().Add(10 * time.Minute).Unix(),
		CreatedAt: time.Now().Unix(),
	}
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ConsumeAuthorizationCode(ctx, "race_code")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrCodeNotFound) {
			t.Errorf("Unexpected consume error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("Concurrent consume winners = %d, want exactly 1", wins)
	}
}

func TestMemoryStore_DeleteExpiredCodes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	codes := []*core.AuthorizationCode{
		{Code: "live_1", ClientID: "c", ExpiresAt: base.Add(10 * time.Minute).Unix()},
		{Code: "dead_1", ClientID: "c", ExpiresAt: base.Add(-1 * time.Minute).Unix()},
		{Code: "dead_2", ClientID: "c", ExpiresAt: base.Add(-10 * time.Minute).Unix()},
	}
	for _, c := range codes {
		// Bypass the live-duplicate check for already expired fixtures.
		store.codes[c.Code] = c
	}

	removed, err := store.DeleteExpiredCodes(ctx, base)
	if err != nil {
		t.Fatalf("DeleteExpiredCodes failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Removed = %d, want 2", removed)
	}
	if _, err := store.GetAuthorizationCode(ctx, "live_1"); err != nil {
		t.Errorf("Live code should survive the sweep: %v", err)
	}
}

func TestMemoryStore_AccessTokenLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	token := &core.AccessToken{
		Token:     "access_token_1",
		ClientID:  "client_123",
		Scope:     []string{"mcp:read", "mcp:write"},
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
		CreatedAt: time.Now().Unix(),
	}
	if err := store.SaveAccessToken(ctx, token); err != nil {
		t.Fatalf("SaveAccessToken failed: %v", err)
	}

	if err := store.SaveAccessToken(ctx, token); !errors.Is(err, ErrTokenExists) {
		t.Errorf("Duplicate save: error = %v, want %v", err, ErrTokenExists)
	}

	got, err := store.GetAccessToken(ctx, "access_token_1")
	if err != nil {
		t.Fatalf("GetAccessToken failed: %v", err)
	}
	if got.ClientID != "client_123" {
		t.Errorf("Token client mismatch: got %v", got.ClientID)
	}

	if err := store.DeleteAccessToken(ctx, "access_token_1"); err != nil {
		t.Fatalf("DeleteAccessToken failed: %v", err)
	}

	if _, err := store.GetAccessToken(ctx, "access_token_1"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Deleted token read: error = %v, want %v", err, ErrTokenNotFound)
	}

	if err := store.DeleteAccessToken(ctx, "access_token_1"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Double delete: error = %v, want %v", err, ErrTokenNotFound)
	}
}

func TestMemoryStore_GetAccessToken_Expired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	token := &core.AccessToken{
		Token:     "short_lived",
		ClientID:  "client_123",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
		CreatedAt: time.Now().Unix(),
	}
	if err := store.SaveAccessToken(ctx, token); err != nil {
		t.Fatalf("SaveAccessToken failed: %v", err)
	}

	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err := store.GetAccessToken(ctx, "short_lived")
	if !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Expired token read: error = %v, want %v", err, ErrTokenNotFound)
	}
}

func TestMemoryStore_DeleteExpiredTokens(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	tokens := []*core.AccessToken{
		{Token: "live_t", ClientID: "c", ExpiresAt: base.Add(time.Hour).Unix()},
		{Token: "dead_t", ClientID: "c", ExpiresAt: base.Add(-time.Hour).Unix()},
		{Token: "edge_t", ClientID: "c", ExpiresAt: base.Unix()},
	}
	for _, tok := range tokens {
		store.tokens[tok.Token] = tok
	}

	removed, err := store.DeleteExpiredTokens(ctx, base)
	if err != nil {
		t.Fatalf("DeleteExpiredTokens failed: %v", err)
	}
	// expires_at <= now is expired, so the edge case goes too.
	if removed != 2 {
		t.Errorf("Removed = %d, want 2", removed)
	}
}

func TestMemoryStore_Clients(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.RegisterClient(ctx, nil); !errors.Is(err, ErrNilClient) {
		t.Errorf("Nil client: error = %v, want %v", err, ErrNilClient)
	}

	client := &core.Client{
		ID:           "client_abc",
		Secret:       "secret",
		RedirectURIs: []string{"https://example.com/callback"},
	}
	if err := store.RegisterClient(ctx, client); err != nil {
		t.Fatalf("RegisterClient failed: %v", err)
	}

	got, err := store.GetClient(ctx, "client_abc")
	if err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}
	if got.Secret != "secret" {
		t.Errorf("Client secret mismatch: got %v", got.Secret)
	}

	// Re-registration is an upsert; last write wins.
	client2 := &core.Client{
		ID:           "client_abc",
		Secret:       "rotated",
		RedirectURIs: []string{"https://example.com/other"},
	}
	if err := store.RegisterClient(ctx, client2); err != nil {
		t.Fatalf("Re-register failed: %v", err)
	}
	got, err = store.GetClient(ctx, "client_abc")
	if err != nil {
		t.Fatalf("GetClient after upsert failed: %v", err)
	}
	if got.Secret != "rotated" {
		t.Errorf("Client secret after upsert = %v, want rotated", got.Secret)
	}

	if _, err := store.GetClient(ctx, "missing"); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("Missing client: error = %v, want %v", err, ErrClientNotFound)
	}
}
