package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flowmcp/flowmcp/pkg/core"
)

var (
	// ErrCodeNotFound is returned when an authorization code is absent, expired, or already consumed.
	ErrCodeNotFound = errors.New("authorization code not found")
	// ErrCodeExists is returned when saving a code would overwrite an unexpired record.
	ErrCodeExists = errors.New("authorization code already exists")
	// ErrNilAuthorizationCode is returned when attempting to save a nil authorization code.
	ErrNilAuthorizationCode = errors.New("authorization code cannot be nil")
	// ErrEmptyCode is returned when the authorization code string is empty.
	ErrEmptyCode = errors.New("authorization code string cannot be empty")
	// ErrTokenNotFound is returned when an access token is absent or expired.
	ErrTokenNotFound = errors.New("access token not found")
	// ErrTokenExists is returned when saving a token would overwrite an unexpired record.
	ErrTokenExists = errors.New("access token already exists")
	// ErrNilAccessToken is returned when attempting to save a nil access token.
	ErrNilAccessToken = errors.New("access token cannot be nil")
	// ErrEmptyToken is returned when the access token string is empty.
	ErrEmptyToken = errors.New("access token string cannot be empty")
	// ErrClientNotFound is returned when a client is not found in the store.
	ErrClientNotFound = errors.New("client not found")
	// ErrNilClient is returned when attempting to save a nil client.
	ErrNilClient = errors.New("client cannot be nil")
	// ErrEmptyClientID is returned when the client ID string is empty.
	ErrEmptyClientID = errors.New("client ID cannot be empty")
)

// MemoryStore implements the core.Store interface using in-memory maps.
// It provides thread-safe storage for clients, authorization codes, and
// access tokens.
type MemoryStore struct {
	mu      sync.RWMutex
	clients map[string]*core.Client
	codes   map[string]*core.AuthorizationCode
	tokens  map[string]*core.AccessToken

	now func() time.Time
}

// NewMemoryStore creates a new instance of MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients: make(map[string]*core.Client),
		codes:   make(map[string]*core.AuthorizationCode),
		tokens:  make(map[string]*core.AccessToken),
		now:     time.Now,
	}
}

// RegisterClient stores a client record, replacing any previous record with
// the same client ID.
func (m *MemoryStore) RegisterClient(ctx context.Context, client *core.Client) error {
	if client == nil {
		return ErrNilClient
	}
	if client.ID == "" {
		return ErrEmptyClientID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.clients[client.ID] = client
	return nil
}

// GetClient retrieves a client by its client ID.
// It returns ErrClientNotFound if the client does not exist.
func (m *MemoryStore) GetClient(ctx context.Context, clientID string) (*core.Client, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil, ErrClientNotFound
	}

	return client, nil
}

// SaveAuthorizationCode stores an authorization code.
// It returns ErrCodeExists if an unexpired record with the same code value is
// already present; an expired leftover is silently replaced.
func (m *MemoryStore) SaveAuthorizationCode(ctx context.Context, code *core.AuthorizationCode) error {
	if code == nil {
		return ErrNilAuthorizationCode
	}
	if code.Code == "" {
		return ErrEmptyCode
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.codes[code.Code]; exists && existing.ExpiresAt > m.now().Unix() {
		return ErrCodeExists
	}

	m.codes[code.Code] = code
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it.
// It returns ErrCodeNotFound if the code does not exist or has expired.
func (m *MemoryStore) GetAuthorizationCode(ctx context.Context, code string) (*core.AuthorizationCode, error) {
	if code == "" {
		return nil, ErrEmptyCode
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	authCode, exists := m.codes[code]
	if !exists || authCode.ExpiresAt <= m.now().Unix() {
		return nil, ErrCodeNotFound
	}

	return authCode, nil
}

// ConsumeAuthorizationCode fetches and removes an authorization code under a
// single lock hold, so concurrent consumers of the same code cannot both
// observe it. It returns ErrCodeNotFound if the code is absent, expired, or
// already consumed.
func (m *MemoryStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*core.AuthorizationCode, error) {
	if code == "" {
		return nil, ErrEmptyCode
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	authCode, exists := m.codes[code]
	if !exists {
		return nil, ErrCodeNotFound
	}
	delete(m.codes, code)
	if authCode.ExpiresAt <= m.now().Unix() {
		return nil, ErrCodeNotFound
	}

	return authCode, nil
}

// DeleteExpiredCodes removes every code with expires_at <= now and returns
// the number of records removed.
func (m *MemoryStore) DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	cutoff := now.Unix()
	for code, authCode := range m.codes {
		if authCode.ExpiresAt <= cutoff {
			delete(m.codes, code)
			removed++
		}
	}
	return removed, nil
}

// SaveAccessToken stores an access token.
// It returns ErrTokenExists if an unexpired record with the same token value
// is already present.
func (m *MemoryStore) SaveAccessToken(ctx context.Context, token *core.AccessToken) error {
	if token == nil {
		return ErrNilAccessToken
	}
	if token.Token == "" {
		return ErrEmptyToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.tokens[token.Token]; exists && existing.ExpiresAt > m.now().Unix() {
		return ErrTokenExists
	}

	m.tokens[token.Token] = token
	return nil
}

// GetAccessToken retrieves an access token.
// It returns ErrTokenNotFound if the token does not exist or has expired.
func (m *MemoryStore) GetAccessToken(ctx context.Context, token string) (*core.AccessToken, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	accessToken, exists := m.tokens[token]
	if !exists || accessToken.ExpiresAt <= m.now().Unix() {
		return nil, ErrTokenNotFound
	}

	return accessToken, nil
}

// DeleteAccessToken removes an access token.
// It returns ErrTokenNotFound if the token does not exist.
func (m *MemoryStore) DeleteAccessToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tokens[token]; !exists {
		return ErrTokenNotFound
	}

	delete(m.tokens, token)
	return nil
}

// DeleteExpiredTokens removes every token with expires_at <= now and returns
// the number of records removed.
func (m *MemoryStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	cutoff := now.Unix()
	for token, accessToken := range m.tokens {
		if accessToken.ExpiresAt <= cutoff {
			delete(m.tokens, token)
			removed++
		}
	}
	return removed, nil
}
