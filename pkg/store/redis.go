package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/rueidis"

	"github.com/flowmcp/flowmcp/pkg/core"
)

const (
	// Key prefixes for Redis storage
	clientPrefix   = "oauth:client:"
	authCodePrefix = "oauth:code:"
	tokenPrefix    = "oauth:token:"
)

// RedisStore implements the core.Store interface using Redis via rueidis.
// Codes and tokens are written with a TTL matching their expiry, so Redis
// removes most dead records on its own; the sweep methods catch records
// whose TTL has not fired yet relative to the caller's clock.
type RedisStore struct {
	client rueidis.Client

	now func() time.Time
}

// NewRedisStore creates a new instance of RedisStore with the provided rueidis client.
func NewRedisStore(client rueidis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		now:    time.Now,
	}
}

// RedisOptions contains configuration for the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStoreFromOptions creates a new RedisStore with simplified options.
func NewRedisStoreFromOptions(opts RedisOptions) (*RedisStore, error) {
	clientOpts := rueidis.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	}
	return NewRedisStoreFromClientOption(clientOpts)
}

// NewRedisStoreFromClientOption creates a new RedisStore with full rueidis client options.
func NewRedisStoreFromClientOption(opts rueidis.ClientOption) (*RedisStore, error) {
	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client), nil
}

// Close closes the Redis client connection.
func (r *RedisStore) Close() {
	r.client.Close()
}

// RegisterClient stores a client record, replacing any previous record with
// the same client ID. Clients never expire.
func (r *RedisStore) RegisterClient(ctx context.Context, client *core.Client) error {
	if client == nil {
		return ErrNilClient
	}
	if client.ID == "" {
		return ErrEmptyClientID
	}

	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	cmd := r.client.B().Set().Key(clientPrefix + client.ID).Value(string(data)).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to register client in redis: %w", err)
	}
	return nil
}

// GetClient retrieves a client by its client ID.
// It returns ErrClientNotFound if the client does not exist.
// Uses client-side caching with 60 second TTL since clients change infrequently.
func (r *RedisStore) GetClient(ctx context.Context, clientID string) (*core.Client, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}

	cmd := r.client.B().Get().Key(clientPrefix + clientID).Cache()
	result, err := r.client.DoCache(ctx, cmd, 60*time.Second).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client from redis: %w", err)
	}

	var client core.Client
	if err := json.Unmarshal([]byte(result), &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &client, nil
}

// SaveAuthorizationCode stores an authorization code with a TTL matching its
// expiry. It returns ErrCodeExists if an unexpired record with the same code
// value is already present (SET NX; the TTL keeps dead records from blocking
// the slot).
func (r *RedisStore) SaveAuthorizationCode(ctx context.Context, code *core.AuthorizationCode) error {
	if code == nil {
		return ErrNilAuthorizationCode
	}
	if code.Code == "" {
		return ErrEmptyCode
	}

	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ttl := time.Until(time.Unix(code.ExpiresAt, 0))
	if ttl <= 0 {
		return fmt.Errorf("authorization code is already expired")
	}

	cmd := r.client.B().Set().Key(authCodePrefix + code.Code).Value(string(data)).
		Nx().ExSeconds(int64(ttl.Seconds()) + 1).Build()
	resp := r.client.Do(ctx, cmd)
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			// SET NX returns nil when the key already exists.
			return ErrCodeExists
		}
		return fmt.Errorf("failed to save authorization code to redis: %w", err)
	}
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it.
// It returns ErrCodeNotFound if the code does not exist or has expired.
func (r *RedisStore) GetAuthorizationCode(ctx context.Context, code string) (*core.AuthorizationCode, error) {
	if code == "" {
		return nil, ErrEmptyCode
	}

	cmd := r.client.B().Get().Key(authCodePrefix + code).Build()
	result, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code from redis: %w", err)
	}
	return r.decodeLiveCode(result)
}

// ConsumeAuthorizationCode fetches and removes an authorization code with a
// single GETDEL, so two concurrent exchange attempts for the same code can
// never both observe it.
func (r *RedisStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*core.AuthorizationCode, error) {
	if code == "" {
		return nil, ErrEmptyCode
	}

	cmd := r.client.B().Getdel().Key(authCodePrefix + code).Build()
	result, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to consume authorization code from redis: %w", err)
	}
	return r.decodeLiveCode(result)
}

// decodeLiveCode unmarshals a stored code and re-checks its expiry; the TTL
// should have removed dead records already, but the stored expires_at is
// authoritative.
func (r *RedisStore) decodeLiveCode(raw string) (*core.AuthorizationCode, error) {
	var authCode core.AuthorizationCode
	if err := json.Unmarshal([]byte(raw), &authCode); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	if authCode.ExpiresAt <= r.now().Unix() {
		return nil, ErrCodeNotFound
	}
	return &authCode, nil
}

// DeleteExpiredCodes scans for code records whose stored expiry has passed
// and removes them. Records removed by Redis TTL are not counted.
func (r *RedisStore) DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	return r.sweepExpired(ctx, authCodePrefix, now, func(raw string) (int64, bool) {
		var authCode core.AuthorizationCode
		if err := json.Unmarshal([]byte(raw), &authCode); err != nil {
			return 0, false
		}
		return authCode.ExpiresAt, true
	})
}

// SaveAccessToken stores an access token with a TTL matching its expiry.
// It returns ErrTokenExists if an unexpired record with the same token value
// is already present.
func (r *RedisStore) SaveAccessToken(ctx context.Context, token *core.AccessToken) error {
	if token == nil {
		return ErrNilAccessToken
	}
	if token.Token == "" {
		return ErrEmptyToken
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal access token: %w", err)
	}

	ttl := time.Until(time.Unix(token.ExpiresAt, 0))
	if ttl <= 0 {
		return fmt.Errorf("access token is already expired")
	}

	cmd := r.client.B().Set().Key(tokenPrefix + token.Token).Value(string(data)).
		Nx().ExSeconds(int64(ttl.Seconds()) + 1).Build()
	resp := r.client.Do(ctx, cmd)
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return ErrTokenExists
		}
		return fmt.Errorf("failed to save access token to redis: %w", err)
	}
	return nil
}

// GetAccessToken retrieves an access token.
// It returns ErrTokenNotFound if the token does not exist or has expired.
func (r *RedisStore) GetAccessToken(ctx context.Context, token string) (*core.AccessToken, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	cmd := r.client.B().Get().Key(tokenPrefix + token).Build()
	result, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get access token from redis: %w", err)
	}

	var accessToken core.AccessToken
	if err := json.Unmarshal([]byte(result), &accessToken); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access token: %w", err)
	}
	if accessToken.ExpiresAt <= r.now().Unix() {
		return nil, ErrTokenNotFound
	}
	return &accessToken, nil
}

// DeleteAccessToken removes an access token.
// It returns ErrTokenNotFound if the token does not exist.
func (r *RedisStore) DeleteAccessToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}

	cmd := r.client.B().Del().Key(tokenPrefix + token).Build()
	result, err := r.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to delete access token from redis: %w", err)
	}
	if result == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// DeleteExpiredTokens scans for token records whose stored expiry has passed
// and removes them. Records removed by Redis TTL are not counted.
func (r *RedisStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	return r.sweepExpired(ctx, tokenPrefix, now, func(raw string) (int64, bool) {
		var accessToken core.AccessToken
		if err := json.Unmarshal([]byte(raw), &accessToken); err != nil {
			return 0, false
		}
		return accessToken.ExpiresAt, true
	})
}

// sweepExpired walks keys under prefix and deletes records whose stored
// expiry is at or before now. expiryOf extracts the expiry from the stored
// JSON payload.
func (r *RedisStore) sweepExpired(ctx context.Context, prefix string, now time.Time, expiryOf func(string) (int64, bool)) (int64, error) {
	var (
		removed int64
		cursor  uint64
		cutoff  = now.Unix()
	)
	for {
		scanCmd := r.client.B().Scan().Cursor(cursor).Match(prefix + "*").Count(100).Build()
		entry, err := r.client.Do(ctx, scanCmd).AsScanEntry()
		if err != nil {
			return removed, fmt.Errorf("failed to scan redis keys: %w", err)
		}
		for _, key := range entry.Elements {
			getCmd := r.client.B().Get().Key(key).Build()
			raw, err := r.client.Do(ctx, getCmd).ToString()
			if err != nil {
				continue // removed by TTL between scan and read
			}
			expiresAt, ok := expiryOf(raw)
			if !ok || expiresAt > cutoff {
				continue
			}
			delCmd := r.client.B().Del().Key(key).Build()
			n, err := r.client.Do(ctx, delCmd).AsInt64()
			if err == nil {
				removed += n
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}
