package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/flowmcp/flowmcp/pkg/core"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore implements the core.Store interface on a SQLite database.
// Codes and tokens live in their own tables with an expires_at index so the
// reaper's sweep stays a single indexed DELETE.
type SQLiteStore struct {
	db *sql.DB

	now func() time.Time
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// applies the schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows a single writer; wait out short lock contention
	// instead of surfacing SQLITE_BUSY to callers.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RegisterClient stores a client record, replacing any previous record with
// the same client ID. The full record is kept as a JSON blob, keyed by id.
func (s *SQLiteStore) RegisterClient(ctx context.Context, client *core.Client) error {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO oauth_clients (client_id, client_data, created_at) VALUES (?, ?, ?)`,
		client.ID, string(data), s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to register client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by its client ID.
// It returns ErrClientNotFound if the client does not exist.
func (s *SQLiteStore) GetClient(ctx context.Context, clientID string) (*core.Client, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}

	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT client_data FROM oauth_clients WHERE client_id = ?`, clientID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var client core.Client
	if err := json.Unmarshal([]byte(data), &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &client, nil
}

// SaveAuthorizationCode stores an authorization code.
// It returns ErrCodeExists if an unexpired record with the same code value is
// already present; an expired leftover is replaced in the same statement.
func (s *SQLiteStore) SaveAuthorizationCode(ctx context.Context, code *core.AuthorizationCode) error {
	if code == nil {
		return ErrNilAuthorizationCode
	}
	if code.Code == "" {
		return ErrEmptyCode
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_codes (code, client_id, redirect_uri, scopes, resource, state, code_challenge, code_challenge_method, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			client_id = excluded.client_id,
			redirect_uri = excluded.redirect_uri,
			scopes = excluded.scopes,
			resource = excluded.resource,
			state = excluded.state,
			code_challenge = excluded.code_challenge,
			code_challenge_method = excluded.code_challenge_method,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
		WHERE oauth_codes.expires_at <= ?`,
		code.Code, code.ClientID, code.RedirectURI, joinScopes(code.Scope),
		code.Resource, code.State, code.CodeChallenge, code.CodeChallengeMethod,
		code.CreatedAt, code.ExpiresAt, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrCodeExists
	}
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it.
// It returns ErrCodeNotFound if the code does not exist or has expired.
func (s *SQLiteStore) GetAuthorizationCode(ctx context.Context, code string) (*core.AuthorizationCode, error) {
	if code == "" {
		return nil, ErrEmptyCode
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT code, client_id, redirect_uri, scopes, resource, state, code_challenge, code_challenge_method, created_at, expires_at
		FROM oauth_codes WHERE code = ? AND expires_at > ?`,
		code, s.now().Unix(),
	)
	return scanAuthorizationCode(row)
}

// ConsumeAuthorizationCode fetches and removes an authorization code in a
// single conditional DELETE ... RETURNING statement, so two concurrent
// exchange attempts for the same code can never both observe it live.
func (s *SQLiteStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*core.AuthorizationCode, error) {
	if code == "" {
		return nil, ErrEmptyCode
	}

	row := s.db.QueryRowContext(ctx, `
		DELETE FROM oauth_codes WHERE code = ? AND expires_at > ?
		RETURNING code, client_id, redirect_uri, scopes, resource, state, code_challenge, code_challenge_method, created_at, expires_at`,
		code, s.now().Unix(),
	)
	return scanAuthorizationCode(row)
}

// DeleteExpiredCodes removes every code with expires_at <= now and returns
// the number of rows removed.
func (s *SQLiteStore) DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_codes WHERE expires_at <= ?`, now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired codes: %w", err)
	}
	return res.RowsAffected()
}

// SaveAccessToken stores an access token.
// It returns ErrTokenExists if an unexpired record with the same token value
// is already present.
func (s *SQLiteStore) SaveAccessToken(ctx context.Context, token *core.AccessToken) error {
	if token == nil {
		return ErrNilAccessToken
	}
	if token.Token == "" {
		return ErrEmptyToken
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (token, client_id, scopes, expires_at, resource, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			client_id = excluded.client_id,
			scopes = excluded.scopes,
			expires_at = excluded.expires_at,
			resource = excluded.resource,
			created_at = excluded.created_at
		WHERE oauth_tokens.expires_at <= ?`,
		token.Token, token.ClientID, joinScopes(token.Scope),
		token.ExpiresAt, token.Resource, token.CreatedAt, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrTokenExists
	}
	return nil
}

// GetAccessToken retrieves an access token.
// It returns ErrTokenNotFound if the token does not exist or has expired.
func (s *SQLiteStore) GetAccessToken(ctx context.Context, token string) (*core.AccessToken, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	var (
		accessToken core.AccessToken
		scopes      string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, client_id, scopes, expires_at, resource, created_at
		FROM oauth_tokens WHERE token = ? AND expires_at > ?`,
		token, s.now().Unix(),
	).Scan(
		&accessToken.Token, &accessToken.ClientID, &scopes,
		&accessToken.ExpiresAt, &accessToken.Resource, &accessToken.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	accessToken.Scope = splitScopes(scopes)
	return &accessToken, nil
}

// DeleteAccessToken removes an access token.
// It returns ErrTokenNotFound if the token does not exist.
func (s *SQLiteStore) DeleteAccessToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// DeleteExpiredTokens removes every token with expires_at <= now and returns
// the number of rows removed.
func (s *SQLiteStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_tokens WHERE expires_at <= ?`, now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return res.RowsAffected()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuthorizationCode(row rowScanner) (*core.AuthorizationCode, error) {
	var (
		code   core.AuthorizationCode
		scopes string
	)
	err := row.Scan(
		&code.Code, &code.ClientID, &code.RedirectURI, &scopes,
		&code.Resource, &code.State, &code.CodeChallenge, &code.CodeChallengeMethod,
		&code.CreatedAt, &code.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan authorization code: %w", err)
	}
	code.Scope = splitScopes(scopes)
	return &code, nil
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

func splitScopes(scopes string) []string {
	if scopes == "" {
		return nil
	}
	return strings.Split(scopes, " ")
}
