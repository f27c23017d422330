// Package credentials persists the session credentials and cached user
// identity in the local client database. Entries are whole-value key-value
// rows; there is nothing relational about them.
package credentials

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/minex/haulsync/internal/domain"
)

// Keys under which the entries are stored.
const (
	keyAuthToken    = "auth_token"
	keyRefreshToken = "refresh_token"
	keyUserData     = "user_data"
)

// Store defines the credential persistence operations the API client and
// the facade depend on.
type Store interface {
	// AuthToken returns the stored bearer token, or "" when absent.
	// Read failures degrade to absent — a broken credential row must not
	// take the whole client down, it just forces a re-login.
	AuthToken(ctx context.Context) string

	// RefreshToken returns the stored refresh token, or "" when absent.
	RefreshToken(ctx context.Context) string

	// SetTokens stores both tokens, overwriting previous values.
	SetTokens(ctx context.Context, authToken, refreshToken string) error

	// User returns the cached user identity.
	// Returns domain.ErrNotFound when no user is cached.
	User(ctx context.Context) (domain.User, error)

	// SetUser caches the user identity.
	SetUser(ctx context.Context, user domain.User) error

	// Clear removes all stored credentials. Used on logout and on an
	// unrecoverable refresh failure.
	Clear(ctx context.Context) error
}

// sqliteStore is the SQLite implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// New constructs a Store backed by the provided database.
func New(db *sql.DB) Store {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) AuthToken(ctx context.Context) string {
	v, _ := s.get(ctx, keyAuthToken)
	return v
}

func (s *sqliteStore) RefreshToken(ctx context.Context) string {
	v, _ := s.get(ctx, keyRefreshToken)
	return v
}

func (s *sqliteStore) SetTokens(ctx context.Context, authToken, refreshToken string) error {
	if err := s.set(ctx, keyAuthToken, authToken); err != nil {
		return fmt.Errorf("credentials.Store.SetTokens: %w", err)
	}
	if err := s.set(ctx, keyRefreshToken, refreshToken); err != nil {
		return fmt.Errorf("credentials.Store.SetTokens: %w", err)
	}
	return nil
}

func (s *sqliteStore) User(ctx context.Context) (domain.User, error) {
	raw, err := s.get(ctx, keyUserData)
	if err != nil || raw == "" {
		return domain.User{}, domain.ErrNotFound
	}
	var u domain.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return domain.User{}, fmt.Errorf("credentials.Store.User: %w", err)
	}
	return u, nil
}

func (s *sqliteStore) SetUser(ctx context.Context, user domain.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("credentials.Store.SetUser: %w", err)
	}
	if err := s.set(ctx, keyUserData, string(raw)); err != nil {
		return fmt.Errorf("credentials.Store.SetUser: %w", err)
	}
	return nil
}

func (s *sqliteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("credentials.Store.Clear: %w", err)
	}
	return nil
}

func (s *sqliteStore) get(ctx context.Context, key string) (string, error) {
	const stmt = `SELECT value FROM credentials WHERE key = ?`
	var v string
	err := s.db.QueryRowContext(ctx, stmt, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *sqliteStore) set(ctx context.Context, key, value string) error {
	const stmt = `
		INSERT INTO credentials (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, stmt, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}
