// Package local opens the client's SQLite database and applies schema
// migrations. The database holds the two persisted shared resources of the
// client: the offline operation queue and the credential store.
package local

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the pure-Go "sqlite" driver

	"github.com/minex/haulsync/migrations"
)

// Open creates (if needed) the data directory, opens the SQLite database
// inside it, and applies all pending migrations.
//
// WAL mode keeps a reader (UI listing the queue) from blocking the single
// writer. MaxOpenConns(1) serializes writers, which SQLite requires anyway.
func Open(ctx context.Context, dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("local.Open: create data dir: %w", err)
	}

	path := filepath.Join(dataDir, "haulsync.db")
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("local.Open: open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("local.Open: ping: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate applies all pending embedded migrations to db.
// Safe to call on every startup; goose tracks applied versions in the DB.
func Migrate(ctx context.Context, db *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("local.Migrate: create goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("local.Migrate: run migrations: %w", err)
	}
	return nil
}
