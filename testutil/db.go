// Package testutil provides shared helpers for tests: a throwaway local
// database and a scripted fake of the remote trip API.
package testutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/minex/haulsync/internal/local"
)

// NewDB opens a fully migrated SQLite database in a per-test temp
// directory. The database is closed (and its directory removed) when the
// test and all its subtests finish.
func NewDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := local.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("testutil.NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
