// Package migrations embeds the SQL migration files for the local client
// database so they can be applied by the goose programmatic API when the
// client opens its data directory, and by tests against a temp database.
package migrations

import "embed"

// FS holds all *.sql migration files embedded at compile time.
// Pass this to goose.NewProvider instead of relying on a filesystem path
// at runtime — a mobile bundle has no migrations directory to read.
//
//go:embed *.sql
var FS embed.FS
