// Package migrations embeds the SQL schema for the storage layer so
// Migrator (internal/infrastructure/storage/migrate.go) can discover and
// apply it without a separate asset pipeline.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
