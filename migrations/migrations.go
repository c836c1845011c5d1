// Package migrations embeds the PostgreSQL schema applied by `ledger migrate`.
package migrations

import (
	"embed"

	migrate "github.com/rubenv/sql-migrate"
)

//go:embed *.sql
var Files embed.FS

// Source returns the embedded migrations in the form sql-migrate consumes.
func Source() migrate.MigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{FileSystem: Files, Root: "."}
}
