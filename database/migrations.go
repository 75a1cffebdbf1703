// Package database holds the SQLite schema of the upload cache and applies it.
package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitemigration"
)

//go:embed migrations/*.up.sql
var migrationsFS embed.FS

// Schema returns the cache schema built from the embedded migrations, in file name order
func Schema() (sqlitemigration.Schema, error) {
	fnames, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		return sqlitemigration.Schema{}, fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(fnames)

	migrations := make([]string, 0, len(fnames))
	for _, fname := range fnames {
		data, err := migrationsFS.ReadFile(fname)
		if err != nil {
			return sqlitemigration.Schema{}, fmt.Errorf("failed to read migration %s: %w", fname, err)
		}
		migrations = append(migrations, string(data))
	}

	return sqlitemigration.Schema{Migrations: migrations}, nil
}

// MigrateUp applies every pending migration on conn
func MigrateUp(ctx context.Context, conn *sqlite.Conn) error {
	schema, err := Schema()
	if err != nil {
		return err
	}
	if err := sqlitemigration.Migrate(ctx, conn, schema); err != nil {
		return fmt.Errorf("failed to migrate upload cache schema: %w", err)
	}
	return nil
}
