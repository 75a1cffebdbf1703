// Package db contains code for opening the SQLite database backing the upload cache.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/stacklok/telemetry-uploader/database"
)

const (
	defaultPoolSize = 4
)

// connectionPragmas are applied to every pooled connection before first use
var connectionPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=FULL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// Connection wraps the SQLite connection pool
type Connection struct {
	pool *sqlitex.Pool
	path string
}

// NewConnection opens (creating if needed) the database at path, applies the
// standard pragmas and migrates the schema. poolSize <= 0 uses the default.
func NewConnection(ctx context.Context, path string, poolSize int) (*Connection, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	c := &Connection{pool: pool, path: path}

	conn, err := c.Take(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	migrateErr := database.MigrateUp(ctx, conn)
	c.Put(conn)
	if migrateErr != nil {
		_ = pool.Close()
		return nil, migrateErr
	}

	slog.Debug("Database connection established", "path", path, "pool_size", poolSize)

	return c, nil
}

// Take borrows a connection. The caller must Put it back.
func (c *Connection) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to take database connection: %w", err)
	}
	return conn, nil
}

// Put returns a borrowed connection to the pool
func (c *Connection) Put(conn *sqlite.Conn) {
	c.pool.Put(conn)
}

// Path returns the database file path
func (c *Connection) Path() string {
	return c.path
}

// Close closes the database connection pool
func (c *Connection) Close() error {
	if c.pool == nil {
		return nil
	}
	slog.Debug("Closing database connection", "path", c.path)
	if err := c.pool.Close(); err != nil {
		return fmt.Errorf("failed to close database %s: %w", c.path, err)
	}
	return nil
}

func prepareConnection(conn *sqlite.Conn) error {
	for _, pragma := range connectionPragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}
