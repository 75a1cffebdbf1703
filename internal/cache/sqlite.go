package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/stacklok/telemetry-uploader/internal/clock"
	"github.com/stacklok/telemetry-uploader/internal/db"
	"github.com/stacklok/telemetry-uploader/internal/payload"
)

const (
	upsertQuery = `
INSERT INTO upload_data (id, type, data, payload_types, attempt_count, created_at)
VALUES (?, ?, ?, ?, 0, ?)
ON CONFLICT (id, type) DO UPDATE SET
    data = excluded.data,
    payload_types = excluded.payload_types,
    attempt_count = 0,
    created_at = excluded.created_at`

	selectColumns = `SELECT id, type, data, payload_types, attempt_count, created_at FROM upload_data`

	fetchAllQuery = selectColumns + ` ORDER BY rowid`

	fetchQuery = selectColumns + ` WHERE id = ? AND type = ?`

	updateAttemptCountQuery = `UPDATE upload_data SET attempt_count = ? WHERE id = ? AND type = ?`

	deleteQuery = `DELETE FROM upload_data WHERE id = ? AND type = ?`

	deleteOlderThanQuery = `DELETE FROM upload_data WHERE created_at < ?`

	trimToCountQuery = `
DELETE FROM upload_data WHERE rowid NOT IN (
    SELECT rowid FROM upload_data ORDER BY created_at DESC, rowid DESC LIMIT ?
)`

	sizesOldestFirstQuery = `SELECT rowid, length(data) FROM upload_data ORDER BY created_at, rowid`

	totalSizeQuery = `SELECT coalesce(sum(length(data)), 0) FROM upload_data`

	deleteRowQuery = `DELETE FROM upload_data WHERE rowid = ?`
)

// SQLiteCache is a Cache backed by a SQLite database
type SQLiteCache struct {
	conn         *db.Connection
	clock        clock.Clock
	maxEntries   int
	maxSizeBytes int64
}

// Option configures a SQLiteCache
type Option func(*SQLiteCache)

// WithClock sets the clock used to stamp new entries and evaluate their age
func WithClock(c clock.Clock) Option {
	return func(s *SQLiteCache) {
		s.clock = c
	}
}

// WithMaxEntries keeps at most n entries, evicting the oldest on Save.
// Zero means unlimited.
func WithMaxEntries(n int) Option {
	return func(s *SQLiteCache) {
		s.maxEntries = n
	}
}

// WithMaxSizeBytes bounds the total payload size enforced by ClearStale.
// Zero means unlimited.
func WithMaxSizeBytes(n int64) Option {
	return func(s *SQLiteCache) {
		s.maxSizeBytes = n
	}
}

// NewSQLiteCache creates a cache on top of an open connection.
// The cache takes ownership of conn and closes it on Close.
func NewSQLiteCache(conn *db.Connection, opts ...Option) *SQLiteCache {
	s := &SQLiteCache{
		conn:  conn,
		clock: clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the database at path and returns a cache on top of it
func Open(ctx context.Context, path string, opts ...Option) (*SQLiteCache, error) {
	conn, err := db.NewConnection(ctx, path, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", payload.ErrCacheIO, err)
	}
	return NewSQLiteCache(conn, opts...), nil
}

// Save implements Cache
func (s *SQLiteCache) Save(
	ctx context.Context, id string, typ payload.Type, data []byte, payloadTypes string,
) (err error) {
	key := payload.Key{ID: id, Type: typ}
	conn, err := s.conn.Take(ctx)
	if err != nil {
		return wrapErr("save", key, err)
	}
	defer s.conn.Put(conn)

	defer sqlitex.Save(conn)(&err)

	err = sqlitex.Execute(conn, upsertQuery, &sqlitex.ExecOptions{
		Args: []any{id, int64(typ), data, payloadTypes, s.clock.Now().UnixMilli()},
	})
	if err != nil {
		return wrapErr("save", key, err)
	}

	if s.maxEntries > 0 {
		err = sqlitex.Execute(conn, trimToCountQuery, &sqlitex.ExecOptions{
			Args: []any{s.maxEntries},
		})
		if err != nil {
			return wrapErr("trim", key, err)
		}
		if evicted := conn.Changes(); evicted > 0 {
			slog.Info("Evicted oldest cached payloads", "count", evicted, "max_entries", s.maxEntries)
		}
	}

	return nil
}

// FetchAll implements Cache
func (s *SQLiteCache) FetchAll(ctx context.Context) ([]payload.PendingUpload, error) {
	conn, err := s.conn.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch all: %w", payload.ErrCacheIO, err)
	}
	defer s.conn.Put(conn)

	var uploads []payload.PendingUpload
	err = sqlitex.Execute(conn, fetchAllQuery, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			uploads = append(uploads, scanUpload(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetch all: %w", payload.ErrCacheIO, err)
	}
	return uploads, nil
}

// Fetch implements Cache
func (s *SQLiteCache) Fetch(ctx context.Context, id string, typ payload.Type) (*payload.PendingUpload, error) {
	key := payload.Key{ID: id, Type: typ}
	conn, err := s.conn.Take(ctx)
	if err != nil {
		return nil, wrapErr("fetch", key, err)
	}
	defer s.conn.Put(conn)

	var found *payload.PendingUpload
	err = sqlitex.Execute(conn, fetchQuery, &sqlitex.ExecOptions{
		Args: []any{id, int64(typ)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			upload := scanUpload(stmt)
			found = &upload
			return nil
		},
	})
	if err != nil {
		return nil, wrapErr("fetch", key, err)
	}
	return found, nil
}

// UpdateAttemptCount implements Cache
func (s *SQLiteCache) UpdateAttemptCount(ctx context.Context, id string, typ payload.Type, count int) error {
	key := payload.Key{ID: id, Type: typ}
	conn, err := s.conn.Take(ctx)
	if err != nil {
		return wrapErr("update attempt count", key, err)
	}
	defer s.conn.Put(conn)

	err = sqlitex.Execute(conn, updateAttemptCountQuery, &sqlitex.ExecOptions{
		Args: []any{count, id, int64(typ)},
	})
	if err != nil {
		return wrapErr("update attempt count", key, err)
	}
	return nil
}

// Delete implements Cache
func (s *SQLiteCache) Delete(ctx context.Context, id string, typ payload.Type) error {
	key := payload.Key{ID: id, Type: typ}
	conn, err := s.conn.Take(ctx)
	if err != nil {
		return wrapErr("delete", key, err)
	}
	defer s.conn.Put(conn)

	err = sqlitex.Execute(conn, deleteQuery, &sqlitex.ExecOptions{
		Args: []any{id, int64(typ)},
	})
	if err != nil {
		return wrapErr("delete", key, err)
	}
	return nil
}

// ClearStale implements Cache
func (s *SQLiteCache) ClearStale(ctx context.Context, maxAge time.Duration) (removed int, err error) {
	conn, err := s.conn.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: clear stale: %w", payload.ErrCacheIO, err)
	}
	defer s.conn.Put(conn)

	defer sqlitex.Save(conn)(&err)

	if maxAge > 0 {
		cutoff := s.clock.Now().Add(-maxAge).UnixMilli()
		err = sqlitex.Execute(conn, deleteOlderThanQuery, &sqlitex.ExecOptions{
			Args: []any{cutoff},
		})
		if err != nil {
			return 0, fmt.Errorf("%w: clear stale: %w", payload.ErrCacheIO, err)
		}
		removed += conn.Changes()
	}

	if s.maxSizeBytes > 0 {
		trimmed, trimErr := s.trimToSize(conn)
		if trimErr != nil {
			err = fmt.Errorf("%w: trim to size: %w", payload.ErrCacheIO, trimErr)
			return 0, err
		}
		removed += trimmed
	}

	if removed > 0 {
		slog.Info("Removed stale cached payloads",
			"count", removed,
			"max_age", maxAge,
			"max_size_bytes", s.maxSizeBytes)
	}
	return removed, nil
}

// Close implements Cache
func (s *SQLiteCache) Close() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("%w: %w", payload.ErrCacheIO, err)
	}
	return nil
}

func (s *SQLiteCache) trimToSize(conn *sqlite.Conn) (int, error) {
	var total int64
	err := sqlitex.Execute(conn, totalSizeQuery, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			total = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	if total <= s.maxSizeBytes {
		return 0, nil
	}

	var victims []int64
	err = sqlitex.Execute(conn, sizesOldestFirstQuery, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if total <= s.maxSizeBytes {
				return nil
			}
			victims = append(victims, stmt.ColumnInt64(0))
			total -= stmt.ColumnInt64(1)
			return nil
		},
	})
	if err != nil {
		return 0, err
	}

	for _, rowid := range victims {
		err := sqlitex.Execute(conn, deleteRowQuery, &sqlitex.ExecOptions{
			Args: []any{rowid},
		})
		if err != nil {
			return 0, err
		}
	}
	return len(victims), nil
}

func scanUpload(stmt *sqlite.Stmt) payload.PendingUpload {
	data := make([]byte, stmt.ColumnLen(2))
	stmt.ColumnBytes(2, data)
	return payload.PendingUpload{
		ID:           stmt.ColumnText(0),
		Type:         payload.Type(stmt.ColumnInt64(1)),
		Data:         data,
		PayloadTypes: stmt.ColumnText(3),
		AttemptCount: int(stmt.ColumnInt64(4)),
		CreatedAt:    time.UnixMilli(stmt.ColumnInt64(5)),
	}
}

func wrapErr(op string, key payload.Key, err error) error {
	return fmt.Errorf("%w: %s %s: %w", payload.ErrCacheIO, op, key, err)
}
