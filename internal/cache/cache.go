// Package cache provides the durable store of payloads that are waiting to be
// delivered to the collector.
package cache

import (
	"context"
	"time"

	"github.com/stacklok/telemetry-uploader/internal/payload"
)

//go:generate mockgen -destination=mocks/mock_cache.go -package=mocks -source=cache.go Cache

// Cache stores pending uploads keyed by (id, type).
// All errors returned by implementations wrap payload.ErrCacheIO.
type Cache interface {
	// Save stores data under (id, typ) with an attempt count of zero.
	// Saving an existing key replaces its data and resets the attempt count.
	Save(ctx context.Context, id string, typ payload.Type, data []byte, payloadTypes string) error

	// FetchAll returns every pending upload in insertion order
	FetchAll(ctx context.Context) ([]payload.PendingUpload, error)

	// Fetch returns a single pending upload, or nil if the key is not cached
	Fetch(ctx context.Context, id string, typ payload.Type) (*payload.PendingUpload, error)

	// UpdateAttemptCount persists the cumulative attempt count of an entry
	UpdateAttemptCount(ctx context.Context, id string, typ payload.Type, count int) error

	// Delete removes an entry. Deleting a missing key is not an error.
	Delete(ctx context.Context, id string, typ payload.Type) error

	// ClearStale removes entries older than maxAge (zero disables the age check)
	// and then trims the oldest entries while the cache is over its size limit.
	// It returns the number of removed entries.
	ClearStale(ctx context.Context, maxAge time.Duration) (int, error)

	// Close releases the underlying storage
	Close() error
}
