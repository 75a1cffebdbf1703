package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/flock"

	"github.com/stacklok/telemetry-uploader/internal/cache"
)

// ErrCacheLocked is returned when another process owns the payload cache
var ErrCacheLocked = errors.New("payload cache is in use by another process")

// ownedCache is a cache held under an exclusive file lock. Two processes
// replaying the same cache would upload every payload twice.
type ownedCache struct {
	*cache.SQLiteCache
	lock *flock.Flock
}

// openOwnedCache locks path+".lock" and opens the cache at path
func openOwnedCache(ctx context.Context, path string, opts ...cache.Option) (*ownedCache, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock payload cache: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrCacheLocked, path)
	}

	store, err := cache.Open(ctx, path, opts...)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to open payload cache: %w", err)
	}
	return &ownedCache{SQLiteCache: store, lock: lock}, nil
}

// Close closes the cache and then releases the lock
func (c *ownedCache) Close() error {
	return errors.Join(c.SQLiteCache.Close(), c.lock.Unlock())
}
