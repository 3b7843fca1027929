package ports

import (
	"context"
	"time"
)

// CachePort is the key-value cache collaborator. Values are opaque bytes;
// callers serialize. Last-write-wins, no cross-key transactionality.
type CachePort interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeleteMatching removes every key matching the glob pattern (* at start,
	// end, or interior) and reports how many were removed.
	DeleteMatching(ctx context.Context, pattern string) (int, error)
	// ExtendMatching pushes out the expiry of every matching key instead of
	// removing it, returning the number of keys touched.
	ExtendMatching(ctx context.Context, pattern string, ttl time.Duration) (int, error)
	Close() error
}
