package cache

import (
	"context"
	"errors"
	"time"
)

// Entry is a versioned cache record. The version is the aggregate's
// optimistic version, so a conditional set from a stale writer can
// never clobber a newer value.
type Entry struct {
	Value    []byte    `json:"value"`
	Version  int64     `json:"version"`
	StoredAt time.Time `json:"stored_at"`
}

// ErrMiss reports a key absent from the cache
var ErrMiss = errors.New("cache miss")

// Store is a versioned key-value cache. All operations are best-effort
// from the caller's point of view: a failed cache never fails the
// request, it only costs a database read.
type Store interface {
	// Get returns the entry for key, or ErrMiss
	Get(ctx context.Context, key string) (*Entry, error)
	// Set stores an entry unconditionally
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
	// SetIfNewer stores only when entry.Version is at least the stored
	// version. Returns false when an equal-or-newer entry won.
	SetIfNewer(ctx context.Context, key string, entry *Entry, ttl time.Duration) (bool, error)
	// Delete evicts keys
	Delete(ctx context.Context, keys ...string) error
	// TTL returns the remaining lifetime of key, or ErrMiss
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Touch extends the lifetime of key
	Touch(ctx context.Context, key string, ttl time.Duration) error
	// Clear evicts every key in the cache namespace
	Clear(ctx context.Context) error
}

// Config carries the cache TTLs and refresh threshold
type Config struct {
	ProductTTL time.Duration
	StockTTL   time.Duration
	// RefreshFraction triggers async refresh when the remaining TTL
	// drops below this fraction of the original
	RefreshFraction float64
	// HotItemSampleRate is the fraction of reads counted toward the
	// hot-item ranking
	HotItemSampleRate float64
	// HotItemLimit is how many keys the maintenance pass keeps warm
	HotItemLimit int
}

// DefaultConfig returns the cache defaults
func DefaultConfig() *Config {
	return &Config{
		ProductTTL:        10 * time.Minute,
		StockTTL:          5 * time.Minute,
		RefreshFraction:   0.25,
		HotItemSampleRate: 0.1,
		HotItemLimit:      100,
	}
}

// Key builders. One namespace per aggregate kind.
func ProductKey(productID string) string { return "cache:product:" + productID }
func StockKey(productID string) string   { return "cache:stock:" + productID }
