package lock

import (
	"context"
	"time"
)

// Handle is a held lock. Release and Renew act on the exact acquisition
// that produced the handle; a handle whose lease lapsed returns
// ErrNotHeld from both.
type Handle interface {
	// Key is the resource the lock guards
	Key() string
	// Owner is the token identifying this holder
	Owner() string
	// Release drops one hold. The lock is freed when the re-entrant
	// hold count reaches zero.
	Release(ctx context.Context) error
	// Renew extends the lease from now
	Renew(ctx context.Context, lease time.Duration) error
}

// Locker hands out exclusive per-key locks. Acquire blocks up to wait
// for the lock and holds it for lease unless renewed or released.
type Locker interface {
	Acquire(ctx context.Context, key string, wait, lease time.Duration) (Handle, error)

	// AcquireAs acquires with an explicit owner token. Re-acquiring a
	// key already held by the same owner increments the hold count
	// instead of blocking.
	AcquireAs(ctx context.Context, key, owner string, wait, lease time.Duration) (Handle, error)
}

// RWLocker hands out shared/exclusive per-key locks. Readers exclude
// writers and writers exclude everyone.
type RWLocker interface {
	AcquireShared(ctx context.Context, key string, wait, lease time.Duration) (Handle, error)
	AcquireExclusive(ctx context.Context, key string, wait, lease time.Duration) (Handle, error)
}

// Config carries the lock service defaults
type Config struct {
	DefaultWait  time.Duration
	DefaultLease time.Duration
	// Fair makes waiters queue FIFO instead of racing on expiry
	Fair bool
	// RetryInterval is the poll interval while waiting
	RetryInterval time.Duration
}

// DefaultConfig returns the lock service defaults
func DefaultConfig() *Config {
	return &Config{
		DefaultWait:   3 * time.Second,
		DefaultLease:  10 * time.Second,
		Fair:          false,
		RetryInterval: 25 * time.Millisecond,
	}
}
