package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxmart/core/internal/domain"
)

// MemoryLocker is an in-process Locker with the same semantics as the
// Redis implementation: leases, owner tokens, re-entrant holds and
// deadlock detection. Used in tests and single-node runs.
type MemoryLocker struct {
	config *Config
	graph  *waitGraph

	mu    sync.Mutex
	holds map[string]*memoryHold
}

type memoryHold struct {
	owner     string
	count     int
	expiresAt time.Time
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker(cfg *Config) *MemoryLocker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &MemoryLocker{
		config: cfg,
		graph:  newWaitGraph(),
		holds:  make(map[string]*memoryHold),
	}
}

// Acquire takes the lock with a fresh owner token
func (l *MemoryLocker) Acquire(ctx context.Context, key string, wait, lease time.Duration) (Handle, error) {
	return l.AcquireAs(ctx, key, uuid.NewString(), wait, lease)
}

// AcquireAs takes the lock for an explicit owner, re-entrantly
func (l *MemoryLocker) AcquireAs(ctx context.Context, key, owner string, wait, lease time.Duration) (Handle, error) {
	if wait <= 0 {
		wait = l.config.DefaultWait
	}
	if lease <= 0 {
		lease = l.config.DefaultLease
	}

	if l.tryTake(key, owner, lease) {
		return &memoryHandle{locker: l, key: key, owner: owner}, nil
	}

	if !l.graph.addWait(owner, key) {
		return nil, fmt.Errorf("%w: %s waiting on %s", domain.ErrPotentialDeadlock, owner, key)
	}
	defer l.graph.removeWait(owner)

	deadline := time.Now().Add(wait)
	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", domain.ErrLockTimeout, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.config.RetryInterval):
		}
		if l.tryTake(key, owner, lease) {
			return &memoryHandle{locker: l, key: key, owner: owner}, nil
		}
	}
}

// tryTake attempts a non-blocking acquisition, honoring re-entrancy and
// lapsed leases.
func (l *MemoryLocker) tryTake(key, owner string, lease time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	h, held := l.holds[key]
	if held && now.After(h.expiresAt) {
		l.graph.clearHolder(key, h.owner)
		delete(l.holds, key)
		held = false
	}

	switch {
	case !held:
		l.holds[key] = &memoryHold{owner: owner, count: 1, expiresAt: now.Add(lease)}
		l.graph.setHolder(key, owner)
		return true
	case h.owner == owner:
		h.count++
		h.expiresAt = now.Add(lease)
		return true
	default:
		return false
	}
}

type memoryHandle struct {
	locker   *MemoryLocker
	key      string
	owner    string
	mu       sync.Mutex
	released bool
}

func (h *memoryHandle) Key() string   { return h.key }
func (h *memoryHandle) Owner() string { return h.owner }

func (h *memoryHandle) Release(_ context.Context) error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotHeld, h.key)
	}
	h.released = true
	h.mu.Unlock()

	l := h.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	hold, ok := l.holds[h.key]
	if !ok || hold.owner != h.owner {
		return fmt.Errorf("%w: %s", ErrNotHeld, h.key)
	}
	hold.count--
	if hold.count == 0 {
		delete(l.holds, h.key)
		l.graph.clearHolder(h.key, h.owner)
	}
	return nil
}

func (h *memoryHandle) Renew(_ context.Context, lease time.Duration) error {
	if lease <= 0 {
		lease = h.locker.config.DefaultLease
	}
	l := h.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	hold, ok := l.holds[h.key]
	if !ok || hold.owner != h.owner {
		return fmt.Errorf("%w: %s", ErrNotHeld, h.key)
	}
	hold.expiresAt = time.Now().Add(lease)
	return nil
}
