package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fluxmart/core/internal/domain"
	"github.com/fluxmart/core/pkg/logger"
	"github.com/fluxmart/core/pkg/redisclient"
)

// Lua bodies. Every mutation compares the stored owner token so a
// holder whose lease lapsed cannot release or renew a lock someone else
// has since taken.
const (
	acquireScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 2
end
return 0`

	releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

	renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`
)

// ErrNotHeld reports a release or renew on a lock the caller no longer owns
var ErrNotHeld = fmt.Errorf("lock not held")

// RedisLocker is a lease-based distributed lock on a single Redis
// instance. Each acquisition stores an owner token under the key with a
// PX lease; a watchdog goroutine renews the lease at a third of its
// duration until the handle is released.
type RedisLocker struct {
	client *redisclient.Client
	config *Config
	log    *logger.Logger

	graph *waitGraph

	mu    sync.Mutex
	holds map[string]*redisHold // key -> live hold, for re-entrancy
}

type redisHold struct {
	count int
	owner string
}

// NewRedisLocker creates a Redis-backed locker
func NewRedisLocker(client *redisclient.Client, cfg *Config, log *logger.Logger) *RedisLocker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &RedisLocker{
		client: client,
		config: cfg,
		log:    log,
		graph:  newWaitGraph(),
		holds:  make(map[string]*redisHold),
	}
}

func lockKey(key string) string  { return "lock:" + key }
func queueKey(key string) string { return "lock:" + key + ":queue" }

// Acquire takes the lock with a fresh owner token
func (l *RedisLocker) Acquire(ctx context.Context, key string, wait, lease time.Duration) (Handle, error) {
	return l.AcquireAs(ctx, key, uuid.NewString(), wait, lease)
}

// AcquireAs takes the lock for an explicit owner. A second acquisition
// by the same owner succeeds immediately and bumps the hold count.
func (l *RedisLocker) AcquireAs(ctx context.Context, key, owner string, wait, lease time.Duration) (Handle, error) {
	if wait <= 0 {
		wait = l.config.DefaultWait
	}
	if lease <= 0 {
		lease = l.config.DefaultLease
	}

	// Re-entrant fast path
	l.mu.Lock()
	if h, ok := l.holds[key]; ok && h.owner == owner {
		h.count++
		l.mu.Unlock()
		return l.newHandle(key, owner, lease, false), nil
	}
	l.mu.Unlock()

	if !l.graph.addWait(owner, key) {
		return nil, fmt.Errorf("%w: %s waiting on %s", domain.ErrPotentialDeadlock, owner, key)
	}
	defer l.graph.removeWait(owner)

	if l.config.Fair {
		if err := l.enqueue(ctx, key, owner, wait); err != nil {
			return nil, err
		}
		defer l.dequeue(context.WithoutCancel(ctx), key, owner)
	}

	deadline := time.Now().Add(wait)
	script := l.client.Script("lock_acquire", acquireScript)

	for {
		if l.config.Fair {
			head, err := l.client.Client().LIndex(ctx, queueKey(key), 0).Result()
			if err != nil && err != redis.Nil {
				return nil, fmt.Errorf("lock queue check failed: %w", err)
			}
			if head != owner {
				if err := l.sleep(ctx, deadline, key); err != nil {
					return nil, err
				}
				continue
			}
		}

		res, err := script.Run(ctx, l.client.Client(), []string{lockKey(key)}, owner, lease.Milliseconds()).Int()
		if err != nil {
			return nil, fmt.Errorf("lock acquire failed: %w", err)
		}
		if res > 0 {
			break
		}
		if err := l.sleep(ctx, deadline, key); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	l.holds[key] = &redisHold{count: 1, owner: owner}
	l.mu.Unlock()
	l.graph.setHolder(key, owner)

	return l.newHandle(key, owner, lease, true), nil
}

func (l *RedisLocker) sleep(ctx context.Context, deadline time.Time, key string) error {
	if time.Now().After(deadline) {
		return fmt.Errorf("%w: %s", domain.ErrLockTimeout, key)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(l.config.RetryInterval):
		return nil
	}
}

// enqueue appends the owner to the per-key FIFO wait queue
func (l *RedisLocker) enqueue(ctx context.Context, key, owner string, wait time.Duration) error {
	pipe := l.client.Client().TxPipeline()
	pipe.RPush(ctx, queueKey(key), owner)
	pipe.PExpire(ctx, queueKey(key), wait+l.config.DefaultLease)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("lock queue join failed: %w", err)
	}
	return nil
}

func (l *RedisLocker) dequeue(ctx context.Context, key, owner string) {
	if err := l.client.Client().LRem(ctx, queueKey(key), 1, owner).Err(); err != nil {
		l.log.Warn("failed to leave lock queue", "key", key, "error", err)
	}
}

func (l *RedisLocker) newHandle(key, owner string, lease time.Duration, startWatchdog bool) *redisHandle {
	h := &redisHandle{
		locker: l,
		key:    key,
		owner:  owner,
		lease:  lease,
	}
	if startWatchdog {
		h.stopWatchdog = make(chan struct{})
		go h.watchdog()
	}
	return h
}

type redisHandle struct {
	locker *RedisLocker
	key    string
	owner  string

	mu           sync.Mutex
	lease        time.Duration
	released     bool
	stopWatchdog chan struct{}
}

func (h *redisHandle) Key() string   { return h.key }
func (h *redisHandle) Owner() string { return h.owner }

// Release drops one hold; the Redis key is deleted when the count hits
// zero. Releasing twice returns ErrNotHeld.
func (h *redisHandle) Release(ctx context.Context) error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotHeld, h.key)
	}
	h.released = true
	h.mu.Unlock()

	l := h.locker
	l.mu.Lock()
	hold, ok := l.holds[h.key]
	if !ok || hold.owner != h.owner {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotHeld, h.key)
	}
	hold.count--
	last := hold.count == 0
	if last {
		delete(l.holds, h.key)
	}
	l.mu.Unlock()

	if !last {
		return nil
	}

	if h.stopWatchdog != nil {
		close(h.stopWatchdog)
	}
	l.graph.clearHolder(h.key, h.owner)

	script := l.client.Script("lock_release", releaseScript)
	res, err := script.Run(ctx, l.client.Client(), []string{lockKey(h.key)}, h.owner).Int()
	if err != nil {
		return fmt.Errorf("lock release failed: %w", err)
	}
	if res == 0 {
		// Lease lapsed and someone else took the lock; correctness is
		// preserved by the compare, but the lapse is worth noticing.
		l.log.Warn("released lock was no longer held", "key", h.key)
		return fmt.Errorf("%w: %s", ErrNotHeld, h.key)
	}
	return nil
}

// Renew extends the lease from now
func (h *redisHandle) Renew(ctx context.Context, lease time.Duration) error {
	if lease <= 0 {
		lease = h.locker.config.DefaultLease
	}
	script := h.locker.client.Script("lock_renew", renewScript)
	res, err := script.Run(ctx, h.locker.client.Client(), []string{lockKey(h.key)}, h.owner, lease.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lock renew failed: %w", err)
	}
	if res == 0 {
		return fmt.Errorf("%w: %s", ErrNotHeld, h.key)
	}
	h.mu.Lock()
	h.lease = lease
	h.mu.Unlock()
	return nil
}

// watchdog renews the lease at a third of its duration so a holder
// doing slow work does not lose the lock mid-mutation.
func (h *redisHandle) watchdog() {
	for {
		h.mu.Lock()
		lease := h.lease
		h.mu.Unlock()

		select {
		case <-h.stopWatchdog:
			return
		case <-time.After(lease / 3):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := h.Renew(ctx, lease)
		cancel()
		if err != nil {
			h.locker.log.Warn("lock watchdog renew failed", "key", h.key, "error", err)
			return
		}
	}
}
