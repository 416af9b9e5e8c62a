package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fluxmart/core/internal/domain"
	"github.com/fluxmart/core/pkg/logger"
	"github.com/fluxmart/core/pkg/redisclient"
)

// Reader admission and exit. KEYS[1] is the writer lock key, KEYS[2]
// the reader count key. Readers are refused while a writer holds the
// key; the count key carries a lease so crashed readers age out.
const (
	readAcquireScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("INCR", KEYS[2])
redis.call("PEXPIRE", KEYS[2], ARGV[1])
return 1`

	readReleaseScript = `
local n = tonumber(redis.call("GET", KEYS[2]) or "0")
if n <= 1 then
	redis.call("DEL", KEYS[2])
	return 0
end
return redis.call("DECR", KEYS[2])`

	readerCountScript = `
return tonumber(redis.call("GET", KEYS[1]) or "0")`
)

// RedisRWLocker grants shared/exclusive access per key. A writer first
// takes the exclusive writer key, which stops new readers, then waits
// for the reader count to drain to zero.
type RedisRWLocker struct {
	client *redisclient.Client
	config *Config
	log    *logger.Logger
	writer *RedisLocker
}

// NewRedisRWLocker creates a Redis-backed read/write locker
func NewRedisRWLocker(client *redisclient.Client, cfg *Config, log *logger.Logger) *RedisRWLocker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &RedisRWLocker{
		client: client,
		config: cfg,
		log:    log,
		writer: NewRedisLocker(client, cfg, log),
	}
}

func writerKey(key string) string  { return key + ":w" }
func readersKey(key string) string { return "lock:" + key + ":readers" }

// AcquireShared admits a reader unless a writer holds or is draining the key
func (l *RedisRWLocker) AcquireShared(ctx context.Context, key string, wait, lease time.Duration) (Handle, error) {
	if wait <= 0 {
		wait = l.config.DefaultWait
	}
	if lease <= 0 {
		lease = l.config.DefaultLease
	}

	deadline := time.Now().Add(wait)
	script := l.client.Script("rwlock_read_acquire", readAcquireScript)

	for {
		res, err := script.Run(ctx, l.client.Client(),
			[]string{lockKey(writerKey(key)), readersKey(key)}, lease.Milliseconds()).Int()
		if err != nil {
			return nil, fmt.Errorf("shared lock acquire failed: %w", err)
		}
		if res == 1 {
			return &sharedHandle{locker: l, key: key, owner: uuid.NewString()}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s (shared)", domain.ErrLockTimeout, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.config.RetryInterval):
		}
	}
}

// AcquireExclusive takes the writer key, then drains readers
func (l *RedisRWLocker) AcquireExclusive(ctx context.Context, key string, wait, lease time.Duration) (Handle, error) {
	if wait <= 0 {
		wait = l.config.DefaultWait
	}

	h, err := l.writer.Acquire(ctx, writerKey(key), wait, lease)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(wait)
	script := l.client.Script("rwlock_reader_count", readerCountScript)
	for {
		readers, err := script.Run(ctx, l.client.Client(), []string{readersKey(key)}).Int()
		if err == nil && readers == 0 {
			return h, nil
		}
		if err != nil {
			l.releaseQuietly(ctx, h)
			return nil, fmt.Errorf("reader drain check failed: %w", err)
		}
		if time.Now().After(deadline) {
			l.releaseQuietly(ctx, h)
			return nil, fmt.Errorf("%w: %s (exclusive, %d readers)", domain.ErrLockTimeout, key, readers)
		}
		select {
		case <-ctx.Done():
			l.releaseQuietly(ctx, h)
			return nil, ctx.Err()
		case <-time.After(l.config.RetryInterval):
		}
	}
}

func (l *RedisRWLocker) releaseQuietly(ctx context.Context, h Handle) {
	if err := h.Release(context.WithoutCancel(ctx)); err != nil {
		l.log.Warn("failed to back out writer lock", "key", h.Key(), "error", err)
	}
}

type sharedHandle struct {
	locker   *RedisRWLocker
	key      string
	owner    string
	released bool
}

func (h *sharedHandle) Key() string   { return h.key }
func (h *sharedHandle) Owner() string { return h.owner }

func (h *sharedHandle) Release(ctx context.Context) error {
	if h.released {
		return fmt.Errorf("%w: %s (shared)", ErrNotHeld, h.key)
	}
	h.released = true
	script := h.locker.client.Script("rwlock_read_release", readReleaseScript)
	if err := script.Run(ctx, h.locker.client.Client(),
		[]string{lockKey(writerKey(h.key)), readersKey(h.key)}).Err(); err != nil {
		return fmt.Errorf("shared lock release failed: %w", err)
	}
	return nil
}

// Renew extends the reader count key's lease
func (h *sharedHandle) Renew(ctx context.Context, lease time.Duration) error {
	if lease <= 0 {
		lease = h.locker.config.DefaultLease
	}
	ok, err := h.locker.client.Client().PExpire(ctx, readersKey(h.key), lease).Result()
	if err != nil {
		return fmt.Errorf("shared lock renew failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s (shared)", ErrNotHeld, h.key)
	}
	return nil
}
