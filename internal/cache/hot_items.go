package cache

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/fluxmart/core/pkg/redisclient"
)

// HotTracker ranks the most-read cache keys so the maintenance job can
// keep them warm. Reads are sampled; the ranking is approximate.
type HotTracker interface {
	// Track samples one read of key
	Track(ctx context.Context, key string) error
	// Top returns up to n keys by descending read count
	Top(ctx context.Context, n int) ([]string, error)
	// Reset clears the ranking window
	Reset(ctx context.Context) error
}

const hotItemsKey = "cache:hot_items"

// RedisHotTracker keeps the ranking in a shared sorted set
type RedisHotTracker struct {
	client     *redisclient.Client
	sampleRate float64
}

// NewRedisHotTracker creates a sorted-set hot tracker
func NewRedisHotTracker(client *redisclient.Client, sampleRate float64) *RedisHotTracker {
	return &RedisHotTracker{client: client, sampleRate: sampleRate}
}

func (t *RedisHotTracker) Track(ctx context.Context, key string) error {
	if rand.Float64() >= t.sampleRate {
		return nil
	}
	if err := t.client.Client().ZIncrBy(ctx, hotItemsKey, 1, key).Err(); err != nil {
		return fmt.Errorf("hot item track %s: %w", key, err)
	}
	return nil
}

func (t *RedisHotTracker) Top(ctx context.Context, n int) ([]string, error) {
	keys, err := t.client.Client().ZRevRange(ctx, hotItemsKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("hot item ranking: %w", err)
	}
	return keys, nil
}

func (t *RedisHotTracker) Reset(ctx context.Context) error {
	if err := t.client.Client().Del(ctx, hotItemsKey).Err(); err != nil {
		return fmt.Errorf("hot item reset: %w", err)
	}
	return nil
}

// MemoryHotTracker is the in-process variant. It counts every read;
// tests do not want sampling noise.
type MemoryHotTracker struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryHotTracker creates an in-process hot tracker
func NewMemoryHotTracker() *MemoryHotTracker {
	return &MemoryHotTracker{counts: make(map[string]int64)}
}

func (t *MemoryHotTracker) Track(_ context.Context, key string) error {
	t.mu.Lock()
	t.counts[key]++
	t.mu.Unlock()
	return nil
}

func (t *MemoryHotTracker) Top(_ context.Context, n int) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.counts))
	for k := range t.counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if t.counts[keys[i]] != t.counts[keys[j]] {
			return t.counts[keys[i]] > t.counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys, nil
}

func (t *MemoryHotTracker) Reset(_ context.Context) error {
	t.mu.Lock()
	t.counts = make(map[string]int64)
	t.mu.Unlock()
	return nil
}
