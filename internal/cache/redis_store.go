package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluxmart/core/pkg/redisclient"
)

// setIfNewerScript stores the candidate entry only when its version is
// greater than or equal to the stored one. ARGV[1] is the candidate
// version, ARGV[2] the serialized entry, ARGV[3] the TTL in ms.
const setIfNewerScript = `
local cur = redis.call("GET", KEYS[1])
if cur then
	local decoded = cjson.decode(cur)
	if tonumber(decoded.version) > tonumber(ARGV[1]) then
		return 0
	end
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1`

// RedisStore is the shared cache tier
type RedisStore struct {
	client *redisclient.Client
}

// NewRedisStore creates a Redis-backed cache store
func NewRedisStore(client *redisclient.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.client.Client().Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("cache entry %s is corrupt: %w", key, err)
	}
	return &e, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := s.client.Client().Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetIfNewer(ctx context.Context, key string, entry *Entry, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("cache encode %s: %w", key, err)
	}
	script := s.client.Script("cache_set_if_newer", setIfNewerScript)
	res, err := script.Run(ctx, s.client.Client(), []string{key},
		entry.Version, data, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cache conditional set %s: %w", key, err)
	}
	return res == 1, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Client().Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Clear evicts the cache namespace with SCAN + DEL so other users of
// the Redis database (locks, queues) are untouched.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Client().Scan(ctx, 0, "cache:*", 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 200 {
			if err := s.Delete(ctx, batch...); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache clear scan: %w", err)
	}
	return s.Delete(ctx, batch...)
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.Client().PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache ttl %s: %w", key, err)
	}
	if ttl < 0 {
		return 0, ErrMiss
	}
	return ttl, nil
}

func (s *RedisStore) Touch(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := s.client.Client().PExpire(ctx, key, ttl).Result()
	if err != nil {
		return fmt.Errorf("cache touch %s: %w", key, err)
	}
	if !ok {
		return ErrMiss
	}
	return nil
}
