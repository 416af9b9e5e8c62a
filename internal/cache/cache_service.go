package cache

import (
	"context"
	"sync"
	"time"

	"github.com/fluxmart/core/pkg/logger"
)

// Loader fetches the authoritative value and its aggregate version
type Loader func(ctx context.Context) (value []byte, version int64, err error)

// Service is the cache facade the services talk to. It layers
// read-through with async refresh, write-through with version guards,
// peer invalidation and hot-item tracking over a Store. Every cache
// failure degrades to the authoritative path; none is surfaced to the
// caller as a request failure.
type Service struct {
	store       Store
	broadcaster Broadcaster
	hot         HotTracker
	config      *Config
	log         *logger.Logger

	refreshing sync.Map // key -> struct{}, dedups in-flight refreshes
}

// NewService assembles the cache facade
func NewService(store Store, broadcaster Broadcaster, hot HotTracker, cfg *Config, log *logger.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Service{
		store:       store,
		broadcaster: broadcaster,
		hot:         hot,
		config:      cfg,
		log:         log,
	}
}

// Start subscribes to peer invalidations and evicts locally
func (s *Service) Start(ctx context.Context) error {
	return s.broadcaster.Subscribe(ctx, func(msg InvalidationMessage) {
		evictCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var err error
		switch msg.Scope {
		case InvalidateAll:
			err = s.store.Clear(evictCtx)
		case InvalidateSingle, InvalidateMulti:
			err = s.store.Delete(evictCtx, msg.Keys...)
		default:
			s.log.Warn("unknown invalidation scope", "scope", msg.Scope)
			return
		}
		if err != nil {
			s.log.Warn("cache eviction failed", "scope", msg.Scope, "error", err)
		}
	})
}

// GetOrLoad returns the cached value for key, falling back to the
// loader on a miss. A hit whose remaining TTL fell below the refresh
// fraction triggers a background reload so hot keys never expire on the
// request path.
func (s *Service) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load Loader) ([]byte, error) {
	entry, err := s.store.Get(ctx, key)
	if err == nil {
		s.trackHot(ctx, key)
		if load != nil && s.shouldRefresh(ctx, key, ttl) {
			s.refreshAsync(key, ttl, load)
		}
		return entry.Value, nil
	}
	if err != ErrMiss {
		s.log.Warn("cache read failed, falling through", "key", key, "error", err)
	}

	value, version, err := load(ctx)
	if err != nil {
		return nil, err
	}
	s.put(ctx, key, value, version, ttl)
	return value, nil
}

// WriteThrough stores a freshly persisted value and tells peers to
// evict theirs. Called after the database commit, so losing the cache
// write only costs a reload.
func (s *Service) WriteThrough(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) {
	s.put(ctx, key, value, version, ttl)
	s.Invalidate(ctx, InvalidateSingle, key)
}

// Invalidate broadcasts an eviction to every peer
func (s *Service) Invalidate(ctx context.Context, scope InvalidationScope, keys ...string) {
	if err := s.broadcaster.Broadcast(ctx, InvalidationMessage{Scope: scope, Keys: keys}); err != nil {
		s.log.Warn("invalidation broadcast failed", "keys", keys, "error", err)
	}
}

// Evict drops keys from the local store and broadcasts to peers
func (s *Service) Evict(ctx context.Context, keys ...string) {
	if err := s.store.Delete(ctx, keys...); err != nil {
		s.log.Warn("cache eviction failed", "keys", keys, "error", err)
	}
	scope := InvalidateSingle
	if len(keys) > 1 {
		scope = InvalidateMulti
	}
	s.Invalidate(ctx, scope, keys...)
}

// MaintainHotKeys extends the TTL of the current hot set. Run
// periodically by the cache maintenance job.
func (s *Service) MaintainHotKeys(ctx context.Context, ttl time.Duration) error {
	keys, err := s.hot.Top(ctx, s.config.HotItemLimit)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.store.Touch(ctx, key, ttl); err != nil && err != ErrMiss {
			s.log.Warn("hot key touch failed", "key", key, "error", err)
		}
	}
	return nil
}

// WarmKeys preloads the given keys at boot using the loader factory
func (s *Service) WarmKeys(ctx context.Context, keys []string, ttl time.Duration, loaderFor func(key string) Loader) {
	for _, key := range keys {
		load := loaderFor(key)
		if load == nil {
			continue
		}
		value, version, err := load(ctx)
		if err != nil {
			s.log.Warn("cache warm failed", "key", key, "error", err)
			continue
		}
		s.put(ctx, key, value, version, ttl)
	}
}

// HotKeys returns the current hot set
func (s *Service) HotKeys(ctx context.Context, n int) ([]string, error) {
	return s.hot.Top(ctx, n)
}

func (s *Service) put(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) {
	entry := &Entry{Value: value, Version: version, StoredAt: time.Now().UTC()}
	stored, err := s.store.SetIfNewer(ctx, key, entry, ttl)
	if err != nil {
		s.log.Warn("cache write failed", "key", key, "error", err)
		return
	}
	if !stored {
		s.log.Debug("cache write lost to newer version", "key", key, "version", version)
	}
}

func (s *Service) trackHot(ctx context.Context, key string) {
	if s.hot == nil {
		return
	}
	if err := s.hot.Track(ctx, key); err != nil {
		s.log.Debug("hot item tracking failed", "key", key, "error", err)
	}
}

func (s *Service) shouldRefresh(ctx context.Context, key string, ttl time.Duration) bool {
	remaining, err := s.store.TTL(ctx, key)
	if err != nil {
		return false
	}
	return float64(remaining) < float64(ttl)*s.config.RefreshFraction
}

func (s *Service) refreshAsync(key string, ttl time.Duration, load Loader) {
	if _, inFlight := s.refreshing.LoadOrStore(key, struct{}{}); inFlight {
		return
	}
	go func() {
		defer s.refreshing.Delete(key)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		value, version, err := load(ctx)
		if err != nil {
			s.log.Warn("async cache refresh failed", "key", key, "error", err)
			return
		}
		s.put(ctx, key, value, version, ttl)
	}()
}
