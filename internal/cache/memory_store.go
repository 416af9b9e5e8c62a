package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node runs
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
	ttl       time.Duration
}

// NewMemoryStore creates an in-process cache store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	me, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || time.Now().After(me.expiresAt) {
		return nil, ErrMiss
	}
	e := me.entry
	return &e, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, entry *Entry, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[key] = &memoryEntry{entry: *entry, expiresAt: time.Now().Add(ttl), ttl: ttl}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SetIfNewer(_ context.Context, key string, entry *Entry, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if me, ok := s.entries[key]; ok && !time.Now().After(me.expiresAt) && me.entry.Version > entry.Version {
		return false, nil
	}
	s.entries[key] = &memoryEntry{entry: *entry, expiresAt: time.Now().Add(ttl), ttl: ttl}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	me, ok := s.entries[key]
	if !ok {
		return 0, ErrMiss
	}
	remaining := time.Until(me.expiresAt)
	if remaining <= 0 {
		return 0, ErrMiss
	}
	return remaining, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.entries = make(map[string]*memoryEntry)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	me, ok := s.entries[key]
	if !ok || time.Now().After(me.expiresAt) {
		return ErrMiss
	}
	me.expiresAt = time.Now().Add(ttl)
	me.ttl = ttl
	return nil
}
