package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fluxmart/core/pkg/logger"
	"github.com/fluxmart/core/pkg/redisclient"
)

// InvalidationScope tells peers how much to evict
type InvalidationScope string

const (
	InvalidateSingle InvalidationScope = "SINGLE"
	InvalidateMulti  InvalidationScope = "MULTI"
	InvalidateAll    InvalidationScope = "ALL"
)

// InvalidationMessage is broadcast to every cache peer after a write
type InvalidationMessage struct {
	Scope InvalidationScope `json:"scope"`
	Keys  []string          `json:"keys,omitempty"`
}

// Broadcaster fans invalidation messages out to cache peers.
// Delivery is best-effort; a missed message only means a peer serves a
// stale read until its TTL lapses.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg InvalidationMessage) error
	Subscribe(ctx context.Context, handler func(InvalidationMessage)) error
	Close() error
}

const invalidationChannel = "cache:invalidation"

// RedisBroadcaster carries invalidation over a Redis pub/sub channel
type RedisBroadcaster struct {
	client *redisclient.Client
	log    *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewRedisBroadcaster creates a pub/sub invalidation broadcaster
func NewRedisBroadcaster(client *redisclient.Client, log *logger.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, log: log}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, msg InvalidationMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode invalidation: %w", err)
	}
	if err := b.client.Client().Publish(ctx, invalidationChannel, data).Err(); err != nil {
		return fmt.Errorf("broadcast invalidation: %w", err)
	}
	return nil
}

// Subscribe starts a goroutine delivering invalidation messages to the
// handler until the context is cancelled or Close is called.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, handler func(InvalidationMessage)) error {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	sub := b.client.Client().Subscribe(ctx, invalidationChannel)
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		return fmt.Errorf("subscribe invalidation: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg InvalidationMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.log.Warn("malformed invalidation message", "payload", m.Payload, "error", err)
					continue
				}
				handler(msg)
			}
		}
	}()
	return nil
}

func (b *RedisBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	return nil
}

// MemoryBroadcaster delivers invalidation messages in-process
type MemoryBroadcaster struct {
	mu       sync.Mutex
	handlers []func(InvalidationMessage)
}

// NewMemoryBroadcaster creates an in-process broadcaster
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{}
}

func (b *MemoryBroadcaster) Broadcast(_ context.Context, msg InvalidationMessage) error {
	b.mu.Lock()
	handlers := make([]func(InvalidationMessage), len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (b *MemoryBroadcaster) Subscribe(_ context.Context, handler func(InvalidationMessage)) error {
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBroadcaster) Close() error { return nil }
