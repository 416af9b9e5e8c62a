package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxmart/core/internal/cache"
	"github.com/fluxmart/core/internal/repository"
	"github.com/fluxmart/core/pkg/logger"
)

// MaintenanceConfig contains configuration for the maintenance worker
type MaintenanceConfig struct {
	// Interval is the tick between maintenance runs
	Interval time.Duration
	// HotKeyTTL is the TTL applied when refreshing hot cache keys
	HotKeyTTL time.Duration
	// ProcessedRetention is how long processed-event rows are kept
	ProcessedRetention time.Duration
}

// DefaultMaintenanceConfig returns default configuration
func DefaultMaintenanceConfig() *MaintenanceConfig {
	return &MaintenanceConfig{
		Interval:           time.Minute,
		HotKeyTTL:          10 * time.Minute,
		ProcessedRetention: 7 * 24 * time.Hour,
	}
}

// MaintenanceWorker runs periodic housekeeping: hot cache key refresh
// and trimming of the processed-event log.
type MaintenanceWorker struct {
	cache     *cache.Service
	processed repository.ProcessedEventRepository
	config    *MaintenanceConfig
	log       *logger.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

// NewMaintenanceWorker creates a new maintenance worker
func NewMaintenanceWorker(cacheSvc *cache.Service, processed repository.ProcessedEventRepository, config *MaintenanceConfig) *MaintenanceWorker {
	if config == nil {
		config = DefaultMaintenanceConfig()
	}
	return &MaintenanceWorker{
		cache:     cacheSvc,
		processed: processed,
		config:    config,
		log:       logger.Get().With("component", "maintenance"),
		stopCh:    make(chan struct{}),
	}
}

// Start starts the maintenance loop
func (w *MaintenanceWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("maintenance worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop stops the maintenance loop
func (w *MaintenanceWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
}

func (w *MaintenanceWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

func (w *MaintenanceWorker) run(ctx context.Context) {
	if w.cache != nil {
		if err := w.cache.MaintainHotKeys(ctx, w.config.HotKeyTTL); err != nil {
			w.log.Warn("hot key maintenance failed", "error", err)
		}
	}
	if w.processed != nil {
		cutoff := time.Now().UTC().Add(-w.config.ProcessedRetention)
		purged, err := w.processed.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			w.log.Warn("processed event purge failed", "error", err)
		} else if purged > 0 {
			w.log.Info("processed events purged", "count", purged)
		}
	}
}
