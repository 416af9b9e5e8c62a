package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fluxmart/core/internal/cache"
	"github.com/fluxmart/core/internal/config"
	"github.com/fluxmart/core/internal/event"
	"github.com/fluxmart/core/internal/handler"
	"github.com/fluxmart/core/internal/lock"
	"github.com/fluxmart/core/internal/repository"
	"github.com/fluxmart/core/internal/saga"
	"github.com/fluxmart/core/internal/service"
	"github.com/fluxmart/core/internal/worker"
	"github.com/fluxmart/core/pkg/database"
	"github.com/fluxmart/core/pkg/logger"
	"github.com/fluxmart/core/pkg/redisclient"
	"github.com/fluxmart/core/pkg/telemetry"
)

const serviceName = "inventory-service"

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := "info"
	if cfg.App.IsDevelopment() {
		level = "debug"
	}
	if err := logger.Init(&logger.Config{
		Level:       level,
		ServiceName: serviceName,
		Development: cfg.App.IsDevelopment(),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Get()

	log.Info("starting inventory service",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment)

	ctx := context.Background()

	tel, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	})
	if err != nil {
		log.Fatal("failed to init telemetry", "error", err)
	}

	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  5 * time.Second,
		MaxRetries:      5,
		RetryInterval:   2 * time.Second,
		EnableTracing:   cfg.OTel.Enabled,
	})
	if err != nil {
		log.Fatal("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	if err := repository.EnsureSchema(ctx, db.Pool()); err != nil {
		log.Fatal("failed to ensure schema", "error", err)
	}

	redis, err := redisclient.NewClient(ctx, &redisclient.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		MaxRetries:    3,
		RetryInterval: time.Second,
	})
	if err != nil {
		log.Fatal("failed to connect to redis", "error", err)
	}
	defer redis.Close()

	repos := repository.NewPostgresRepositories(db.Pool())
	uow := repository.NewPostgresUnitOfWork(db.Pool())

	cacheCfg := cache.DefaultConfig()
	cacheCfg.ProductTTL = cfg.Inventory.ProductCacheTTL
	cacheCfg.StockTTL = cfg.Inventory.StockCacheTTL
	cacheSvc := cache.NewService(
		cache.NewRedisStore(redis),
		cache.NewRedisBroadcaster(redis, log),
		cache.NewRedisHotTracker(redis, cacheCfg.HotItemSampleRate),
		cacheCfg,
		log,
	)
	if err := cacheSvc.Start(ctx); err != nil {
		log.Fatal("failed to start cache invalidation listener", "error", err)
	}

	locks := lock.NewRedisLocker(redis, &lock.Config{
		DefaultWait:   cfg.Inventory.LockWait,
		DefaultLease:  cfg.Inventory.LockLease,
		RetryInterval: 50 * time.Millisecond,
	}, log)

	publisher, err := event.NewKafkaPublisher(ctx, &event.PublisherConfig{
		Brokers:        cfg.Kafka.Brokers,
		ClientID:       cfg.Kafka.ClientID + "-" + serviceName,
		MaxRetries:     cfg.Events.PublisherRetryMax,
		RetryBase:      time.Second,
		PublishTimeout: 30 * time.Second,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to kafka", "error", err)
	}
	defer publisher.Close()

	invCfg := service.DefaultInventoryConfig()
	invCfg.ReservationTTL = cfg.Inventory.ReservationTTL
	invCfg.LockWait = cfg.Inventory.LockWait
	invCfg.LockLease = cfg.Inventory.LockLease
	invCfg.ProductTTL = cfg.Inventory.ProductCacheTTL
	invCfg.StockTTL = cfg.Inventory.StockCacheTTL
	inventory := service.NewInventoryService(repos, locks, cacheSvc, publisher, invCfg)

	sagaHandlers := saga.NewInventoryHandlers(uow, inventory, publisher)
	consumer, err := event.NewKafkaConsumer(ctx, &event.ConsumerConfig{
		Brokers:          cfg.Kafka.Brokers,
		GroupID:          saga.ConsumerGroupInventory,
		ClientID:         cfg.Kafka.ClientID + "-" + serviceName,
		Topics:           sagaHandlers.Topics(),
		MaxRetries:       cfg.Events.ConsumerRetryMax,
		RetryBase:        time.Second,
		SessionTimeout:   30 * time.Second,
		RebalanceTimeout: 60 * time.Second,
	}, sagaHandlers.Handle, log)
	if err != nil {
		log.Fatal("failed to create saga consumer", "error", err)
	}
	if err := consumer.Start(ctx); err != nil {
		log.Fatal("failed to start saga consumer", "error", err)
	}

	// The sweep is lock-guarded per product, so running the standalone
	// expirer binary alongside this one is safe.
	expirer := worker.NewReservationExpirer(repos.Products, inventory, publisher, &worker.ExpirerConfig{
		ScanInterval: cfg.Inventory.ExpirerInterval,
		BatchSize:    cfg.Inventory.ExpirerBatch,
	})
	if err := expirer.Start(ctx); err != nil {
		log.Fatal("failed to start reservation expirer", "error", err)
	}

	maintenance := worker.NewMaintenanceWorker(cacheSvc, repos.ProcessedEvents, &worker.MaintenanceConfig{
		Interval:           time.Minute,
		HotKeyTTL:          cfg.Inventory.ProductCacheTTL,
		ProcessedRetention: cfg.Events.ProcessedRetention,
	})
	if err := maintenance.Start(ctx); err != nil {
		log.Fatal("failed to start maintenance worker", "error", err)
	}

	router := handler.NewRouter(serviceName, nil, handler.NewInventoryHandler(inventory))

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down inventory service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}
	maintenance.Stop()
	expirer.Stop()
	if err := consumer.Stop(); err != nil {
		log.Error("saga consumer stop failed", "error", err)
	}
	if tel != nil {
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "error", err)
		}
	}

	log.Info("inventory service stopped")
}
