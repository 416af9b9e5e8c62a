package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluxmart/core/internal/config"
	"github.com/fluxmart/core/internal/event"
	"github.com/fluxmart/core/internal/lock"
	"github.com/fluxmart/core/internal/repository"
	"github.com/fluxmart/core/internal/service"
	"github.com/fluxmart/core/internal/worker"
	"github.com/fluxmart/core/pkg/database"
	"github.com/fluxmart/core/pkg/logger"
	"github.com/fluxmart/core/pkg/redisclient"
)

const serviceName = "reservation-expirer"

func main() {
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

	log.Info("starting reservation expirer",
		"version", cfg.App.Version,
		"scan_interval", cfg.Inventory.ExpirerInterval)

	ctx := context.Background()

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
	})
	if err != nil {
		log.Fatal("failed to connect to postgres", "error", err)
	}
	defer db.Close()

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

	repos := repository.NewPostgresRepositories(db.Pool())

	// The sweep takes the same per-product lock as the request path, so
	// the expirer never races an in-flight reservation.
	locks := lock.NewRedisLocker(redis, &lock.Config{
		DefaultWait:   cfg.Inventory.LockWait,
		DefaultLease:  cfg.Inventory.LockLease,
		RetryInterval: 50 * time.Millisecond,
	}, log)

	invCfg := service.DefaultInventoryConfig()
	invCfg.ReservationTTL = cfg.Inventory.ReservationTTL
	invCfg.LockWait = cfg.Inventory.LockWait
	invCfg.LockLease = cfg.Inventory.LockLease
	inventory := service.NewInventoryService(repos, locks, nil, publisher, invCfg)

	expirer := worker.NewReservationExpirer(repos.Products, inventory, publisher, &worker.ExpirerConfig{
		ScanInterval: cfg.Inventory.ExpirerInterval,
		BatchSize:    cfg.Inventory.ExpirerBatch,
	})
	if err := expirer.Start(ctx); err != nil {
		log.Fatal("failed to start expirer", "error", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down reservation expirer")
	expirer.Stop()

	stats := expirer.Stats()
	log.Info("reservation expirer stopped", "total_expired", stats.TotalExpired)
}
