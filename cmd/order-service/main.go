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

	"github.com/fluxmart/core/internal/config"
	"github.com/fluxmart/core/internal/event"
	"github.com/fluxmart/core/internal/gateway"
	"github.com/fluxmart/core/internal/handler"
	"github.com/fluxmart/core/internal/repository"
	"github.com/fluxmart/core/internal/saga"
	"github.com/fluxmart/core/internal/service"
	"github.com/fluxmart/core/pkg/database"
	"github.com/fluxmart/core/pkg/logger"
	"github.com/fluxmart/core/pkg/telemetry"
)

const serviceName = "order-service"

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

	log.Info("starting order service",
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

	repos := repository.NewPostgresRepositories(db.Pool())
	uow := repository.NewPostgresUnitOfWork(db.Pool())

	publisher, err := event.NewKafkaPublisher(ctx, &event.PublisherConfig{
		Brokers:        cfg.Kafka.Brokers,
		ClientID:       cfg.Kafka.ClientID + "-" + serviceName,
		MaxRetries:     cfg.Events.PublisherRetryMax,
		RetryBase:      time.Second,
		PublishTimeout: 30 * time.Second,
	}, log)
	if err != nil {
		// The saga cannot progress without the bus, so this is fatal
		// rather than a degraded start.
		log.Fatal("failed to connect to kafka", "error", err)
	}
	defer publisher.Close()

	payments, err := buildGateway(cfg, log)
	if err != nil {
		log.Fatal("failed to build payment gateway", "error", err)
	}

	ordCfg := service.DefaultOrderConfig()
	ordCfg.DuplicateWindow = cfg.Orders.DuplicateWindow
	ordCfg.CancellationWindow = cfg.Orders.CancellationWindow
	orders := service.NewOrderService(repos, publisher, payments, ordCfg)

	sagaHandlers := saga.NewOrderHandlers(uow, orders)
	consumer, err := event.NewKafkaConsumer(ctx, &event.ConsumerConfig{
		Brokers:          cfg.Kafka.Brokers,
		GroupID:          saga.ConsumerGroupOrders,
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

	router := handler.NewRouter(serviceName, handler.NewOrderHandler(orders), nil)

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

	log.Info("shutting down order service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}
	if err := consumer.Stop(); err != nil {
		log.Error("saga consumer stop failed", "error", err)
	}
	if tel != nil {
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "error", err)
		}
	}

	log.Info("order service stopped")
}

// buildGateway picks the payment backend. The mock keeps local and CI
// environments independent of the provider.
func buildGateway(cfg *config.Config, log *logger.Logger) (gateway.PaymentGateway, error) {
	if cfg.Payment.UseMock {
		log.Warn("using mock payment gateway")
		return gateway.NewMockGateway(gateway.DefaultMockGatewayConfig()), nil
	}
	return gateway.NewHTTPGateway(&gateway.HTTPGatewayConfig{
		BaseURL:   cfg.Payment.GatewayURL,
		APIKey:    cfg.Payment.APIKey,
		Timeout:   cfg.Payment.Timeout,
		Retries:   cfg.Payment.Retries,
		RetryWait: 200 * time.Millisecond,
		Breaker: &gateway.CircuitBreakerConfig{
			FailureThreshold: cfg.Payment.BreakerThreshold,
			OpenTimeout:      cfg.Payment.BreakerTimeout,
			SuccessThreshold: 2,
		},
	})
}
