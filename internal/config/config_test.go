package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "fluxmart", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.Inventory.ReservationTTL)
	assert.Equal(t, 3*time.Second, cfg.Inventory.LockWait)
	assert.Equal(t, 10*time.Second, cfg.Inventory.LockLease)
	assert.Equal(t, 10*time.Minute, cfg.Inventory.ProductCacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.Inventory.StockCacheTTL)
	assert.Equal(t, time.Minute, cfg.Inventory.ExpirerInterval)
	assert.Equal(t, 5*time.Minute, cfg.Orders.DuplicateWindow)
	assert.Equal(t, 24*time.Hour, cfg.Orders.CancellationWindow)
	assert.Equal(t, 3, cfg.Events.PublisherRetryMax)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("RESERVATION_TTL", "2m")
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Inventory.ReservationTTL)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg.Server.Port = 8080
	cfg.Inventory.ReservationTTL = 0
	assert.Error(t, cfg.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	d := &DatabaseConfig{
		Host: "db", Port: 5432, User: "app", Password: "secret",
		DBName: "fluxmart", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 user=app password=secret dbname=fluxmart sslmode=disable", d.DSN())
}
