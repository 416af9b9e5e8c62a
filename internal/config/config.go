package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	OTel      OTelConfig      `mapstructure:"otel"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Orders    OrdersConfig    `mapstructure:"orders"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Events    EventsConfig    `mapstructure:"events"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Version     string `mapstructure:"version"`
}

// IsDevelopment reports whether the app runs in development mode
func (a *AppConfig) IsDevelopment() bool { return a.Environment == "development" }

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// Addr returns the listen address
func (s *ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	ClientID      string   `mapstructure:"client_id"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// InventoryConfig holds inventory-side tuning
type InventoryConfig struct {
	ReservationTTL  time.Duration `mapstructure:"reservation_ttl"`
	LockWait        time.Duration `mapstructure:"lock_wait"`
	LockLease       time.Duration `mapstructure:"lock_lease"`
	ProductCacheTTL time.Duration `mapstructure:"product_cache_ttl"`
	StockCacheTTL   time.Duration `mapstructure:"stock_cache_ttl"`
	ExpirerInterval time.Duration `mapstructure:"expirer_interval"`
	ExpirerBatch    int           `mapstructure:"expirer_batch"`
}

// OrdersConfig holds order-side tuning
type OrdersConfig struct {
	DuplicateWindow    time.Duration `mapstructure:"duplicate_window"`
	CancellationWindow time.Duration `mapstructure:"cancellation_window"`
}

// PaymentConfig holds payment gateway settings
type PaymentConfig struct {
	GatewayURL       string        `mapstructure:"gateway_url"`
	APIKey           string        `mapstructure:"api_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Retries          int           `mapstructure:"retries"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
	// UseMock swaps the HTTP gateway for the in-process mock
	UseMock bool `mapstructure:"use_mock"`
}

// EventsConfig holds publisher and consumer retry tuning
type EventsConfig struct {
	PublisherRetryMax  int           `mapstructure:"publisher_retry_max"`
	ConsumerRetryMax   int           `mapstructure:"consumer_retry_max"`
	ProcessedRetention time.Duration `mapstructure:"processed_retention"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// Missing .env is fine, environment variables still apply
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "fluxmart")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_VERSION", "1.0.0")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "5s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "fluxmart")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_CONNS", 100)
	v.SetDefault("DATABASE_MIN_CONNS", 10)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "fluxmart")
	v.SetDefault("KAFKA_CLIENT_ID", "fluxmart")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "fluxmart")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Inventory defaults
	v.SetDefault("RESERVATION_TTL", "30m")
	v.SetDefault("LOCK_DEFAULT_WAIT", "3s")
	v.SetDefault("LOCK_DEFAULT_LEASE", "10s")
	v.SetDefault("CACHE_PRODUCT_TTL", "10m")
	v.SetDefault("CACHE_STOCK_TTL", "5m")
	v.SetDefault("EXPIRER_INTERVAL", "60s")
	v.SetDefault("EXPIRER_BATCH", 100)

	// Order defaults
	v.SetDefault("ORDER_DUPLICATE_WINDOW", "5m")
	v.SetDefault("ORDER_CANCELLATION_WINDOW", "24h")

	// Payment defaults
	v.SetDefault("PAYMENT_GATEWAY_URL", "http://localhost:9090")
	v.SetDefault("PAYMENT_API_KEY", "")
	v.SetDefault("PAYMENT_TIMEOUT", "10s")
	v.SetDefault("PAYMENT_RETRIES", 2)
	v.SetDefault("PAYMENT_BREAKER_THRESHOLD", 5)
	v.SetDefault("PAYMENT_BREAKER_TIMEOUT", "30s")
	v.SetDefault("PAYMENT_USE_MOCK", true)

	// Event defaults
	v.SetDefault("PUBLISHER_RETRY_MAX", 3)
	v.SetDefault("CONSUMER_RETRY_MAX", 3)
	v.SetDefault("PROCESSED_RETENTION", "168h")
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Version = v.GetString("APP_VERSION")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxConns = v.GetInt("DATABASE_MAX_CONNS")
	cfg.Database.MinConns = v.GetInt("DATABASE_MIN_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Brokers = strings.Split(v.GetString("KAFKA_BROKERS"), ",")
	cfg.Kafka.ConsumerGroup = v.GetString("KAFKA_CONSUMER_GROUP")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Inventory
	cfg.Inventory.ReservationTTL = v.GetDuration("RESERVATION_TTL")
	cfg.Inventory.LockWait = v.GetDuration("LOCK_DEFAULT_WAIT")
	cfg.Inventory.LockLease = v.GetDuration("LOCK_DEFAULT_LEASE")
	cfg.Inventory.ProductCacheTTL = v.GetDuration("CACHE_PRODUCT_TTL")
	cfg.Inventory.StockCacheTTL = v.GetDuration("CACHE_STOCK_TTL")
	cfg.Inventory.ExpirerInterval = v.GetDuration("EXPIRER_INTERVAL")
	cfg.Inventory.ExpirerBatch = v.GetInt("EXPIRER_BATCH")

	// Orders
	cfg.Orders.DuplicateWindow = v.GetDuration("ORDER_DUPLICATE_WINDOW")
	cfg.Orders.CancellationWindow = v.GetDuration("ORDER_CANCELLATION_WINDOW")

	// Payment
	cfg.Payment.GatewayURL = v.GetString("PAYMENT_GATEWAY_URL")
	cfg.Payment.APIKey = v.GetString("PAYMENT_API_KEY")
	cfg.Payment.Timeout = v.GetDuration("PAYMENT_TIMEOUT")
	cfg.Payment.Retries = v.GetInt("PAYMENT_RETRIES")
	cfg.Payment.BreakerThreshold = v.GetInt("PAYMENT_BREAKER_THRESHOLD")
	cfg.Payment.BreakerTimeout = v.GetDuration("PAYMENT_BREAKER_TIMEOUT")
	cfg.Payment.UseMock = v.GetBool("PAYMENT_USE_MOCK")

	// Events
	cfg.Events.PublisherRetryMax = v.GetInt("PUBLISHER_RETRY_MAX")
	cfg.Events.ConsumerRetryMax = v.GetInt("CONSUMER_RETRY_MAX")
	cfg.Events.ProcessedRetention = v.GetDuration("PROCESSED_RETENTION")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Inventory.ReservationTTL <= 0 {
		return fmt.Errorf("reservation ttl must be positive")
	}
	if c.Orders.CancellationWindow <= 0 {
		return fmt.Errorf("cancellation window must be positive")
	}
	if !c.Payment.UseMock && c.Payment.APIKey == "" && c.App.Environment == "production" {
		return fmt.Errorf("payment api key is required in production")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker is required")
	}
	return nil
}
