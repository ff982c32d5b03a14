// Package config loads circulum settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/felixgeelhaar/circulum/internal/billing/application"
	"github.com/felixgeelhaar/circulum/internal/billing/application/workers"
	"github.com/felixgeelhaar/circulum/internal/billing/infrastructure/gateway"
	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/database"
	webhooks "github.com/felixgeelhaar/circulum/internal/webhooks/application"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// Version is stamped by the build.
var Version = "dev"

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv        string `validate:"oneof=development production test staging"`
	LogLevel      string `validate:"oneof=debug info warn error"`
	LogFormat     string `validate:"oneof=text json"`
	EncryptionKey string

	// Database
	DatabaseURL      string
	DatabaseDriver   string `validate:"oneof=postgres sqlite"`
	SQLitePath       string
	LocalMode        bool
	DatabaseMaxConns int `validate:"min=1"`

	// Redis is optional; empty disables the redis health check.
	RedisURL string `validate:"omitempty,url"`

	// RabbitMQ is optional; empty disables the broker mirror.
	RabbitMQURL      string `validate:"omitempty,url"`
	RabbitMQExchange string `validate:"required"`

	// Payment processor
	BatchSize             int           `validate:"min=1"`
	RetryAttempts         int           `validate:"min=1"`
	RetryBaseDelay        time.Duration `validate:"gt=0"`
	RetryMaxDelay         time.Duration `validate:"gtefield=RetryBaseDelay"`
	GracePeriod           time.Duration `validate:"gte=1s"`
	CancellationThreshold int           `validate:"min=1"`
	SettleSpacing         time.Duration `validate:"gte=0"`
	SettlementTimeout     time.Duration `validate:"gt=0"`
	WriteRetries          int           `validate:"min=1"`
	WriteRetryDelay       time.Duration `validate:"gte=0"`

	// Scheduler
	SchedulerEnabled    bool
	CycleInterval       time.Duration `validate:"gt=0"`
	MaintenanceInterval time.Duration `validate:"gt=0"`

	// Webhooks
	EndpointDisableThreshold int           `validate:"min=1"`
	DrainInterval            time.Duration `validate:"gt=0"`
	DeliveryTimeout          time.Duration `validate:"gt=0"`
	MaxConcurrentDeliveries  int           `validate:"min=1"`
	QueueCapacity            int           `validate:"min=1"`
	SignatureTolerance       time.Duration `validate:"gt=0"`

	// Settlement gateway. An empty GatewayURL selects the in-process ledger.
	GatewayURL              string `validate:"omitempty,http_url"`
	GatewayToken            string
	LedgerDefaultBalance    int64 `validate:"gte=0"`
	BreakerMaxRequests      int   `validate:"min=1"`
	BreakerInterval         time.Duration
	BreakerTimeout          time.Duration `validate:"gt=0"`
	BreakerFailureThreshold int           `validate:"min=1"`

	// Listeners
	WorkerHealthAddr string `validate:"required"`
	APIAddr          string `validate:"required"`
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	proc := application.DefaultProcessorConfig()
	sched := workers.DefaultSchedulerConfig()
	bus := webhooks.DefaultBusConfig()
	breaker := gateway.DefaultBreakerConfig()

	databaseURL := getEnv("DATABASE_URL", "")
	localMode := getBoolEnv("CIRCULUM_LOCAL_MODE", databaseURL == "")
	driver := getEnv("DATABASE_DRIVER", "")
	switch {
	case localMode:
		driver = string(database.DriverSQLite)
	case driver == "" || driver == "auto":
		driver = string(database.DetectDriver(databaseURL))
	}

	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", "text")),
		EncryptionKey: getEnv("CIRCULUM_ENCRYPTION_KEY", ""),

		DatabaseURL:      databaseURL,
		DatabaseDriver:   driver,
		SQLitePath:       getEnv("SQLITE_PATH", defaultSQLitePath()),
		LocalMode:        localMode,
		DatabaseMaxConns: getIntEnv("DATABASE_MAX_CONNS", 10),

		RedisURL:         getEnv("REDIS_URL", ""),
		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "circulum.domain.events"),

		BatchSize:             getIntEnv("BILLING_BATCH_SIZE", proc.BatchSize),
		RetryAttempts:         getIntEnv("BILLING_RETRY_ATTEMPTS", proc.RetryAttempts),
		RetryBaseDelay:        getDurationEnv("BILLING_RETRY_BASE_DELAY", proc.RetryBaseDelay),
		RetryMaxDelay:         getDurationEnv("BILLING_RETRY_MAX_DELAY", proc.RetryMaxDelay),
		GracePeriod:           getDurationEnv("BILLING_GRACE_PERIOD", proc.GracePeriod),
		CancellationThreshold: getIntEnv("BILLING_CANCELLATION_THRESHOLD", proc.CancellationThreshold),
		SettleSpacing:         getDurationEnv("BILLING_SETTLE_SPACING", proc.SettleSpacing),
		SettlementTimeout:     getDurationEnv("BILLING_SETTLEMENT_TIMEOUT", proc.SettlementTimeout),
		WriteRetries:          getIntEnv("BILLING_WRITE_RETRIES", proc.WriteRetries),
		WriteRetryDelay:       getDurationEnv("BILLING_WRITE_RETRY_DELAY", proc.WriteRetryDelay),

		SchedulerEnabled:    getBoolEnv("SCHEDULER_ENABLED", true),
		CycleInterval:       getDurationEnv("SCHEDULER_CYCLE_INTERVAL", sched.CycleInterval),
		MaintenanceInterval: getDurationEnv("SCHEDULER_MAINTENANCE_INTERVAL", sched.MaintenanceInterval),

		EndpointDisableThreshold: getIntEnv("WEBHOOK_DISABLE_THRESHOLD", bus.DisableThreshold),
		DrainInterval:            getDurationEnv("WEBHOOK_DRAIN_INTERVAL", bus.DrainInterval),
		DeliveryTimeout:          getDurationEnv("WEBHOOK_DELIVERY_TIMEOUT", bus.DeliveryTimeout),
		MaxConcurrentDeliveries:  getIntEnv("WEBHOOK_MAX_CONCURRENT_DELIVERIES", bus.MaxConcurrentDeliveries),
		QueueCapacity:            getIntEnv("WEBHOOK_QUEUE_CAPACITY", bus.QueueCapacity),
		SignatureTolerance:       getDurationEnv("WEBHOOK_SIGNATURE_TOLERANCE", 300*time.Second),

		GatewayURL:              getEnv("GATEWAY_URL", ""),
		GatewayToken:            getEnv("GATEWAY_TOKEN", ""),
		LedgerDefaultBalance:    getInt64Env("LEDGER_DEFAULT_BALANCE", 1_000_000),
		BreakerMaxRequests:      getIntEnv("GATEWAY_BREAKER_MAX_REQUESTS", int(breaker.MaxRequests)),
		BreakerInterval:         getDurationEnv("GATEWAY_BREAKER_INTERVAL", breaker.Interval),
		BreakerTimeout:          getDurationEnv("GATEWAY_BREAKER_TIMEOUT", breaker.Timeout),
		BreakerFailureThreshold: getIntEnv("GATEWAY_BREAKER_FAILURE_THRESHOLD", int(breaker.FailureThreshold)),

		WorkerHealthAddr: getEnv("WORKER_HEALTH_ADDR", "0.0.0.0:8081"),
		APIAddr:          getEnv("API_ADDR", "0.0.0.0:8080"),
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field bounds and the component configs projected from them.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.ProcessorConfig().Validate(); err != nil {
		return err
	}
	if err := c.SchedulerConfig().Validate(); err != nil {
		return err
	}
	return c.BusConfig().Validate()
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// IsLocalMode reports whether the SQLite store is used.
func (c *Config) IsLocalMode() bool {
	return c.LocalMode
}

// DatabaseConfig projects the database settings.
func (c *Config) DatabaseConfig() database.Config {
	return database.Config{
		Driver:     database.Driver(c.DatabaseDriver),
		URL:        c.DatabaseURL,
		SQLitePath: c.SQLitePath,
		MaxConns:   c.DatabaseMaxConns,
	}
}

// ProcessorConfig projects the payment processor settings.
func (c *Config) ProcessorConfig() application.ProcessorConfig {
	return application.ProcessorConfig{
		BatchSize:             c.BatchSize,
		RetryAttempts:         c.RetryAttempts,
		RetryBaseDelay:        c.RetryBaseDelay,
		RetryMaxDelay:         c.RetryMaxDelay,
		GracePeriod:           c.GracePeriod,
		CancellationThreshold: c.CancellationThreshold,
		SettleSpacing:         c.SettleSpacing,
		SettlementTimeout:     c.SettlementTimeout,
		WriteRetries:          c.WriteRetries,
		WriteRetryDelay:       c.WriteRetryDelay,
	}
}

// SchedulerConfig projects the scheduler settings.
func (c *Config) SchedulerConfig() workers.SchedulerConfig {
	return workers.SchedulerConfig{
		CycleInterval:       c.CycleInterval,
		MaintenanceInterval: c.MaintenanceInterval,
	}
}

// BusConfig projects the event bus settings.
func (c *Config) BusConfig() webhooks.BusConfig {
	return webhooks.BusConfig{
		QueueCapacity:           c.QueueCapacity,
		MaxConcurrentDeliveries: c.MaxConcurrentDeliveries,
		DrainInterval:           c.DrainInterval,
		DisableThreshold:        c.EndpointDisableThreshold,
		DeliveryTimeout:         c.DeliveryTimeout,
	}
}

// GatewayConfig selects and tunes the settlement gateway.
type GatewayConfig struct {
	// URL of the ledger service; empty selects the in-process ledger.
	URL            string
	Token          string
	DefaultBalance int64
	Breaker        gateway.BreakerConfig
}

// UsesLedger reports whether the in-process ledger is selected.
func (g GatewayConfig) UsesLedger() bool {
	return g.URL == ""
}

// GatewayConfig projects the settlement gateway settings.
func (c *Config) GatewayConfig() GatewayConfig {
	return GatewayConfig{
		URL:            c.GatewayURL,
		Token:          c.GatewayToken,
		DefaultBalance: c.LedgerDefaultBalance,
		Breaker: gateway.BreakerConfig{
			MaxRequests:      uint32(c.BreakerMaxRequests),
			Interval:         c.BreakerInterval,
			Timeout:          c.BreakerTimeout,
			FailureThreshold: uint32(c.BreakerFailureThreshold),
		},
	}
}

// LogConfig projects the logging settings. Production forces JSON on stdout.
func (c *Config) LogConfig() observability.LogConfig {
	lc := observability.DefaultLogConfig()
	if c.IsProduction() {
		lc = observability.ProductionLogConfig()
	}
	lc.Level = observability.LogLevel(c.LogLevel)
	if c.LogFormat == string(observability.LogFormatJSON) {
		lc.Format = observability.LogFormatJSON
	}
	lc.ServiceVersion = Version
	return lc
}

// LoggerFromConfig builds the process logger.
func LoggerFromConfig(c *Config) *slog.Logger {
	return observability.NewLogger(c.LogConfig())
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".circulum", "circulum.db")
	}
	return filepath.Join(home, ".circulum", "circulum.db")
}
