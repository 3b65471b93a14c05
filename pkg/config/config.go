package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/messmate/messmate/pkg/observability"
	"github.com/messmate/messmate/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration (postgres, redis, proof blob store)
	Storage storage.Config

	// Gateway configuration for payment reconciliation
	Gateway GatewayConfig

	// Billing configuration
	Billing BillingConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// GatewayConfig holds payment gateway settings
type GatewayConfig struct {
	// WebhookSecret is the shared secret used to verify gateway webhook
	// signatures. Required; webhooks are rejected without it.
	WebhookSecret string

	// OrderExpiry is how long a created payment order stays verifiable.
	OrderExpiry time.Duration

	// WebhookRateLimit caps webhook deliveries per minute per gateway.
	WebhookRateLimit int
}

// BillingConfig holds billing engine settings
type BillingConfig struct {
	// BillDueDays is how many days after generation a bill becomes due.
	BillDueDays int

	// DefaultCycleDays is the billing cycle length for messes that have
	// not configured their own.
	DefaultCycleDays int

	// DefaultMaxLeaveDays caps refundable leave days per cycle.
	DefaultMaxLeaveDays int

	// TrialCredits is the one-time free trial grant.
	TrialCredits int64

	// TrialDays is the free trial duration.
	TrialDays int

	// SlabSeedFile optionally points at a YAML file of credit slabs
	// loaded at startup when the slab table is empty.
	SlabSeedFile string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Gateway:       loadGatewayConfig(),
		Billing:       loadBillingConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("MESSMATE_HOST", "0.0.0.0"),
		Port:            getEnv("MESSMATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("MESSMATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("MESSMATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("MESSMATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("MESSMATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("MESSMATE_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if pgURL := getEnv("MESSMATE_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("MESSMATE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("MESSMATE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("MESSMATE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("MESSMATE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("MESSMATE_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("MESSMATE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if cacheEnabled := getEnv("MESSMATE_CACHE_ENABLED", ""); cacheEnabled != "" {
		cfg.CacheEnabled = strings.ToLower(cacheEnabled) == "true"
	}

	// Proof blob store (S3-compatible)
	if s3Endpoint := getEnv("MESSMATE_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("MESSMATE_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("MESSMATE_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("MESSMATE_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("MESSMATE_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("MESSMATE_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}

	return cfg
}

// loadGatewayConfig loads payment gateway configuration from environment
func loadGatewayConfig() GatewayConfig {
	return GatewayConfig{
		WebhookSecret:    getEnv("MESSMATE_GATEWAY_WEBHOOK_SECRET", ""),
		OrderExpiry:      getEnvDuration("MESSMATE_GATEWAY_ORDER_EXPIRY", 30*time.Minute),
		WebhookRateLimit: getEnvInt("MESSMATE_GATEWAY_WEBHOOK_RATE_LIMIT", 300),
	}
}

// loadBillingConfig loads billing engine configuration from environment
func loadBillingConfig() BillingConfig {
	return BillingConfig{
		BillDueDays:         getEnvInt("MESSMATE_BILL_DUE_DAYS", 7),
		DefaultCycleDays:    getEnvInt("MESSMATE_DEFAULT_CYCLE_DAYS", 30),
		DefaultMaxLeaveDays: getEnvInt("MESSMATE_DEFAULT_MAX_LEAVE_DAYS", 10),
		TrialCredits:        getEnvInt64("MESSMATE_TRIAL_CREDITS", 100),
		TrialDays:           getEnvInt("MESSMATE_TRIAL_DAYS", 14),
		SlabSeedFile:        getEnv("MESSMATE_SLAB_SEED_FILE", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("MESSMATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("MESSMATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("MESSMATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("MESSMATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("MESSMATE_OTEL_SERVICE_NAME", "messmate-billing"),
		OTelServiceVersion: getEnv("MESSMATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("MESSMATE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Gateway.WebhookSecret == "" {
		return fmt.Errorf("gateway webhook secret is required")
	}
	if c.Gateway.OrderExpiry <= 0 {
		return fmt.Errorf("gateway order expiry must be positive")
	}

	if c.Billing.BillDueDays <= 0 {
		return fmt.Errorf("bill due days must be positive")
	}
	if c.Billing.DefaultCycleDays <= 0 {
		return fmt.Errorf("default cycle days must be positive")
	}
	if c.Billing.TrialCredits < 0 {
		return fmt.Errorf("trial credits must not be negative")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
