package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Logging   LoggingConfig   `json:"logging"`
	Ledger    LedgerConfig    `json:"ledger"`
	Breaker   BreakerConfig   `json:"breaker"`
	Batching  BatchingConfig  `json:"batching"`
	Recovery  RecoveryConfig  `json:"recovery"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Tracing   TracingConfig   `json:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// LedgerConfig contains audit ledger configuration
type LedgerConfig struct {
	RingCapacity       int           `json:"ring_capacity"`
	SigningSecret      string        `json:"signing_secret"`
	HighValueThreshold float64       `json:"high_value_threshold"`
	RapidWindow        time.Duration `json:"rapid_window"`
	DailyLimit         float64       `json:"daily_limit"`
	ReportTokenTTL     time.Duration `json:"report_token_ttl"`
}

// BreakerConfig contains circuit breaker defaults
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	OperationTimeout time.Duration `json:"operation_timeout"`
	StateTTL         time.Duration `json:"state_ttl"`
}

// BatchingConfig contains batching engine configuration
type BatchingConfig struct {
	MinBatchSize       int           `json:"min_batch_size"`
	MaxBatchSize       int           `json:"max_batch_size"`
	TargetProcessing   time.Duration `json:"target_processing"`
	MaxFinancialValue  float64       `json:"max_financial_value"`
	MemoryFraction     float64       `json:"memory_fraction"`
	TuneEvery          int           `json:"tune_every"`
	MetricsWindow      int           `json:"metrics_window"`
	DeadLetterSample   int           `json:"dead_letter_sample"`
	AbortErrorFraction float64       `json:"abort_error_fraction"`
}

// RecoveryConfig contains job health and recovery configuration
type RecoveryConfig struct {
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	MaxFailureRate      float64       `json:"max_failure_rate"`
	MaxProcessingTime   time.Duration `json:"max_processing_time"`
	MinDataIntegrity    float64       `json:"min_data_integrity"`
	StalledAfter        time.Duration `json:"stalled_after"`
	AutoExecuteDelay    time.Duration `json:"auto_execute_delay"`
	RiskFloor           int           `json:"risk_floor"`
}

// TelemetryConfig contains metrics sink configuration
type TelemetryConfig struct {
	Namespace       string        `json:"namespace"`
	CollectInterval time.Duration `json:"collect_interval"`
	SnapshotTTL     time.Duration `json:"snapshot_ttl"`
}

// TracingConfig contains distributed tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "flowledger"),
			User:            getEnvString("DB_USER", "flowledger"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Ledger: LedgerConfig{
			RingCapacity:       getEnvInt("LEDGER_RING_CAPACITY", 10000),
			SigningSecret:      getEnvString("LEDGER_SIGNING_SECRET", ""),
			HighValueThreshold: getEnvFloat("LEDGER_HIGH_VALUE_THRESHOLD", 10000),
			RapidWindow:        getEnvDuration("LEDGER_RAPID_WINDOW", 60*time.Second),
			DailyLimit:         getEnvFloat("LEDGER_DAILY_LIMIT", 50000),
			ReportTokenTTL:     getEnvDuration("LEDGER_REPORT_TOKEN_TTL", 30*24*time.Hour),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			SuccessThreshold: getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2),
			RecoveryTimeout:  getEnvDuration("BREAKER_RECOVERY_TIMEOUT", 60*time.Second),
			OperationTimeout: getEnvDuration("BREAKER_OPERATION_TIMEOUT", 30*time.Second),
			StateTTL:         getEnvDuration("BREAKER_STATE_TTL", 24*time.Hour),
		},
		Batching: BatchingConfig{
			MinBatchSize:       getEnvInt("BATCH_MIN_SIZE", 10),
			MaxBatchSize:       getEnvInt("BATCH_MAX_SIZE", 50000),
			TargetProcessing:   getEnvDuration("BATCH_TARGET_PROCESSING", 30*time.Second),
			MaxFinancialValue:  getEnvFloat("BATCH_MAX_FINANCIAL_VALUE", 10000000),
			MemoryFraction:     getEnvFloat("BATCH_MEMORY_FRACTION", 0.25),
			TuneEvery:          getEnvInt("BATCH_TUNE_EVERY", 5),
			MetricsWindow:      getEnvInt("BATCH_METRICS_WINDOW", 100),
			DeadLetterSample:   getEnvInt("BATCH_DEAD_LETTER_SAMPLE", 10),
			AbortErrorFraction: getEnvFloat("BATCH_ABORT_ERROR_FRACTION", 0.10),
		},
		Recovery: RecoveryConfig{
			HealthCheckInterval: getEnvDuration("RECOVERY_HEALTH_CHECK_INTERVAL", 30*time.Second),
			MaxFailureRate:      getEnvFloat("RECOVERY_MAX_FAILURE_RATE", 0.05),
			MaxProcessingTime:   getEnvDuration("RECOVERY_MAX_PROCESSING_TIME", 30*time.Minute),
			MinDataIntegrity:    getEnvFloat("RECOVERY_MIN_DATA_INTEGRITY", 0.95),
			StalledAfter:        getEnvDuration("RECOVERY_STALLED_AFTER", time.Hour),
			AutoExecuteDelay:    getEnvDuration("RECOVERY_AUTO_EXECUTE_DELAY", 5*time.Second),
			RiskFloor:           getEnvInt("RECOVERY_RISK_FLOOR", 25),
		},
		Telemetry: TelemetryConfig{
			Namespace:       getEnvString("TELEMETRY_NAMESPACE", "flowledger"),
			CollectInterval: getEnvDuration("TELEMETRY_COLLECT_INTERVAL", 30*time.Second),
			SnapshotTTL:     getEnvDuration("TELEMETRY_SNAPSHOT_TTL", 60*time.Second),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRate:     getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Ledger.SigningSecret == "" {
		return fmt.Errorf("ledger signing secret is required")
	}

	if c.Ledger.RingCapacity <= 0 {
		return fmt.Errorf("ledger ring capacity must be positive")
	}

	if c.Breaker.FailureThreshold <= 0 || c.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("breaker thresholds must be positive")
	}

	if c.Batching.MinBatchSize <= 0 || c.Batching.MinBatchSize > c.Batching.MaxBatchSize {
		return fmt.Errorf("batch size bounds are invalid")
	}

	if c.Batching.MaxFinancialValue <= 0 {
		return fmt.Errorf("batch financial value ceiling must be positive")
	}

	if c.Recovery.MaxFailureRate <= 0 || c.Recovery.MaxFailureRate >= 1 {
		return fmt.Errorf("recovery max failure rate must be between 0 and 1")
	}

	return nil
}

// DatabaseURL returns the database connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisURL returns the Redis connection URL
func (c *Config) RedisURL() string {
	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d",
			c.Redis.Password,
			c.Redis.Host,
			c.Redis.Port,
			c.Redis.DB,
		)
	}
	return fmt.Sprintf("redis://%s:%d/%d",
		c.Redis.Host,
		c.Redis.Port,
		c.Redis.DB,
	)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
