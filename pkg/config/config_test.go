package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEDGER_SIGNING_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2, cfg.Breaker.SuccessThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, 30*time.Second, cfg.Breaker.OperationTimeout)
	assert.Equal(t, 10, cfg.Batching.MinBatchSize)
	assert.Equal(t, 50000, cfg.Batching.MaxBatchSize)
	assert.Equal(t, float64(10000000), cfg.Batching.MaxFinancialValue)
	assert.Equal(t, 10000, cfg.Ledger.RingCapacity)
	assert.Equal(t, 0.05, cfg.Recovery.MaxFailureRate)
	assert.Equal(t, 25, cfg.Recovery.RiskFloor)
}

func TestLoad_MissingSigningSecret(t *testing.T) {
	t.Setenv("LEDGER_SIGNING_SECRET", "")

	cfg, err := Load()
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_SIGNING_SECRET", "test-secret")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "3")
	t.Setenv("BREAKER_RECOVERY_TIMEOUT", "5s")
	t.Setenv("BATCH_MAX_FINANCIAL_VALUE", "500000")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 5*time.Second, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, float64(500000), cfg.Batching.MaxFinancialValue)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Ledger:   LedgerConfig{SigningSecret: "s", RingCapacity: 100},
			Breaker:  BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2},
			Batching: BatchingConfig{MinBatchSize: 10, MaxBatchSize: 1000, MaxFinancialValue: 1000000},
			Recovery: RecoveryConfig{MaxFailureRate: 0.05},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty secret", func(c *Config) { c.Ledger.SigningSecret = "" }, true},
		{"zero ring capacity", func(c *Config) { c.Ledger.RingCapacity = 0 }, true},
		{"zero failure threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }, true},
		{"min above max batch size", func(c *Config) { c.Batching.MinBatchSize = 2000 }, true},
		{"zero financial ceiling", func(c *Config) { c.Batching.MaxFinancialValue = 0 }, true},
		{"failure rate out of range", func(c *Config) { c.Recovery.MaxFailureRate = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     "db.internal",
			Port:     5432,
			Name:     "ledger",
			User:     "app",
			Password: "pw",
			SSLMode:  "require",
		},
	}

	assert.Equal(t, "postgres://app:pw@db.internal:5432/ledger?sslmode=require", cfg.DatabaseURL())
}

func TestRedisURL(t *testing.T) {
	cfg := &Config{
		Redis: RedisConfig{Host: "cache.internal", Port: 6379, DB: 1},
	}
	assert.Equal(t, "redis://cache.internal:6379/1", cfg.RedisURL())

	cfg.Redis.Password = "pw"
	assert.Equal(t, "redis://:pw@cache.internal:6379/1", cfg.RedisURL())
}
