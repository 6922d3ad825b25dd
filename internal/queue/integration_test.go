//go:build integration

package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowledger/flowledger/internal/batching"
	"github.com/flowledger/flowledger/pkg/config"
)

// TestDeadLetterQueueIntegration exercises the Redis-backed sink end to end.
// Run with: go test -tags=integration ./internal/queue
func TestDeadLetterQueueIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=1 to run.")
	}

	cfg := &config.RedisConfig{
		Host:     getEnvOrDefault("TEST_REDIS_HOST", "localhost"),
		Port:     6379,
		Password: getEnvOrDefault("TEST_REDIS_PASSWORD", ""),
		DB:       1,
		PoolSize: 10,
	}

	redis, err := NewRedisClient(cfg)
	require.NoError(t, err, "failed to create Redis client")
	defer redis.Close()

	ctx := context.Background()
	require.NoError(t, redis.Health(ctx))

	key := "flowledger:deadletter:test"
	defer redis.Del(ctx, key)

	dlq := NewDeadLetterQueue(redis, key, 3, nil)

	for i := 0; i < 5; i++ {
		record := batching.DeadLetterRecord{
			BatchID:     "batch-1",
			Strategy:    "balanced",
			SubBatch:    i + 1,
			FailureType: batching.FailureTypeProcessing,
			Error:       "processor exploded",
			ItemCount:   10,
			Timestamp:   time.Now().UTC(),
		}
		require.NoError(t, dlq.Push(ctx, record))
	}

	// Trimmed to the three newest records.
	length, err := dlq.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), length)

	records, err := dlq.Peek(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 5, records[0].SubBatch, "peek returns newest first")

	oldest, err := dlq.PopOldest(ctx)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.Equal(t, 3, oldest.SubBatch)

	length, err = dlq.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)

	// Drain and verify the empty queue returns nil.
	_, err = dlq.PopOldest(ctx)
	require.NoError(t, err)
	_, err = dlq.PopOldest(ctx)
	require.NoError(t, err)

	empty, err := dlq.PopOldest(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
