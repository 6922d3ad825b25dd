package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowledger/flowledger/internal/queue"
	"github.com/flowledger/flowledger/pkg/errors"
)

// Service provides caching functionality for frequently accessed data
type Service struct {
	redis  *queue.RedisClient
	config *Config
}

// Config holds cache configuration
type Config struct {
	DefaultTTL  time.Duration `json:"default_ttl"`
	SnapshotTTL time.Duration `json:"snapshot_ttl"`
	ReportTTL   time.Duration `json:"report_ttl"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultTTL:  1 * time.Hour,
		SnapshotTTL: 60 * time.Second,
		ReportTTL:   24 * time.Hour,
	}
}

// NewService creates a new cache service
func NewService(redis *queue.RedisClient, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}

	return &Service{
		redis:  redis,
		config: config,
	}
}

// CacheKey generates cache keys with consistent prefixes
type CacheKey struct {
	Prefix string
	ID     string
}

// String returns the formatted cache key
func (ck CacheKey) String() string {
	return fmt.Sprintf("%s:%s", ck.Prefix, ck.ID)
}

// Cache key prefixes
const (
	PrefixDashboard      = "dashboard"
	PrefixResourceStatus = "resource_status"
	PrefixReport         = "report"
)

// Set stores a value in cache with the specified TTL
func (s *Service) Set(ctx context.Context, key CacheKey, value interface{}, ttl time.Duration) error {
	data, err := s.serialize(value)
	if err != nil {
		return errors.NewInternalError("failed to serialize cache value").WithCause(err)
	}

	if ttl == 0 {
		ttl = s.config.DefaultTTL
	}

	if err := s.redis.Set(ctx, key.String(), data, ttl); err != nil {
		return errors.NewInternalError("failed to set cache value").WithCause(err)
	}

	return nil
}

// Get retrieves a value from cache
func (s *Service) Get(ctx context.Context, key CacheKey, dest interface{}) error {
	data, err := s.redis.Get(ctx, key.String())
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.NewNotFoundError("cache key")
		}
		return errors.NewInternalError("failed to get cache value").WithCause(err)
	}

	if err := s.deserialize(data, dest); err != nil {
		return errors.NewInternalError("failed to deserialize cache value").WithCause(err)
	}

	return nil
}

// Delete removes a value from cache
func (s *Service) Delete(ctx context.Context, key CacheKey) error {
	_, err := s.redis.Del(ctx, key.String())
	if err != nil {
		return errors.NewInternalError("failed to delete cache key").WithCause(err)
	}
	return nil
}

// Exists checks if a key exists in cache
func (s *Service) Exists(ctx context.Context, key CacheKey) (bool, error) {
	count, err := s.redis.Exists(ctx, key.String())
	if err != nil {
		return false, errors.NewInternalError("failed to check cache key existence").WithCause(err)
	}
	return count > 0, nil
}

// InvalidatePattern removes all keys matching a pattern
func (s *Service) InvalidatePattern(ctx context.Context, pattern string) error {
	keys, err := s.redis.Keys(ctx, pattern)
	if err != nil {
		return errors.NewInternalError("failed to get keys for pattern").WithCause(err)
	}

	if len(keys) == 0 {
		return nil
	}

	_, err = s.redis.Del(ctx, keys...)
	if err != nil {
		return errors.NewInternalError("failed to delete keys").WithCause(err)
	}

	return nil
}

// TTL returns the time to live for a key
func (s *Service) TTL(ctx context.Context, key CacheKey) (time.Duration, error) {
	ttl, err := s.redis.TTL(ctx, key.String())
	if err != nil {
		return 0, errors.NewInternalError("failed to get TTL").WithCause(err)
	}
	return ttl, nil
}

// serialize converts a value to a JSON string
func (s *Service) serialize(value interface{}) (string, error) {
	if str, ok := value.(string); ok {
		return str, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// deserialize converts a JSON string to a value
func (s *Service) deserialize(data string, dest interface{}) error {
	if str, ok := dest.(*string); ok {
		*str = data
		return nil
	}

	return json.Unmarshal([]byte(data), dest)
}
