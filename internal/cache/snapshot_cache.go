package cache

import (
	"context"
	"time"
)

// SnapshotCache caches the assembled operational snapshots so dashboard
// reads never touch the ledger, registry, or engine directly. Consumers
// tolerate staleness; every entry carries a TTL.
type SnapshotCache struct {
	service *Service
}

// NewSnapshotCache creates a new snapshot cache
func NewSnapshotCache(service *Service) *SnapshotCache {
	return &SnapshotCache{
		service: service,
	}
}

// SetDashboard caches the current dashboard snapshot
func (sc *SnapshotCache) SetDashboard(ctx context.Context, state *DashboardState) error {
	key := CacheKey{Prefix: PrefixDashboard, ID: "current"}
	return sc.service.Set(ctx, key, state, sc.service.config.SnapshotTTL)
}

// GetDashboard retrieves the cached dashboard snapshot
func (sc *SnapshotCache) GetDashboard(ctx context.Context) (*DashboardState, error) {
	key := CacheKey{Prefix: PrefixDashboard, ID: "current"}
	var state DashboardState
	if err := sc.service.Get(ctx, key, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SetResourceStatus caches the latest resource monitor reading
func (sc *SnapshotCache) SetResourceStatus(ctx context.Context, status *ResourceStatus) error {
	key := CacheKey{Prefix: PrefixResourceStatus, ID: "current"}
	return sc.service.Set(ctx, key, status, sc.service.config.SnapshotTTL)
}

// GetResourceStatus retrieves the cached resource monitor reading
func (sc *SnapshotCache) GetResourceStatus(ctx context.Context) (*ResourceStatus, error) {
	key := CacheKey{Prefix: PrefixResourceStatus, ID: "current"}
	var status ResourceStatus
	if err := sc.service.Get(ctx, key, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SetReportPayload caches a rendered compliance report by report ID
func (sc *SnapshotCache) SetReportPayload(ctx context.Context, reportID string, payload []byte) error {
	key := CacheKey{Prefix: PrefixReport, ID: reportID}
	return sc.service.Set(ctx, key, string(payload), sc.service.config.ReportTTL)
}

// GetReportPayload retrieves a cached rendered report
func (sc *SnapshotCache) GetReportPayload(ctx context.Context, reportID string) ([]byte, error) {
	key := CacheKey{Prefix: PrefixReport, ID: reportID}
	var payload string
	if err := sc.service.Get(ctx, key, &payload); err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// InvalidateSnapshots removes all cached snapshots
func (sc *SnapshotCache) InvalidateSnapshots(ctx context.Context) error {
	patterns := []string{
		PrefixDashboard + ":*",
		PrefixResourceStatus + ":*",
	}

	for _, pattern := range patterns {
		if err := sc.service.InvalidatePattern(ctx, pattern); err != nil {
			return err
		}
	}

	return nil
}

// DashboardState is the cached operational dashboard snapshot
type DashboardState struct {
	GeneratedAt      time.Time         `json:"generated_at"`
	DegradationLevel string            `json:"degradation_level"`
	BreakerStates    map[string]string `json:"breaker_states"`
	OpenBreakers     int               `json:"open_breakers"`
	BatchesRecorded  int               `json:"batches_recorded"`
	BatchFailureRate float64           `json:"batch_failure_rate"`
	DeadLetterDepth  int64             `json:"dead_letter_depth"`
	Resources        *ResourceStatus   `json:"resources,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ResourceStatus is the cached resource monitor reading
type ResourceStatus struct {
	CPUPercent          float64       `json:"cpu_percent"`
	MemoryPercent       float64       `json:"memory_percent"`
	GoroutineCount      int64         `json:"goroutine_count"`
	HeapInUseBytes      uint64        `json:"heap_in_use_bytes"`
	AvailableHeapBytes  uint64        `json:"available_heap_bytes"`
	GCPauseTotal        time.Duration `json:"gc_pause_total"`
	DatabaseConnections int           `json:"database_connections"`
	RedisConnections    int           `json:"redis_connections"`
	DeadLetterDepth     int64         `json:"dead_letter_depth"`
	UpdatedAt           time.Time     `json:"updated_at"`
}
