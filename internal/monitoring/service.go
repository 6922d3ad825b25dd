package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/flowledger/flowledger/internal/batching"
	"github.com/flowledger/flowledger/internal/cache"
	"github.com/flowledger/flowledger/internal/database"
	"github.com/flowledger/flowledger/internal/queue"
	"github.com/flowledger/flowledger/pkg/alerting"
	"github.com/flowledger/flowledger/pkg/errors"
	"github.com/flowledger/flowledger/pkg/logging"
	"github.com/flowledger/flowledger/pkg/metrics"
	"github.com/flowledger/flowledger/pkg/security"
)

// Service tracks process and dependency resources. Readings feed the
// batching engine's strategy selection, the Prometheus collector, the
// snapshot cache, and threshold alerts.
type Service struct {
	db          *database.DB
	redis       *queue.RedisClient
	deadLetters *queue.DeadLetterQueue
	snapshots   *cache.SnapshotCache
	config      *Config
	clock       security.Clock
	logger      *logging.Logger
	alerts      *alerting.Service

	mu       sync.RWMutex
	current  ResourceSnapshot
	breached map[string]bool
	stopCh   chan struct{}
	running  bool
}

// Config holds monitoring configuration
type Config struct {
	CollectionInterval  time.Duration `json:"collection_interval"`
	CPUThreshold        float64       `json:"cpu_threshold"`
	MemoryThreshold     float64       `json:"memory_threshold"`
	DeadLetterThreshold int64         `json:"dead_letter_threshold"`
}

// DefaultConfig returns default monitoring configuration
func DefaultConfig() *Config {
	return &Config{
		CollectionInterval:  30 * time.Second,
		CPUThreshold:        80.0,
		MemoryThreshold:     85.0,
		DeadLetterThreshold: 1000,
	}
}

// NewService creates a new monitoring service. db, redis, deadLetters,
// snapshots and alerts may be nil; the matching readings and side effects
// are skipped.
func NewService(db *database.DB, redis *queue.RedisClient, deadLetters *queue.DeadLetterQueue, snapshots *cache.SnapshotCache, config *Config, clock security.Clock, logger *logging.Logger, alerts *alerting.Service) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if clock == nil {
		clock = security.NewSystemClock()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Service{
		db:          db,
		redis:       redis,
		deadLetters: deadLetters,
		snapshots:   snapshots,
		config:      config,
		clock:       clock,
		logger:      logger,
		alerts:      alerts,
		breached:    make(map[string]bool),
	}
}

// Start takes an immediate reading and begins periodic collection.
func (s *Service) Start(ctx context.Context) error {
	if s.running {
		return errors.NewValidationError("monitoring service is already running")
	}

	s.running = true
	s.stopCh = make(chan struct{})

	s.collect(ctx)
	go s.collectLoop(ctx)

	return nil
}

// Stop stops the monitoring service
func (s *Service) Stop() error {
	if !s.running {
		return nil
	}

	close(s.stopCh)
	s.running = false
	return nil
}

// Snapshot returns a copy of the most recent reading.
func (s *Service) Snapshot() ResourceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// StatusFunc adapts readings for the batching engine. Valid after Start.
func (s *Service) StatusFunc() batching.StatusFunc {
	return func() batching.SystemStatus {
		snap := s.Snapshot()
		return batching.SystemStatus{
			MemoryPercent:      snap.MemoryPercent,
			CPUPercent:         snap.CPUPercent,
			AvailableHeapBytes: snap.AvailableHeapBytes,
			HeapInUseBytes:     snap.HeapInUseBytes,
		}
	}
}

// MetricsSource returns a collector source that publishes the current
// reading as Prometheus gauges.
func (s *Service) MetricsSource() func(*metrics.Metrics) {
	return func(m *metrics.Metrics) {
		snap := s.Snapshot()
		m.UpdateResourceUsage("process", snap.CPUPercent, int64(snap.HeapInUseBytes))
		m.UpdateDatabaseConnections(int(snap.DatabaseConnections), int(snap.DatabaseIdleConnections), int(snap.DatabaseMaxConnections))
		m.UpdateRedisConnections(int(snap.RedisConnections), int(snap.RedisIdleConnections), int(snap.RedisStaleConnections))
		m.UpdateQueueSize("dead_letter", snap.DeadLetterDepth)
	}
}

// collectLoop periodically collects readings until stopped.
func (s *Service) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.CollectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.collect(ctx)
		}
	}
}

// collect takes one reading, stores it, caches it, and evaluates thresholds.
func (s *Service) collect(ctx context.Context) {
	snap := ResourceSnapshot{Timestamp: s.clock.Now().UTC()}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	if ms.HeapSys > 0 {
		snap.MemoryPercent = float64(ms.HeapAlloc) / float64(ms.HeapSys) * 100
	}
	if ms.HeapSys > ms.HeapAlloc {
		snap.AvailableHeapBytes = ms.HeapSys - ms.HeapAlloc
	}
	snap.HeapInUseBytes = ms.HeapAlloc
	snap.GCPauseTotal = time.Duration(ms.PauseTotalNs)
	snap.GoroutineCount = int64(runtime.NumGoroutine())
	snap.CPUPercent = goroutineCPUPercent()

	if s.db != nil {
		dbStats := s.db.Stats()
		snap.DatabaseConnections = int64(dbStats.OpenConnections)
		snap.DatabaseIdleConnections = int64(dbStats.Idle)
		snap.DatabaseMaxConnections = int64(dbStats.MaxOpenConnections)
	}

	if s.redis != nil {
		redisStats := s.redis.Stats()
		snap.RedisConnections = int64(redisStats.TotalConns)
		snap.RedisIdleConnections = int64(redisStats.IdleConns)
		snap.RedisStaleConnections = int64(redisStats.StaleConns)
	}

	if s.deadLetters != nil {
		depth, err := s.deadLetters.Len(ctx)
		if err != nil {
			s.logger.WithComponent("monitoring").WithError(err).Warn("Failed to read dead letter depth")
		} else {
			snap.DeadLetterDepth = depth
		}
	}

	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()

	s.cacheSnapshot(ctx)
	s.evaluateThresholds(ctx, snap)
}

// goroutineCPUPercent approximates CPU load from goroutine pressure
// against available cores, the same reading the batching engine falls
// back to on its own.
func goroutineCPUPercent() float64 {
	pct := float64(runtime.NumGoroutine()) / float64(runtime.NumCPU()*25) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ResourceStatus shapes the most recent reading for the snapshot cache
// and dashboard assembly.
func (s *Service) ResourceStatus() *cache.ResourceStatus {
	snap := s.Snapshot()
	return &cache.ResourceStatus{
		CPUPercent:          snap.CPUPercent,
		MemoryPercent:       snap.MemoryPercent,
		GoroutineCount:      snap.GoroutineCount,
		HeapInUseBytes:      snap.HeapInUseBytes,
		AvailableHeapBytes:  snap.AvailableHeapBytes,
		GCPauseTotal:        snap.GCPauseTotal,
		DatabaseConnections: int(snap.DatabaseConnections),
		RedisConnections:    int(snap.RedisConnections),
		DeadLetterDepth:     snap.DeadLetterDepth,
		UpdatedAt:           snap.Timestamp,
	}
}

func (s *Service) cacheSnapshot(ctx context.Context) {
	if s.snapshots == nil {
		return
	}

	if err := s.snapshots.SetResourceStatus(ctx, s.ResourceStatus()); err != nil {
		s.logger.WithComponent("monitoring").WithError(err).Warn("Failed to cache resource status")
	}
}

// evaluateThresholds raises a stable-ID alert per breached resource and
// resolves it once the reading drops back under the threshold.
func (s *Service) evaluateThresholds(ctx context.Context, snap ResourceSnapshot) {
	if s.alerts == nil {
		return
	}

	active := make(map[string]ResourceAlert)
	for _, alert := range s.resourceAlerts(snap) {
		active["resource-"+alert.Type] = alert
	}

	s.mu.Lock()
	var resolved []string
	for id := range s.breached {
		if _, still := active[id]; !still {
			delete(s.breached, id)
			resolved = append(resolved, id)
		}
	}
	for id := range active {
		s.breached[id] = true
	}
	s.mu.Unlock()

	for id, alert := range active {
		err := s.alerts.TriggerAlert(ctx, &alerting.Alert{
			ID:          id,
			Title:       alert.Message,
			Description: fmt.Sprintf("%s at %.1f, threshold %.1f", alert.Type, alert.Value, alert.Threshold),
			Severity:    alert.Level,
			Component:   "monitoring",
			Labels:      map[string]string{"resource": alert.Type},
		})
		if err != nil {
			s.logger.WithComponent("monitoring").WithError(err).Warn("Failed to trigger resource alert")
		}
	}
	for _, id := range resolved {
		if err := s.alerts.ResolveAlert(ctx, id); err != nil {
			s.logger.WithComponent("monitoring").WithError(err).Debug("Failed to resolve resource alert")
		}
	}
}

// GetResourceAlerts returns threshold breaches in the current reading.
func (s *Service) GetResourceAlerts() []ResourceAlert {
	return s.resourceAlerts(s.Snapshot())
}

func (s *Service) resourceAlerts(snap ResourceSnapshot) []ResourceAlert {
	var alerts []ResourceAlert

	if snap.CPUPercent > s.config.CPUThreshold {
		alerts = append(alerts, ResourceAlert{
			Type:      "cpu",
			Level:     alerting.SeverityWarning,
			Message:   "High CPU usage detected",
			Value:     snap.CPUPercent,
			Threshold: s.config.CPUThreshold,
			Timestamp: snap.Timestamp,
		})
	}

	if snap.MemoryPercent > s.config.MemoryThreshold {
		alerts = append(alerts, ResourceAlert{
			Type:      "memory",
			Level:     alerting.SeverityWarning,
			Message:   "High memory usage detected",
			Value:     snap.MemoryPercent,
			Threshold: s.config.MemoryThreshold,
			Timestamp: snap.Timestamp,
		})
	}

	if snap.DeadLetterDepth > s.config.DeadLetterThreshold {
		alerts = append(alerts, ResourceAlert{
			Type:      "dead_letter",
			Level:     alerting.SeverityCritical,
			Message:   "Dead letter backlog exceeds threshold",
			Value:     float64(snap.DeadLetterDepth),
			Threshold: float64(s.config.DeadLetterThreshold),
			Timestamp: snap.Timestamp,
		})
	}

	return alerts
}

// ResourceSnapshot is one point-in-time reading of process and dependency
// resources.
type ResourceSnapshot struct {
	Timestamp               time.Time     `json:"timestamp"`
	CPUPercent              float64       `json:"cpu_percent"`
	MemoryPercent           float64       `json:"memory_percent"`
	GoroutineCount          int64         `json:"goroutine_count"`
	HeapInUseBytes          uint64        `json:"heap_in_use_bytes"`
	AvailableHeapBytes      uint64        `json:"available_heap_bytes"`
	GCPauseTotal            time.Duration `json:"gc_pause_total"`
	DatabaseConnections     int64         `json:"database_connections"`
	DatabaseIdleConnections int64         `json:"database_idle_connections"`
	DatabaseMaxConnections  int64         `json:"database_max_connections"`
	RedisConnections        int64         `json:"redis_connections"`
	RedisIdleConnections    int64         `json:"redis_idle_connections"`
	RedisStaleConnections   int64         `json:"redis_stale_connections"`
	DeadLetterDepth         int64         `json:"dead_letter_depth"`
}

// ResourceAlert is a threshold breach in one reading.
type ResourceAlert struct {
	Type      string            `json:"type"`
	Level     alerting.Severity `json:"level"`
	Message   string            `json:"message"`
	Value     float64           `json:"value"`
	Threshold float64           `json:"threshold"`
	Timestamp time.Time         `json:"timestamp"`
}
