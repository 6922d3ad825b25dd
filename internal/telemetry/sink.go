package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowledger/flowledger/internal/batching"
	"github.com/flowledger/flowledger/internal/cache"
	"github.com/flowledger/flowledger/internal/monitoring"
	"github.com/flowledger/flowledger/internal/queue"
	"github.com/flowledger/flowledger/pkg/alerting"
	"github.com/flowledger/flowledger/pkg/errors"
	"github.com/flowledger/flowledger/pkg/logging"
	"github.com/flowledger/flowledger/pkg/metrics"
	"github.com/flowledger/flowledger/pkg/resilience"
	"github.com/flowledger/flowledger/pkg/security"
)

// SinkConfig holds tuning and collaborators for the telemetry sink. Every
// collaborator is optional; the sink skips whatever a missing one would
// feed.
type SinkConfig struct {
	// FlushInterval is how often buffered samples are written to the store
	// and alert rules are re-evaluated
	FlushInterval time.Duration
	// SnapshotInterval is how often SLA samples are derived from the
	// collaborators and the dashboard snapshot is rebuilt
	SnapshotInterval time.Duration
	// RuleWindow bounds in-memory sample retention; rule durations longer
	// than this are clamped to it
	RuleWindow time.Duration
	// BufferLimit caps samples awaiting a durable flush; the oldest are
	// dropped past it
	BufferLimit int
	// HistoryLimit caps the in-memory rule window per metric name
	HistoryLimit int

	Store       SampleStore
	Metrics     *metrics.Metrics
	Alerts      *alerting.Service
	Registry    *resilience.Registry
	Degradation *resilience.DegradationPolicy
	Engine      *batching.Engine
	Monitor     *monitoring.Service
	DeadLetters *queue.DeadLetterQueue
	Snapshots   *cache.SnapshotCache
	Clock       security.Clock
	Logger      *logging.Logger
}

// Sink aggregates the metric sample stream the other components emit. Each
// sample is forwarded to Prometheus immediately, kept in a bounded
// in-memory window for alert rule evaluation, and buffered for periodic
// durable flushes. The sink also derives SLA samples from its
// collaborators and assembles the cached dashboard snapshot.
type Sink struct {
	config SinkConfig

	mu       sync.Mutex
	buffer   []Sample
	dropped  int64
	recent   map[string][]Sample
	breached map[string]bool
	stopCh   chan struct{}
	running  bool
}

// NewSink creates a telemetry sink
func NewSink(config SinkConfig) *Sink {
	if config.FlushInterval <= 0 {
		config.FlushInterval = 10 * time.Second
	}
	if config.SnapshotInterval <= 0 {
		config.SnapshotInterval = 30 * time.Second
	}
	if config.RuleWindow <= 0 {
		config.RuleWindow = 15 * time.Minute
	}
	if config.BufferLimit <= 0 {
		config.BufferLimit = 4096
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 2048
	}
	if config.Clock == nil {
		config.Clock = security.NewSystemClock()
	}
	if config.Logger == nil {
		config.Logger = logging.GetLogger()
	}
	if config.Degradation == nil {
		config.Degradation = resilience.NewDegradationPolicy()
	}

	return &Sink{
		config:   config,
		recent:   make(map[string][]Sample),
		breached: make(map[string]bool),
	}
}

// Start derives an initial set of SLA samples, publishes a snapshot, and
// begins the flush and snapshot loops.
func (s *Sink) Start(ctx context.Context) error {
	if s.running {
		return errors.NewValidationError("telemetry sink is already running")
	}

	s.running = true
	s.stopCh = make(chan struct{})

	s.observe(ctx)
	s.publishSnapshot(ctx)
	go s.run(ctx)

	return nil
}

// Stop halts the loops and flushes any buffered samples.
func (s *Sink) Stop() error {
	if !s.running {
		return nil
	}

	close(s.stopCh)
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.flush(ctx)
}

// Record accepts one sample. It is forwarded to Prometheus immediately,
// kept in the in-memory rule window, and buffered for the next durable
// flush. Safe for concurrent use; never blocks on I/O.
func (s *Sink) Record(sample Sample) {
	if sample.Name == "" {
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.config.Clock.Now()
	}
	sample.Timestamp = sample.Timestamp.UTC()

	if s.config.Metrics != nil {
		s.config.Metrics.UpdateBusinessMetric(sample.Name, sample.Unit, sample.Value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Store != nil {
		s.buffer = append(s.buffer, sample)
		if over := len(s.buffer) - s.config.BufferLimit; over > 0 {
			s.dropped += int64(over)
			s.buffer = append([]Sample(nil), s.buffer[over:]...)
		}
	}

	recent := append(s.recent[sample.Name], sample)
	cutoff := sample.Timestamp.Add(-s.config.RuleWindow)
	start := 0
	for start < len(recent) && recent[start].Timestamp.Before(cutoff) {
		start++
	}
	if over := len(recent) - start - s.config.HistoryLimit; over > 0 {
		start += over
	}
	if start > 0 {
		recent = append([]Sample(nil), recent[start:]...)
	}
	s.recent[sample.Name] = recent
}

// RecordValue is a convenience wrapper around Record.
func (s *Sink) RecordValue(name string, value float64, unit string, tags map[string]string) {
	s.Record(Sample{Name: name, Value: value, Unit: unit, Tags: tags})
}

// Recent returns a copy of the in-memory rule window for one metric.
func (s *Sink) Recent(name string) []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sample, len(s.recent[name]))
	copy(out, s.recent[name])
	return out
}

// Dashboard returns the cached dashboard snapshot, or assembles a fresh
// one when the cache is unavailable or empty.
func (s *Sink) Dashboard(ctx context.Context) *cache.DashboardState {
	if s.config.Snapshots != nil {
		if state, err := s.config.Snapshots.GetDashboard(ctx); err == nil {
			return state
		}
	}
	return s.BuildDashboard(ctx)
}

// BuildDashboard assembles a dashboard snapshot from the wired
// collaborators. Fields a missing collaborator would feed stay zero.
func (s *Sink) BuildDashboard(ctx context.Context) *cache.DashboardState {
	now := s.config.Clock.Now().UTC()
	state := &cache.DashboardState{
		GeneratedAt:      now,
		UpdatedAt:        now,
		DegradationLevel: resilience.LevelNormal.String(),
		BreakerStates:    map[string]string{},
	}

	if s.config.Registry != nil {
		states := s.config.Registry.States()
		for name, snapshot := range states {
			state.BreakerStates[name] = snapshot.State
			if snapshot.State == resilience.StateOpen.String() {
				state.OpenBreakers++
			}
		}
		state.DegradationLevel = s.config.Degradation.Assess(states).Level.String()
	}

	state.BatchesRecorded, state.BatchFailureRate = s.batchStats()

	if depth, ok := s.deadLetterDepth(ctx); ok {
		state.DeadLetterDepth = depth
	}

	if s.config.Monitor != nil {
		state.Resources = s.config.Monitor.ResourceStatus()
	}

	return state
}

func (s *Sink) run(ctx context.Context) {
	flush := time.NewTicker(s.config.FlushInterval)
	defer flush.Stop()
	snapshot := time.NewTicker(s.config.SnapshotInterval)
	defer snapshot.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-flush.C:
			s.flush(ctx)
			s.evaluateRules(ctx)
		case <-snapshot.C:
			s.observe(ctx)
			s.publishSnapshot(ctx)
		}
	}
}

// flush writes buffered samples to the durable store. A failed write
// re-queues the batch ahead of anything recorded meanwhile, still capped
// at BufferLimit.
func (s *Sink) flush(ctx context.Context) error {
	if s.config.Store == nil {
		return nil
	}

	s.mu.Lock()
	batch := s.buffer
	dropped := s.dropped
	s.buffer = nil
	s.dropped = 0
	s.mu.Unlock()

	if dropped > 0 {
		s.config.Logger.WithComponent("telemetry").WithField("dropped", dropped).
			Warn("Sample buffer overflowed, oldest samples discarded")
	}
	if len(batch) == 0 {
		return nil
	}

	if err := s.config.Store.SaveSamples(ctx, batch); err != nil {
		s.config.Logger.WithComponent("telemetry").WithError(err).
			WithField("samples", len(batch)).Warn("Failed to flush metric samples")
		if s.config.Metrics != nil {
			s.config.Metrics.RecordError("telemetry", "sample_flush")
		}

		s.mu.Lock()
		s.buffer = append(batch, s.buffer...)
		if over := len(s.buffer) - s.config.BufferLimit; over > 0 {
			s.dropped += int64(over)
			s.buffer = append([]Sample(nil), s.buffer[over:]...)
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// observe derives SLA samples from the wired collaborators so the default
// alert rules have a stream to evaluate even when no caller records these
// metrics itself.
func (s *Sink) observe(ctx context.Context) {
	now := s.config.Clock.Now().UTC()
	tags := map[string]string{"category": "sla"}

	if s.config.Monitor != nil {
		snap := s.config.Monitor.Snapshot()
		s.Record(Sample{Name: "cpu_usage_percent", Value: snap.CPUPercent, Unit: "percent", Tags: tags, Timestamp: now})
		s.Record(Sample{Name: "memory_usage_percent", Value: snap.MemoryPercent, Unit: "percent", Tags: tags, Timestamp: now})
		if snap.DatabaseMaxConnections > 0 {
			usage := float64(snap.DatabaseConnections) / float64(snap.DatabaseMaxConnections) * 100
			s.Record(Sample{Name: "database_connections_usage_percent", Value: usage, Unit: "percent", Tags: tags, Timestamp: now})
		}
	}

	if s.config.Registry != nil {
		open := 0
		for _, snapshot := range s.config.Registry.States() {
			if snapshot.State == resilience.StateOpen.String() {
				open++
			}
		}
		s.Record(Sample{Name: "circuit_breakers_open", Value: float64(open), Unit: "count", Tags: tags, Timestamp: now})
	}

	if recorded, failureRate := s.batchStats(); recorded > 0 {
		s.Record(Sample{Name: "batch_failure_rate", Value: failureRate, Unit: "percent", Tags: tags, Timestamp: now})
	}

	if depth, ok := s.deadLetterDepth(ctx); ok {
		s.Record(Sample{Name: "dead_letter_queue_size", Value: float64(depth), Unit: "records", Tags: tags, Timestamp: now})
	}
}

// evaluateRules aggregates the recent window per rule and raises a
// stable-ID alert for each breached rule, resolving it once the
// aggregation drops back inside the threshold.
func (s *Sink) evaluateRules(ctx context.Context) {
	if s.config.Alerts == nil {
		return
	}

	now := s.config.Clock.Now()
	firing := make(map[string]ruleBreach)
	for _, rule := range s.config.Alerts.Rules() {
		if !rule.Enabled {
			continue
		}

		window := s.ruleWindow(rule.Condition.Duration)
		samples := s.window(rule.Condition.MetricName, now.Add(-window), now)
		if len(samples) == 0 && rule.Condition.Aggregation != "count" {
			// No data is no opinion, except for count rules where an
			// empty window legitimately aggregates to zero.
			continue
		}

		value := aggregate(samples, rule.Condition.Aggregation)
		if rule.Condition.Evaluate(value) {
			firing["rule-"+rule.Name] = ruleBreach{rule: rule, value: value}
		}
	}

	s.mu.Lock()
	var resolved []string
	for id := range s.breached {
		if _, still := firing[id]; !still {
			delete(s.breached, id)
			resolved = append(resolved, id)
		}
	}
	for id := range firing {
		s.breached[id] = true
	}
	s.mu.Unlock()

	for id, breach := range firing {
		labels := make(map[string]string, len(breach.rule.Labels)+2)
		for k, v := range breach.rule.Labels {
			labels[k] = v
		}
		labels["rule"] = breach.rule.Name
		labels["metric"] = breach.rule.Condition.MetricName

		title := breach.rule.Annotations["summary"]
		if title == "" {
			title = breach.rule.Description
		}

		agg := breach.rule.Condition.Aggregation
		if agg == "" {
			agg = "avg"
		}

		err := s.config.Alerts.TriggerAlert(ctx, &alerting.Alert{
			ID:    id,
			Title: title,
			Description: fmt.Sprintf("%s %s at %.2f, threshold %s %.2f",
				breach.rule.Condition.MetricName, agg, breach.value,
				breach.rule.Condition.Operator, breach.rule.Condition.Threshold),
			Severity:    breach.rule.Severity,
			Component:   "telemetry",
			Labels:      labels,
			Annotations: breach.rule.Annotations,
		})
		if err != nil {
			s.config.Logger.WithComponent("telemetry").WithError(err).Warn("Failed to trigger rule alert")
		}
	}
	for _, id := range resolved {
		if err := s.config.Alerts.ResolveAlert(ctx, id); err != nil {
			s.config.Logger.WithComponent("telemetry").WithError(err).Debug("Failed to resolve rule alert")
		}
	}
}

type ruleBreach struct {
	rule  *alerting.AlertRule
	value float64
}

func (s *Sink) publishSnapshot(ctx context.Context) {
	if s.config.Snapshots == nil {
		return
	}

	if err := s.config.Snapshots.SetDashboard(ctx, s.BuildDashboard(ctx)); err != nil {
		s.config.Logger.WithComponent("telemetry").WithError(err).Warn("Failed to cache dashboard snapshot")
	}
}

// batchStats summarizes the engine's rolling sub-batch window: how many
// metrics it holds and the percentage of them that failed.
func (s *Sink) batchStats() (int, float64) {
	if s.config.Engine == nil {
		return 0, 0
	}

	recent := s.config.Engine.RecentMetrics()
	if len(recent) == 0 {
		return 0, 0
	}

	var failed float64
	for _, m := range recent {
		failed += m.ErrorRate
	}
	return len(recent), failed / float64(len(recent)) * 100
}

// deadLetterDepth prefers a live queue read and falls back to the
// monitor's last reading.
func (s *Sink) deadLetterDepth(ctx context.Context) (int64, bool) {
	if s.config.DeadLetters != nil {
		depth, err := s.config.DeadLetters.Len(ctx)
		if err == nil {
			return depth, true
		}
		s.config.Logger.WithComponent("telemetry").WithError(err).Warn("Failed to read dead letter depth")
	}
	if s.config.Monitor != nil {
		return s.config.Monitor.Snapshot().DeadLetterDepth, true
	}
	return 0, false
}

// window returns recorded samples for a metric inside [from, to].
func (s *Sink) window(name string, from, to time.Time) []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Sample
	for _, sample := range s.recent[name] {
		if sample.Timestamp.Before(from) || sample.Timestamp.After(to) {
			continue
		}
		out = append(out, sample)
	}
	return out
}

func (s *Sink) ruleWindow(duration string) time.Duration {
	if duration == "" {
		return s.config.RuleWindow
	}
	window, err := time.ParseDuration(duration)
	if err != nil || window <= 0 {
		return s.config.RuleWindow
	}
	if window > s.config.RuleWindow {
		return s.config.RuleWindow
	}
	return window
}

func aggregate(samples []Sample, how string) float64 {
	if how == "count" {
		return float64(len(samples))
	}
	if len(samples) == 0 {
		return 0
	}

	switch how {
	case "sum":
		var sum float64
		for _, s := range samples {
			sum += s.Value
		}
		return sum
	case "min":
		min := samples[0].Value
		for _, s := range samples[1:] {
			if s.Value < min {
				min = s.Value
			}
		}
		return min
	case "max":
		max := samples[0].Value
		for _, s := range samples[1:] {
			if s.Value > max {
				max = s.Value
			}
		}
		return max
	default:
		var sum float64
		for _, s := range samples {
			sum += s.Value
		}
		return sum / float64(len(samples))
	}
}
