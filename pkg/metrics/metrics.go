package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Ledger metrics
	LedgerEntriesTotal      *prometheus.CounterVec
	LedgerAppendDuration    *prometheus.HistogramVec
	ComplianceChecksTotal   *prometheus.CounterVec
	ComplianceViolations    *prometheus.CounterVec
	ChainVerificationsTotal *prometheus.CounterVec
	ReportsGeneratedTotal   *prometheus.CounterVec

	// Circuit breaker metrics
	BreakerCallsTotal   *prometheus.CounterVec
	BreakerCallDuration *prometheus.HistogramVec
	BreakerTransitions  *prometheus.CounterVec
	BreakerState        *prometheus.GaugeVec

	// Batching metrics
	BatchesTotal      *prometheus.CounterVec
	SubBatchesTotal   *prometheus.CounterVec
	BatchDuration     *prometheus.HistogramVec
	BatchSize         *prometheus.HistogramVec
	DeadLetteredTotal *prometheus.CounterVec

	// Job metrics
	CheckpointsTotal   *prometheus.CounterVec
	JobHealthStatus    *prometheus.GaugeVec
	FailurePredictions *prometheus.CounterVec
	RecoveryExecutions *prometheus.CounterVec

	// System metrics
	DatabaseConnections *prometheus.GaugeVec
	RedisConnections    *prometheus.GaugeVec
	QueueSize           *prometheus.GaugeVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal *prometheus.CounterVec

	// Resource metrics
	CPUUsage    *prometheus.GaugeVec
	MemoryUsage *prometheus.GaugeVec

	// Business metrics
	BusinessMetricValue *prometheus.GaugeVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "flowledger",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),

		// Ledger metrics
		LedgerEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "ledger_entries_total",
				Help:      "Total number of audit entries appended",
			},
			[]string{"event_type", "outcome"},
		),
		LedgerAppendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "ledger_append_duration_seconds",
				Help:      "Audit entry append duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"event_type"},
		),
		ComplianceChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "compliance_checks_total",
				Help:      "Total number of compliance checks performed",
			},
			[]string{"rule", "passed"},
		),
		ComplianceViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "compliance_violations_total",
				Help:      "Total number of compliance violations detected",
			},
			[]string{"rule", "severity"},
		),
		ChainVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "chain_verifications_total",
				Help:      "Total number of chain verification runs",
			},
			[]string{"chain", "valid"},
		),
		ReportsGeneratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "compliance_reports_generated_total",
				Help:      "Total number of compliance reports generated",
			},
			[]string{"framework"},
		),

		// Circuit breaker metrics
		BreakerCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_calls_total",
				Help:      "Total number of calls through circuit breakers",
			},
			[]string{"service", "state", "outcome"},
		),
		BreakerCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_call_duration_seconds",
				Help:      "Protected operation duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"service", "state"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"service", "from_state", "to_state"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_state",
				Help:      "Current circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"service"},
		),

		// Batching metrics
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "batches_total",
				Help:      "Total number of processBatch invocations",
			},
			[]string{"strategy", "status"},
		),
		SubBatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "sub_batches_total",
				Help:      "Total number of sub-batches executed",
			},
			[]string{"strategy", "status"},
		),
		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "batch_duration_seconds",
				Help:      "Full batch invocation duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"strategy"},
		),
		BatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "batch_size",
				Help:      "Computed batch sizes",
				Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 50000},
			},
			[]string{"strategy"},
		),
		DeadLetteredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "dead_lettered_total",
				Help:      "Total number of sub-batches routed to the dead letter queue",
			},
			[]string{"failure_type"},
		),

		// Job metrics
		CheckpointsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "checkpoints_total",
				Help:      "Total number of checkpoints created",
			},
			[]string{"job_id", "state"},
		),
		JobHealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "job_health_status",
				Help:      "Current job health (0=healthy, 1=warning, 2=critical, 3=failed)",
			},
			[]string{"job_id"},
		),
		FailurePredictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "failure_predictions_total",
				Help:      "Total number of failure predictions raised",
			},
			[]string{"category", "risk_band"},
		),
		RecoveryExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "recovery_executions_total",
				Help:      "Total number of recovery strategy executions",
			},
			[]string{"strategy", "status"},
		),

		// System metrics
		DatabaseConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "database_connections",
				Help:      "Number of database connections",
			},
			[]string{"state"},
		),
		RedisConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "redis_connections",
				Help:      "Number of Redis connections",
			},
			[]string{"state"},
		),
		QueueSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "queue_size",
				Help:      "Number of items in queue",
			},
			[]string{"queue"},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"component", "error_type"},
		),
		PanicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "panics_total",
				Help:      "Total number of panics",
			},
			[]string{"component"},
		),

		// Resource metrics
		CPUUsage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cpu_usage_percent",
				Help:      "CPU usage percentage",
			},
			[]string{"component"},
		),
		MemoryUsage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "memory_usage_bytes",
				Help:      "Memory usage in bytes",
			},
			[]string{"component", "type"},
		),

		// Business metrics
		BusinessMetricValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "business_metric_value",
				Help:      "Last recorded value of a named business or SLA metric",
			},
			[]string{"name", "unit"},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.LedgerEntriesTotal,
		m.LedgerAppendDuration,
		m.ComplianceChecksTotal,
		m.ComplianceViolations,
		m.ChainVerificationsTotal,
		m.ReportsGeneratedTotal,
		m.BreakerCallsTotal,
		m.BreakerCallDuration,
		m.BreakerTransitions,
		m.BreakerState,
		m.BatchesTotal,
		m.SubBatchesTotal,
		m.BatchDuration,
		m.BatchSize,
		m.DeadLetteredTotal,
		m.CheckpointsTotal,
		m.JobHealthStatus,
		m.FailurePredictions,
		m.RecoveryExecutions,
		m.DatabaseConnections,
		m.RedisConnections,
		m.QueueSize,
		m.ErrorsTotal,
		m.PanicsTotal,
		m.CPUUsage,
		m.MemoryUsage,
		m.BusinessMetricValue,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordLedgerEntry records an audit entry append
func (m *Metrics) RecordLedgerEntry(eventType, outcome string, duration time.Duration) {
	if m.LedgerEntriesTotal == nil {
		return
	}

	m.LedgerEntriesTotal.WithLabelValues(eventType, outcome).Inc()
	m.LedgerAppendDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// RecordComplianceCheck records a compliance check outcome
func (m *Metrics) RecordComplianceCheck(rule string, passed bool) {
	if m.ComplianceChecksTotal == nil {
		return
	}

	m.ComplianceChecksTotal.WithLabelValues(rule, strconv.FormatBool(passed)).Inc()
}

// RecordComplianceViolation records a detected violation
func (m *Metrics) RecordComplianceViolation(rule, severity string) {
	if m.ComplianceViolations == nil {
		return
	}

	m.ComplianceViolations.WithLabelValues(rule, severity).Inc()
}

// RecordChainVerification records a verification run
func (m *Metrics) RecordChainVerification(chain string, valid bool) {
	if m.ChainVerificationsTotal == nil {
		return
	}

	m.ChainVerificationsTotal.WithLabelValues(chain, strconv.FormatBool(valid)).Inc()
}

// RecordReportGenerated records a generated compliance report
func (m *Metrics) RecordReportGenerated(framework string) {
	if m.ReportsGeneratedTotal == nil {
		return
	}

	m.ReportsGeneratedTotal.WithLabelValues(framework).Inc()
}

// RecordBreakerCall records one call through a circuit breaker
func (m *Metrics) RecordBreakerCall(service, state, outcome string, duration time.Duration) {
	if m.BreakerCallsTotal == nil {
		return
	}

	m.BreakerCallsTotal.WithLabelValues(service, state, outcome).Inc()
	m.BreakerCallDuration.WithLabelValues(service, state).Observe(duration.Seconds())
}

// RecordBreakerTransition records a breaker state transition
func (m *Metrics) RecordBreakerTransition(service, fromState, toState string, stateValue float64) {
	if m.BreakerTransitions == nil {
		return
	}

	m.BreakerTransitions.WithLabelValues(service, fromState, toState).Inc()
	m.BreakerState.WithLabelValues(service).Set(stateValue)
}

// RecordBatch records a full processBatch invocation
func (m *Metrics) RecordBatch(strategy, status string, batchSize int, duration time.Duration) {
	if m.BatchesTotal == nil {
		return
	}

	m.BatchesTotal.WithLabelValues(strategy, status).Inc()
	m.BatchDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	m.BatchSize.WithLabelValues(strategy).Observe(float64(batchSize))
}

// RecordSubBatch records one sub-batch execution
func (m *Metrics) RecordSubBatch(strategy, status string) {
	if m.SubBatchesTotal == nil {
		return
	}

	m.SubBatchesTotal.WithLabelValues(strategy, status).Inc()
}

// RecordDeadLettered records a dead-lettered sub-batch
func (m *Metrics) RecordDeadLettered(failureType string) {
	if m.DeadLetteredTotal == nil {
		return
	}

	m.DeadLetteredTotal.WithLabelValues(failureType).Inc()
}

// RecordCheckpoint records checkpoint creation
func (m *Metrics) RecordCheckpoint(jobID, state string) {
	if m.CheckpointsTotal == nil {
		return
	}

	m.CheckpointsTotal.WithLabelValues(jobID, state).Inc()
}

// UpdateJobHealth updates the job health gauge
func (m *Metrics) UpdateJobHealth(jobID string, statusValue float64) {
	if m.JobHealthStatus == nil {
		return
	}

	m.JobHealthStatus.WithLabelValues(jobID).Set(statusValue)
}

// RecordFailurePrediction records a raised prediction
func (m *Metrics) RecordFailurePrediction(category, riskBand string) {
	if m.FailurePredictions == nil {
		return
	}

	m.FailurePredictions.WithLabelValues(category, riskBand).Inc()
}

// RecordRecoveryExecution records a recovery strategy execution
func (m *Metrics) RecordRecoveryExecution(strategy, status string) {
	if m.RecoveryExecutions == nil {
		return
	}

	m.RecoveryExecutions.WithLabelValues(strategy, status).Inc()
}

// UpdateDatabaseConnections updates database connection metrics
func (m *Metrics) UpdateDatabaseConnections(open, idle, max int) {
	if m.DatabaseConnections == nil {
		return
	}

	m.DatabaseConnections.WithLabelValues("open").Set(float64(open))
	m.DatabaseConnections.WithLabelValues("idle").Set(float64(idle))
	m.DatabaseConnections.WithLabelValues("max").Set(float64(max))
}

// UpdateRedisConnections updates Redis connection metrics
func (m *Metrics) UpdateRedisConnections(total, idle, stale int) {
	if m.RedisConnections == nil {
		return
	}

	m.RedisConnections.WithLabelValues("total").Set(float64(total))
	m.RedisConnections.WithLabelValues("idle").Set(float64(idle))
	m.RedisConnections.WithLabelValues("stale").Set(float64(stale))
}

// UpdateQueueSize updates queue size metrics
func (m *Metrics) UpdateQueueSize(queue string, size int64) {
	if m.QueueSize == nil {
		return
	}

	m.QueueSize.WithLabelValues(queue).Set(float64(size))
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, errorType string) {
	if m.ErrorsTotal == nil {
		return
	}

	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordPanic records panic metrics
func (m *Metrics) RecordPanic(component string) {
	if m.PanicsTotal == nil {
		return
	}

	m.PanicsTotal.WithLabelValues(component).Inc()
}

// UpdateResourceUsage updates resource usage metrics
func (m *Metrics) UpdateResourceUsage(component string, cpuPercent float64, memoryBytes int64) {
	if m.CPUUsage != nil {
		m.CPUUsage.WithLabelValues(component).Set(cpuPercent)
	}
	if m.MemoryUsage != nil {
		m.MemoryUsage.WithLabelValues(component, "used").Set(float64(memoryBytes))
	}
}

// UpdateBusinessMetric publishes the latest value of a named business or
// SLA metric sample
func (m *Metrics) UpdateBusinessMetric(name, unit string, value float64) {
	if m.BusinessMetricValue == nil {
		return
	}

	m.BusinessMetricValue.WithLabelValues(name, unit).Set(value)
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// Collector polls registered sources and pushes their readings into the
// metric vectors on a fixed interval.
type Collector struct {
	metrics  *Metrics
	interval time.Duration
	sources  []func(*Metrics)
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(metrics *Metrics, interval time.Duration, sources ...func(*Metrics)) *Collector {
	return &Collector{
		metrics:  metrics,
		interval: interval,
		sources:  sources,
		stopCh:   make(chan struct{}),
	}
}

// Start begins metrics collection
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Stop stops metrics collection
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for _, source := range c.sources {
		source(c.metrics)
	}
}
