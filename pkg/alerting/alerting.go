package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowledger/flowledger/pkg/errors"
	"github.com/flowledger/flowledger/pkg/logging"
)

// Severity represents alert severity levels
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityFatal    Severity = "fatal"
)

// Rank orders severities for comparison; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	case SeverityFatal:
		return 3
	default:
		return -1
	}
}

// Alert represents an alert
type Alert struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Severity    Severity          `json:"severity"`
	Component   string            `json:"component"`
	Timestamp   time.Time         `json:"timestamp"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	Resolved    bool              `json:"resolved"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
}

// AlertRule represents an alerting rule evaluated against metric samples
type AlertRule struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Condition   AlertCondition    `json:"condition"`
	Severity    Severity          `json:"severity"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	Enabled     bool              `json:"enabled"`
}

// AlertCondition represents conditions for triggering alerts
type AlertCondition struct {
	MetricName  string  `json:"metric_name"`
	Operator    string  `json:"operator"` // >, <, >=, <=, ==, !=
	Threshold   float64 `json:"threshold"`
	Duration    string  `json:"duration"`
	Aggregation string  `json:"aggregation"` // avg, sum, min, max, count
}

// Evaluate reports whether the given aggregated value breaches the condition.
func (c AlertCondition) Evaluate(value float64) bool {
	switch c.Operator {
	case ">":
		return value > c.Threshold
	case "<":
		return value < c.Threshold
	case ">=":
		return value >= c.Threshold
	case "<=":
		return value <= c.Threshold
	case "==":
		return value == c.Threshold
	case "!=":
		return value != c.Threshold
	default:
		return false
	}
}

// NotificationChannel represents a notification channel
type NotificationChannel interface {
	Send(ctx context.Context, alert *Alert) error
	Name() string
}

// Config holds alerting configuration
type Config struct {
	Enabled         bool          `json:"enabled"`
	DefaultSeverity Severity      `json:"default_severity"`
	MaxAlerts       int           `json:"max_alerts"`
	RateLimit       int           `json:"rate_limit"`
	RateWindow      time.Duration `json:"rate_window"`
}

// DefaultConfig returns default alerting configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultSeverity: SeverityWarning,
		MaxAlerts:       1000,
		RateLimit:       100,
		RateWindow:      time.Hour,
	}
}

// Service provides alerting functionality
type Service struct {
	channels     []NotificationChannel
	rules        map[string]*AlertRule
	activeAlerts map[string]*Alert
	logger       *logging.Logger
	mutex        sync.RWMutex
	config       *Config

	// Per-component rate limiting
	alertCounts map[string]int
	windowStart time.Time
}

// NewService creates a new alerting service
func NewService(logger *logging.Logger, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Service{
		channels:     make([]NotificationChannel, 0),
		rules:        make(map[string]*AlertRule),
		activeAlerts: make(map[string]*Alert),
		logger:       logger,
		config:       config,
		alertCounts:  make(map[string]int),
		windowStart:  time.Now(),
	}
}

// AddChannel adds a notification channel
func (s *Service) AddChannel(channel NotificationChannel) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.channels = append(s.channels, channel)
	s.logger.Info("Notification channel added", "channel", channel.Name())
}

// AddRule adds an alerting rule
func (s *Service) AddRule(rule *AlertRule) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.rules[rule.Name] = rule
}

// RemoveRule removes an alerting rule
func (s *Service) RemoveRule(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.rules, name)
}

// Rules returns a snapshot of the enabled alerting rules.
func (s *Service) Rules() []*AlertRule {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rules := make([]*AlertRule, 0, len(s.rules))
	for _, rule := range s.rules {
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}
	return rules
}

// TriggerAlert triggers an alert
func (s *Service) TriggerAlert(ctx context.Context, alert *Alert) error {
	if !s.config.Enabled {
		return nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if alert.ID == "" {
		alert.ID = fmt.Sprintf("%s-%d", alert.Component, alert.Timestamp.Unix())
	}
	if alert.Severity == "" {
		alert.Severity = s.config.DefaultSeverity
	}

	// Re-triggering an active alert refreshes it without a new notification
	if existing, exists := s.activeAlerts[alert.ID]; exists {
		existing.Description = alert.Description
		existing.Timestamp = alert.Timestamp
		existing.Labels = alert.Labels
		existing.Annotations = alert.Annotations
		return nil
	}

	if !s.allowLocked(alert.Component) {
		s.logger.WithContext(ctx).WithFields(logging.Fields{
			"component": alert.Component,
			"title":     alert.Title,
		}).Warn("Alert rate limit exceeded")
		return fmt.Errorf("alert rate limit exceeded for component: %s", alert.Component)
	}

	if len(s.activeAlerts) >= s.config.MaxAlerts {
		s.logger.WithContext(ctx).Warn("Maximum number of active alerts reached, dropping alert")
		return fmt.Errorf("maximum number of active alerts reached")
	}

	s.activeAlerts[alert.ID] = alert

	s.logger.WithContext(ctx).WithFields(logging.Fields{
		"alert_id":  alert.ID,
		"title":     alert.Title,
		"severity":  alert.Severity,
		"component": alert.Component,
	}).Warn("Alert triggered")

	go s.sendNotifications(ctx, alert)

	return nil
}

// TriggerFromError builds and triggers an alert from an error, mapping the
// error taxonomy onto a severity. Nil errors are ignored.
func (s *Service) TriggerFromError(ctx context.Context, err error, component string, labels map[string]string) error {
	if err == nil {
		return nil
	}

	merged := map[string]string{
		"error_type": string(errors.GetType(err)),
		"error_code": errors.GetCode(err),
	}
	for k, v := range labels {
		merged[k] = v
	}

	return s.TriggerAlert(ctx, &Alert{
		Severity:    SeverityForError(err),
		Title:       titleForError(err),
		Description: err.Error(),
		Component:   component,
		Labels:      merged,
	})
}

// ResolveAlert resolves an active alert
func (s *Service) ResolveAlert(ctx context.Context, alertID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	alert, exists := s.activeAlerts[alertID]
	if !exists {
		return fmt.Errorf("alert %s not found", alertID)
	}

	now := time.Now()
	alert.Resolved = true
	alert.ResolvedAt = &now

	s.logger.WithContext(ctx).WithFields(logging.Fields{
		"alert_id":  alert.ID,
		"title":     alert.Title,
		"component": alert.Component,
		"duration":  now.Sub(alert.Timestamp).String(),
	}).Info("Alert resolved")

	delete(s.activeAlerts, alertID)

	go s.sendNotifications(ctx, alert)

	return nil
}

// GetActiveAlerts returns all active alerts
func (s *Service) GetActiveAlerts() []*Alert {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	alerts := make([]*Alert, 0, len(s.activeAlerts))
	for _, alert := range s.activeAlerts {
		alerts = append(alerts, alert)
	}
	return alerts
}

// GetAlert returns a specific alert
func (s *Service) GetAlert(alertID string) (*Alert, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	alert, exists := s.activeAlerts[alertID]
	return alert, exists
}

// allowLocked applies the per-component rate limit. Callers hold the mutex.
func (s *Service) allowLocked(component string) bool {
	now := time.Now()
	if now.Sub(s.windowStart) >= s.config.RateWindow {
		s.alertCounts = make(map[string]int)
		s.windowStart = now
	}

	count := s.alertCounts[component]
	if count >= s.config.RateLimit {
		return false
	}
	s.alertCounts[component] = count + 1
	return true
}

// sendNotifications sends alert notifications to all channels
func (s *Service) sendNotifications(ctx context.Context, alert *Alert) {
	s.mutex.RLock()
	channels := make([]NotificationChannel, len(s.channels))
	copy(channels, s.channels)
	s.mutex.RUnlock()

	for _, channel := range channels {
		go func(ch NotificationChannel) {
			if err := ch.Send(ctx, alert); err != nil {
				s.logger.WithContext(ctx).WithError(err).WithFields(logging.Fields{
					"channel":  ch.Name(),
					"alert_id": alert.ID,
				}).Error("Failed to send alert notification")
			}
		}(channel)
	}
}

// SeverityForError maps the error taxonomy onto an alert severity.
func SeverityForError(err error) Severity {
	switch errors.GetType(err) {
	case errors.ErrorTypeIntegrity:
		return SeverityFatal
	case errors.ErrorTypeCompliance, errors.ErrorTypeUnavailable, errors.ErrorTypeInternal:
		return SeverityCritical
	case errors.ErrorTypeTimeout, errors.ErrorTypeExternal, errors.ErrorTypeExhausted, errors.ErrorTypeRateLimit:
		return SeverityWarning
	case errors.ErrorTypeValidation, errors.ErrorTypeNotFound, errors.ErrorTypeConflict:
		return SeverityInfo
	default:
		return SeverityWarning
	}
}

func titleForError(err error) string {
	switch errors.GetType(err) {
	case errors.ErrorTypeIntegrity:
		return "Chain Integrity Violation"
	case errors.ErrorTypeCompliance:
		return "Compliance Violation"
	case errors.ErrorTypeUnavailable:
		return "Service Unavailable"
	case errors.ErrorTypeInternal:
		return "Internal System Error"
	case errors.ErrorTypeTimeout:
		return "Operation Timeout"
	case errors.ErrorTypeExternal:
		return "External Service Error"
	case errors.ErrorTypeExhausted:
		return "Resource Limit Reached"
	case errors.ErrorTypeValidation:
		return "Validation Error"
	default:
		return fmt.Sprintf("Error: %s", errors.GetCode(err))
	}
}

// LogChannel writes alerts to the application logger. It is the default
// channel when no external notification targets are configured.
type LogChannel struct {
	logger *logging.Logger
}

// NewLogChannel creates a logging notification channel
func NewLogChannel(logger *logging.Logger) *LogChannel {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &LogChannel{logger: logger}
}

// Name returns the channel name
func (c *LogChannel) Name() string {
	return "log"
}

// Send writes the alert to the log at a level matching its severity
func (c *LogChannel) Send(ctx context.Context, alert *Alert) error {
	entry := c.logger.WithContext(ctx).WithFields(logging.Fields{
		"alert_id":    alert.ID,
		"severity":    alert.Severity,
		"component":   alert.Component,
		"description": alert.Description,
		"resolved":    alert.Resolved,
	})
	for key, value := range alert.Labels {
		entry = entry.WithField("label_"+key, value)
	}

	switch alert.Severity {
	case SeverityInfo:
		entry.Info("ALERT: " + alert.Title)
	case SeverityWarning:
		entry.Warn("ALERT: " + alert.Title)
	default:
		entry.Error("ALERT: " + alert.Title)
	}
	return nil
}

// DefaultRules contains the built-in alerting rules evaluated by the
// telemetry sink against recorded metric samples.
func DefaultRules() map[string]*AlertRule {
	return map[string]*AlertRule{
		"high_cpu_usage": {
			Name:        "high_cpu_usage",
			Description: "CPU usage is above threshold",
			Condition: AlertCondition{
				MetricName:  "cpu_usage_percent",
				Operator:    ">",
				Threshold:   80.0,
				Duration:    "5m",
				Aggregation: "avg",
			},
			Severity: SeverityWarning,
			Labels: map[string]string{
				"category": "performance",
			},
			Annotations: map[string]string{
				"summary":     "High CPU usage detected",
				"description": "CPU usage has been above 80% for more than 5 minutes",
			},
			Enabled: true,
		},
		"high_memory_usage": {
			Name:        "high_memory_usage",
			Description: "Memory usage is above threshold",
			Condition: AlertCondition{
				MetricName:  "memory_usage_percent",
				Operator:    ">",
				Threshold:   85.0,
				Duration:    "5m",
				Aggregation: "avg",
			},
			Severity: SeverityWarning,
			Labels: map[string]string{
				"category": "performance",
			},
			Annotations: map[string]string{
				"summary":     "High memory usage detected",
				"description": "Memory usage has been above 85% for more than 5 minutes",
			},
			Enabled: true,
		},
		"database_connection_pool_exhausted": {
			Name:        "database_connection_pool_exhausted",
			Description: "Database connection pool is nearly exhausted",
			Condition: AlertCondition{
				MetricName:  "database_connections_usage_percent",
				Operator:    ">",
				Threshold:   90.0,
				Duration:    "2m",
				Aggregation: "avg",
			},
			Severity: SeverityCritical,
			Labels: map[string]string{
				"category": "database",
			},
			Annotations: map[string]string{
				"summary":     "Database connection pool nearly exhausted",
				"description": "Database connection pool usage has been above 90% for more than 2 minutes",
			},
			Enabled: true,
		},
		"batch_failure_rate_high": {
			Name:        "batch_failure_rate_high",
			Description: "Batch processing failure rate is above threshold",
			Condition: AlertCondition{
				MetricName:  "batch_failure_rate",
				Operator:    ">",
				Threshold:   10.0,
				Duration:    "10m",
				Aggregation: "avg",
			},
			Severity: SeverityWarning,
			Labels: map[string]string{
				"category": "business",
			},
			Annotations: map[string]string{
				"summary":     "High batch failure rate detected",
				"description": "Batch processing failure rate has been above 10% for more than 10 minutes",
			},
			Enabled: true,
		},
		"dead_letter_backlog_high": {
			Name:        "dead_letter_backlog_high",
			Description: "Dead letter queue backlog is above threshold",
			Condition: AlertCondition{
				MetricName:  "dead_letter_queue_size",
				Operator:    ">",
				Threshold:   1000.0,
				Duration:    "5m",
				Aggregation: "sum",
			},
			Severity: SeverityWarning,
			Labels: map[string]string{
				"category": "performance",
			},
			Annotations: map[string]string{
				"summary":     "High dead letter backlog detected",
				"description": "Dead letter queue backlog has been above 1000 records for more than 5 minutes",
			},
			Enabled: true,
		},
		"chain_integrity_low": {
			Name:        "chain_integrity_low",
			Description: "Audit chain integrity score dropped below threshold",
			Condition: AlertCondition{
				MetricName:  "chain_integrity_score",
				Operator:    "<",
				Threshold:   0.95,
				Duration:    "1m",
				Aggregation: "min",
			},
			Severity: SeverityCritical,
			Labels: map[string]string{
				"category": "compliance",
			},
			Annotations: map[string]string{
				"summary":     "Audit chain integrity degraded",
				"description": "Chain verification reported an integrity score below 0.95",
			},
			Enabled: true,
		},
		"circuit_breakers_open": {
			Name:        "circuit_breakers_open",
			Description: "One or more circuit breakers are open",
			Condition: AlertCondition{
				MetricName:  "circuit_breakers_open",
				Operator:    ">",
				Threshold:   0.0,
				Duration:    "1m",
				Aggregation: "max",
			},
			Severity: SeverityCritical,
			Labels: map[string]string{
				"category": "reliability",
			},
			Annotations: map[string]string{
				"summary":     "Open circuit breakers detected",
				"description": "At least one downstream service breaker is rejecting calls",
			},
			Enabled: true,
		},
	}
}
