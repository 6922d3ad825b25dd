package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flowledger/flowledger/pkg/logging"
	"github.com/flowledger/flowledger/pkg/metrics"
	"github.com/flowledger/flowledger/pkg/security"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateHalfOpen - circuit is half-open, probe requests are allowed
	StateHalfOpen
	// StateOpen - circuit is open, requests are rejected
	StateOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ParseState converts a persisted state string back to a CircuitState.
func ParseState(s string) (CircuitState, error) {
	switch s {
	case "CLOSED":
		return StateClosed, nil
	case "OPEN":
		return StateOpen, nil
	case "HALF_OPEN":
		return StateHalfOpen, nil
	default:
		return StateClosed, fmt.Errorf("unknown circuit state: %s", s)
	}
}

// GaugeValue maps the state onto the metric gauge scale.
func (s CircuitState) GaugeValue() float64 {
	return float64(s)
}

// Settings holds the thresholds for one circuit breaker
type Settings struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from CLOSED to OPEN
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in HALF_OPEN
	// required to close the breaker again
	SuccessThreshold int
	// RecoveryTimeout is how long the breaker stays OPEN before a probe
	// call is allowed through
	RecoveryTimeout time.Duration
	// OperationTimeout bounds each protected call; exceeding it counts as
	// a failure
	OperationTimeout time.Duration
}

// DefaultSettings returns the default breaker thresholds
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  60 * time.Second,
		OperationTimeout: 30 * time.Second,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = d.FailureThreshold
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = d.SuccessThreshold
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = d.RecoveryTimeout
	}
	if s.OperationTimeout <= 0 {
		s.OperationTimeout = d.OperationTimeout
	}
	return s
}

// Counts holds the breaker's consecutive success/failure counters
type Counts struct {
	FailureCount int
	SuccessCount int
}

// StateSnapshot is the persisted form of a breaker's state
type StateSnapshot struct {
	Service         string     `json:"service" db:"service"`
	State           string     `json:"state" db:"state"`
	FailureCount    int        `json:"failure_count" db:"failure_count"`
	SuccessCount    int        `json:"success_count" db:"success_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty" db:"last_failure_time"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// StateStore persists breaker state across process restarts. Save must be
// an upsert keyed by service name.
type StateStore interface {
	Save(ctx context.Context, snapshot StateSnapshot) error
	Load(ctx context.Context) ([]StateSnapshot, error)
}

// TransitionRecorder receives every breaker state change for auditing. The
// host wires the audit ledger in through this interface so the breaker
// never depends on it directly.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, service, fromState, toState, reason string)
}

// CircuitBreakerConfig holds configuration for one circuit breaker
type CircuitBreakerConfig struct {
	// Name of the protected service
	Name string
	// Settings holds the thresholds; zero values fall back to defaults
	Settings Settings
	// Clock is the time source; nil uses the system clock
	Clock security.Clock
	// Store persists state changes; nil disables persistence
	Store StateStore
	// Recorder audits state changes; nil disables auditing
	Recorder TransitionRecorder
	// Metrics records call and transition metrics; nil disables them
	Metrics *metrics.Metrics
	// Logger defaults to the global logger
	Logger *logging.Logger
}

// CircuitBreaker guards calls to one named service. CLOSED passes calls
// through and counts consecutive failures; OPEN rejects immediately until
// the recovery timeout elapses; HALF_OPEN lets probe calls through and
// closes again after enough consecutive successes.
type CircuitBreaker struct {
	name     string
	settings Settings
	clock    security.Clock
	store    StateStore
	recorder TransitionRecorder
	metrics  *metrics.Metrics
	logger   *logging.Logger

	mutex           sync.Mutex
	state           CircuitState
	counts          Counts
	lastFailureTime *time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:     config.Name,
		settings: config.Settings.withDefaults(),
		clock:    config.Clock,
		store:    config.Store,
		recorder: config.Recorder,
		metrics:  config.Metrics,
		logger:   config.Logger,
	}

	if cb.clock == nil {
		cb.clock = security.NewSystemClock()
	}
	if cb.logger == nil {
		cb.logger = logging.GetLogger()
	}

	return cb
}

// Execute runs op under the breaker's protection. The operation receives a
// context bounded by the configured operation timeout; a timeout counts as
// a failure toward the breaker. The call metric is tagged with the state
// the call leaves the breaker in.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	state, err := cb.beforeRequest(ctx)
	if err != nil {
		if cb.metrics != nil {
			cb.metrics.RecordBreakerCall(cb.name, state.String(), "rejected", 0)
		}
		return err
	}

	start := cb.clock.Now()
	opErr := cb.run(ctx, op)
	duration := cb.clock.Now().Sub(start)

	state = cb.afterRequest(ctx, opErr)

	outcome := "success"
	if opErr != nil {
		outcome = "failure"
	}
	if cb.metrics != nil {
		cb.metrics.RecordBreakerCall(cb.name, state.String(), outcome, duration)
	}

	return opErr
}

// run invokes op with the per-call timeout applied.
func (cb *CircuitBreaker) run(ctx context.Context, op func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, cb.settings.OperationTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("operation panicked: %v", r)
			}
		}()
		done <- op(opCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-opCtx.Done():
		return fmt.Errorf("operation on %s timed out after %s: %w", cb.name, cb.settings.OperationTimeout, opCtx.Err())
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Counts returns a copy of the current counts
func (cb *CircuitBreaker) Counts() Counts {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.counts
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Snapshot returns the persistable view of the breaker's state
func (cb *CircuitBreaker) Snapshot() StateSnapshot {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.snapshotLocked()
}

func (cb *CircuitBreaker) snapshotLocked() StateSnapshot {
	var lastFailure *time.Time
	if cb.lastFailureTime != nil {
		t := *cb.lastFailureTime
		lastFailure = &t
	}
	return StateSnapshot{
		Service:         cb.name,
		State:           cb.state.String(),
		FailureCount:    cb.counts.FailureCount,
		SuccessCount:    cb.counts.SuccessCount,
		LastFailureTime: lastFailure,
		UpdatedAt:       cb.clock.Now(),
	}
}

// Reset forces the breaker back to CLOSED with zeroed counters.
func (cb *CircuitBreaker) Reset(ctx context.Context) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.counts = Counts{}
	cb.lastFailureTime = nil
	if cb.state != StateClosed {
		cb.setStateLocked(ctx, StateClosed, "manual reset")
	} else {
		cb.persistLocked(ctx)
	}
}

// restore applies a persisted snapshot. Used at registry startup only.
func (cb *CircuitBreaker) restore(snapshot StateSnapshot) error {
	state, err := ParseState(snapshot.State)
	if err != nil {
		return err
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.state = state
	cb.counts = Counts{
		FailureCount: snapshot.FailureCount,
		SuccessCount: snapshot.SuccessCount,
	}
	cb.lastFailureTime = snapshot.LastFailureTime
	return nil
}

func (cb *CircuitBreaker) beforeRequest(ctx context.Context) (CircuitState, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen {
		now := cb.clock.Now()
		if cb.lastFailureTime == nil || now.Sub(*cb.lastFailureTime) >= cb.settings.RecoveryTimeout {
			cb.setStateLocked(ctx, StateHalfOpen, "recovery timeout elapsed")
		} else {
			return StateOpen, &CircuitBreakerError{Service: cb.name, State: StateOpen}
		}
	}

	return cb.state, nil
}

// afterRequest applies the call outcome and returns the state the breaker
// settles in.
func (cb *CircuitBreaker) afterRequest(ctx context.Context, opErr error) CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if opErr == nil {
		cb.onSuccess(ctx)
	} else {
		cb.onFailure(ctx)
	}
	return cb.state
}

func (cb *CircuitBreaker) onSuccess(ctx context.Context) {
	switch cb.state {
	case StateClosed:
		cb.counts.FailureCount = 0
	case StateHalfOpen:
		cb.counts.SuccessCount++
		if cb.counts.SuccessCount >= cb.settings.SuccessThreshold {
			cb.counts = Counts{}
			cb.setStateLocked(ctx, StateClosed, "success threshold reached")
		}
	}
}

func (cb *CircuitBreaker) onFailure(ctx context.Context) {
	now := cb.clock.Now()
	cb.lastFailureTime = &now

	switch cb.state {
	case StateClosed:
		cb.counts.FailureCount++
		if cb.counts.FailureCount >= cb.settings.FailureThreshold {
			cb.setStateLocked(ctx, StateOpen, "failure threshold reached")
		} else {
			cb.persistLocked(ctx)
		}
	case StateHalfOpen:
		cb.counts.SuccessCount = 0
		cb.setStateLocked(ctx, StateOpen, "probe failed")
	}
}

// setStateLocked transitions the breaker, then persists, audits, and logs
// the change. Callers must hold the mutex; transitions for one service are
// serialized by it.
func (cb *CircuitBreaker) setStateLocked(ctx context.Context, state CircuitState, reason string) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	if state == StateHalfOpen || state == StateClosed {
		cb.counts.SuccessCount = 0
	}
	if state == StateClosed {
		cb.counts.FailureCount = 0
	}

	cb.persistLocked(ctx)

	if cb.recorder != nil {
		cb.recorder.RecordTransition(ctx, cb.name, prev.String(), state.String(), reason)
	}
	if cb.metrics != nil {
		cb.metrics.RecordBreakerTransition(cb.name, prev.String(), state.String(), state.GaugeValue())
	}

	cb.logger.LogBreakerEvent(ctx, cb.name, prev.String(), state.String(), reason, nil)
}

// persistLocked writes the current snapshot through the state store. A
// persistence failure must not fail the protected call; it is logged and
// counted instead.
func (cb *CircuitBreaker) persistLocked(ctx context.Context) {
	if cb.store == nil {
		return
	}

	if err := cb.store.Save(ctx, cb.snapshotLocked()); err != nil {
		cb.logger.LogError(ctx, err, "failed to persist breaker state", map[string]interface{}{
			"service": cb.name,
		})
		if cb.metrics != nil {
			cb.metrics.RecordError("circuit_breaker", "state_persist")
		}
	}
}

// CircuitBreakerError is returned when a call is rejected by an open breaker
type CircuitBreakerError struct {
	Service string
	State   CircuitState
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Service, e.State.String())
}

// IsCircuitBreakerError checks if an error is a circuit breaker rejection
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
