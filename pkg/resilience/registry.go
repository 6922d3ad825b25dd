package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/flowledger/flowledger/pkg/logging"
	"github.com/flowledger/flowledger/pkg/metrics"
	"github.com/flowledger/flowledger/pkg/security"
)

// RegistryConfig holds shared dependencies for all breakers in a registry
type RegistryConfig struct {
	// Defaults are applied to breakers created without explicit settings
	Defaults Settings
	// StaleAfter discards persisted states older than this on restore;
	// zero disables the check
	StaleAfter time.Duration
	Clock      security.Clock
	Store      StateStore
	Recorder   TransitionRecorder
	Metrics    *metrics.Metrics
	Logger     *logging.Logger
}

// Registry manages named circuit breakers, created lazily per service.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   RegistryConfig
}

// NewRegistry creates a breaker registry
func NewRegistry(config RegistryConfig) *Registry {
	config.Defaults = config.Defaults.withDefaults()
	if config.Clock == nil {
		config.Clock = security.NewSystemClock()
	}
	if config.Logger == nil {
		config.Logger = logging.GetLogger()
	}

	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// Get returns the breaker for a service, creating it with the registry
// defaults on first use.
func (r *Registry) Get(service string) *CircuitBreaker {
	return r.GetWithSettings(service, r.config.Defaults)
}

// GetWithSettings returns the breaker for a service, creating it with the
// given settings on first use. Settings are fixed at creation; later calls
// with different settings return the existing breaker.
func (r *Registry) GetWithSettings(service string, settings Settings) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[service]; ok {
		return cb
	}

	cb = NewCircuitBreaker(CircuitBreakerConfig{
		Name:     service,
		Settings: settings,
		Clock:    r.config.Clock,
		Store:    r.config.Store,
		Recorder: r.config.Recorder,
		Metrics:  r.config.Metrics,
		Logger:   r.config.Logger,
	})
	r.breakers[service] = cb
	return cb
}

// Execute runs op under the named service's breaker.
func (r *Registry) Execute(ctx context.Context, service string, op func(context.Context) error) error {
	return r.Get(service).Execute(ctx, op)
}

// States returns a snapshot of every registered breaker's state.
func (r *Registry) States() map[string]StateSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]StateSnapshot, len(r.breakers))
	for name, cb := range r.breakers {
		states[name] = cb.Snapshot()
	}
	return states
}

// Reset forces the named breaker back to CLOSED. Unknown services are a
// no-op so operators can reset ahead of first use.
func (r *Registry) Reset(ctx context.Context, service string) {
	r.mu.RLock()
	cb, ok := r.breakers[service]
	r.mu.RUnlock()
	if !ok {
		return
	}

	cb.Reset(ctx)
}

// Healthy reports true iff no registered breaker is OPEN.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		if cb.State() == StateOpen {
			return false
		}
	}
	return true
}

// Restore loads persisted breaker states from the state store and
// recreates their breakers. Snapshots older than StaleAfter are loaded as
// fresh CLOSED breakers.
func (r *Registry) Restore(ctx context.Context) error {
	if r.config.Store == nil {
		return nil
	}

	snapshots, err := r.config.Store.Load(ctx)
	if err != nil {
		return err
	}

	now := r.config.Clock.Now()
	for _, snapshot := range snapshots {
		cb := r.Get(snapshot.Service)

		if r.config.StaleAfter > 0 && now.Sub(snapshot.UpdatedAt) > r.config.StaleAfter {
			r.config.Logger.Info("Discarding stale breaker state",
				"service", snapshot.Service,
				"updated_at", snapshot.UpdatedAt,
			)
			continue
		}

		if err := cb.restore(snapshot); err != nil {
			r.config.Logger.Warn("Failed to restore breaker state",
				"service", snapshot.Service,
				"error", err.Error(),
			)
		}
	}
	return nil
}
