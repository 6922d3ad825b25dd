// Package resilience provides per-service circuit breaking and retry
// logic for the flowledger reliability core.
//
// This package implements the following patterns:
//
// # Circuit Breaker Pattern
//
// Each named service gets a breaker that counts consecutive failures.
// Reaching the failure threshold opens the circuit; calls are rejected
// until the recovery timeout elapses, then a probe call half-opens it,
// and enough consecutive successes close it again. Transitions can be
// persisted through a StateStore and audited through a TransitionRecorder.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name: "payment-gateway",
//		Settings: resilience.Settings{
//			FailureThreshold: 5,
//			SuccessThreshold: 2,
//			RecoveryTimeout:  time.Minute,
//			OperationTimeout: 30 * time.Second,
//		},
//	})
//
//	err := cb.Execute(ctx, func(ctx context.Context) error {
//		return gateway.Submit(ctx, payment)
//	})
//
// # Breaker Registry
//
// A Registry manages breakers keyed by service name, created lazily on
// first use, with bulk state listing, manual reset, an aggregate health
// check, and state restoration across process restarts.
//
//	registry := resilience.NewRegistry(resilience.RegistryConfig{
//		Defaults: resilience.DefaultSettings(),
//		Store:    stateStore,
//	})
//	_ = registry.Restore(ctx)
//	err := registry.Execute(ctx, "database", queryOp)
//
// # Retry with Exponential Backoff
//
// The retry mechanism automatically retries failed operations with
// exponential backoff and jitter to avoid thundering herd problems.
// Breaker rejections are never retried.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return riskyOperation(ctx)
//	})
//
// # Combined Usage
//
// For maximum resilience, combine both patterns using RetryableOperation:
//
//	op := resilience.NewRetryableOperation("service-name", cbConfig, retryConfig)
//	err := op.Execute(ctx, func(ctx context.Context) error {
//		return externalService.Call(ctx, data)
//	})
//
// # Degradation Assessment
//
// A DegradationPolicy maps the registry's breaker states onto a system-wide
// degradation level (NORMAL, PARTIAL, SEVERE, CRITICAL) used to gate intake
// of new batch work by data sensitivity.
//
//	policy := resilience.NewDegradationPolicy()
//	policy.RegisterService("warehouse", resilience.LevelSevere)
//	report := policy.Assess(registry.States())
//	allowed, reason := report.AllowIntake("CONFIDENTIAL")
//
// The package is designed to be thread-safe and can handle high-concurrency
// scenarios typical in distributed systems.
package resilience
