package api

import (
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/flowledger/flowledger/pkg/resilience"
)

// BreakerHandler exposes circuit breaker state and operator resets.
type BreakerHandler struct {
	registry *resilience.Registry
}

// NewBreakerHandler creates a breaker handler
func NewBreakerHandler(registry *resilience.Registry) *BreakerHandler {
	return &BreakerHandler{registry: registry}
}

// ListBreakers returns every registered breaker's state snapshot
func (h *BreakerHandler) ListBreakers(c *gin.Context) {
	states := h.registry.States()

	services := make([]string, 0, len(states))
	for service := range states {
		services = append(services, service)
	}
	sort.Strings(services)

	snapshots := make([]resilience.StateSnapshot, 0, len(services))
	openCount := 0
	for _, service := range services {
		snapshot := states[service]
		snapshots = append(snapshots, snapshot)
		if snapshot.State == resilience.StateOpen.String() {
			openCount++
		}
	}

	SuccessResponse(c, gin.H{
		"breakers": snapshots,
		"total":    len(snapshots),
		"open":     openCount,
		"healthy":  h.registry.Healthy(),
	})
}

// GetBreaker returns the state of a single service's breaker
func (h *BreakerHandler) GetBreaker(c *gin.Context) {
	service := c.Param("service")

	states := h.registry.States()
	snapshot, ok := states[service]
	if !ok {
		NotFoundResponse(c, "No circuit breaker registered for service")
		return
	}

	SuccessResponse(c, snapshot)
}

// ResetBreaker forces a service's breaker back to CLOSED. The transition
// is recorded on the ledger like any other.
func (h *BreakerHandler) ResetBreaker(c *gin.Context) {
	service := c.Param("service")

	if _, ok := h.registry.States()[service]; !ok {
		NotFoundResponse(c, "No circuit breaker registered for service")
		return
	}

	h.registry.Reset(c.Request.Context(), service)

	SuccessResponse(c, gin.H{
		"service": service,
		"state":   resilience.StateClosed.String(),
	})
}
