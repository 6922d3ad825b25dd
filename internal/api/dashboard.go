package api

import (
	"github.com/gin-gonic/gin"

	"github.com/flowledger/flowledger/internal/monitoring"
	"github.com/flowledger/flowledger/internal/telemetry"
	"github.com/flowledger/flowledger/pkg/alerting"
)

// DashboardHandler serves the operational snapshot views
type DashboardHandler struct {
	sink    *telemetry.Sink
	monitor *monitoring.Service
	alerts  *alerting.Service
}

// NewDashboardHandler creates a dashboard handler
func NewDashboardHandler(sink *telemetry.Sink, monitor *monitoring.Service, alerts *alerting.Service) *DashboardHandler {
	return &DashboardHandler{
		sink:    sink,
		monitor: monitor,
		alerts:  alerts,
	}
}

// GetDashboard returns the current dashboard state, cache-first with a
// live rebuild on miss
func (h *DashboardHandler) GetDashboard(c *gin.Context) {
	SuccessResponse(c, h.sink.Dashboard(c.Request.Context()))
}

// GetResources returns the latest resource snapshot
func (h *DashboardHandler) GetResources(c *gin.Context) {
	SuccessResponse(c, h.monitor.ResourceStatus())
}

// GetAlerts returns currently active alerts
func (h *DashboardHandler) GetAlerts(c *gin.Context) {
	alerts := h.alerts.GetActiveAlerts()
	SuccessResponse(c, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}
