package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flowledger/flowledger/internal/audit"
	"github.com/flowledger/flowledger/internal/cache"
	"github.com/flowledger/flowledger/pkg/logging"
)

// ReportHandler generates compliance reports and serves their exports.
// Exported JSON payloads are cached by report ID so auditors can re-fetch
// a report without regenerating it.
type ReportHandler struct {
	ledger    *audit.Ledger
	exporter  *audit.Exporter
	snapshots *cache.SnapshotCache
	logger    *logging.Logger
}

// NewReportHandler creates a report handler. The snapshot cache is
// optional; without it GetReport always misses.
func NewReportHandler(ledger *audit.Ledger, exporter *audit.Exporter, snapshots *cache.SnapshotCache, logger *logging.Logger) *ReportHandler {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &ReportHandler{
		ledger:    ledger,
		exporter:  exporter,
		snapshots: snapshots,
		logger:    logger,
	}
}

// GenerateReportRequest selects the framework and reporting period
type GenerateReportRequest struct {
	Framework   string    `json:"framework" binding:"required,oneof=AML PCI_DSS SOX"`
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
	Format      string    `json:"format" binding:"omitempty,oneof=json pdf"`
}

// GenerateReport builds a compliance report over the requested period and
// returns it in the requested format. The JSON export is cached either way.
func (h *ReportHandler) GenerateReport(c *gin.Context) {
	var req GenerateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}
	if !req.PeriodEnd.After(req.PeriodStart) {
		BadRequestResponse(c, "period_end must be after period_start")
		return
	}

	ctx := c.Request.Context()

	report, err := h.ledger.GenerateComplianceReport(ctx, req.Framework, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	payload, err := h.exporter.ExportJSON(report)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	if h.snapshots != nil {
		if err := h.snapshots.SetReportPayload(ctx, report.ID, payload); err != nil {
			h.logger.WithComponent("api").WithError(err).
				WithField("report_id", report.ID).
				Warn("failed to cache report payload")
		}
	}

	if req.Format == "pdf" {
		pdf, err := h.exporter.ExportPDF(report)
		if err != nil {
			ErrorResponseFromError(c, err)
			return
		}
		token, err := h.exporter.VerificationToken(report)
		if err != nil {
			ErrorResponseFromError(c, err)
			return
		}
		c.Header("X-Verification-Token", token)
		c.Header("Content-Disposition", `attachment; filename="`+report.Framework+"-"+report.ID+`.pdf"`)
		c.Data(http.StatusOK, "application/pdf", pdf)
		return
	}

	CreatedResponse(c, json.RawMessage(payload))
}

// GetReport serves a previously generated report from the cache
func (h *ReportHandler) GetReport(c *gin.Context) {
	if h.snapshots == nil {
		NotFoundResponse(c, "Report not found or expired")
		return
	}

	payload, err := h.snapshots.GetReportPayload(c.Request.Context(), c.Param("id"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, json.RawMessage(payload))
}

// VerifyReportRequest carries a verification token for validation
type VerifyReportRequest struct {
	Token string `json:"token" binding:"required"`
}

// VerifyReport validates a report verification token and returns its
// claims, so auditors can confirm a report's identity and integrity hash
// without ledger access.
func (h *ReportHandler) VerifyReport(c *gin.Context) {
	var req VerifyReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	claims, err := h.exporter.VerifyToken(req.Token)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, gin.H{
		"valid":          true,
		"report_id":      claims.ReportID,
		"framework":      claims.Framework,
		"integrity_hash": claims.IntegrityHash,
		"issued_at":      claims.IssuedAt,
		"expires_at":     claims.ExpiresAt,
	})
}
