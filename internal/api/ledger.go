package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/flowledger/flowledger/internal/audit"
	"github.com/flowledger/flowledger/internal/telemetry"
)

// LedgerHandler exposes chain verification, financial event intake, and
// the compliance rule catalog.
type LedgerHandler struct {
	ledger *audit.Ledger
	sink   *telemetry.Sink
}

// NewLedgerHandler creates a ledger handler. The sink is optional; when
// present, every verification feeds a chain integrity sample into it.
func NewLedgerHandler(ledger *audit.Ledger, sink *telemetry.Sink) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, sink: sink}
}

// RecordEventRequest is the intake body for a financial event
type RecordEventRequest struct {
	TransactionID   string                 `json:"transaction_id"`
	AccountID       string                 `json:"account_id"`
	UserID          string                 `json:"user_id"`
	Amount          decimal.Decimal        `json:"amount"`
	Currency        string                 `json:"currency" binding:"required"`
	EventType       string                 `json:"event_type" binding:"required"`
	Timestamp       time.Time              `json:"timestamp"`
	Metadata        map[string]interface{} `json:"metadata"`
	RiskScore       float64                `json:"risk_score"`
	ComplianceFlags []string               `json:"compliance_flags"`
}

// RecordEvent appends a financial event and runs the compliance catalog
// against it. Violations never reject the event; they are returned with
// the result.
func (h *LedgerHandler) RecordEvent(c *gin.Context) {
	var req RecordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.ledger.RecordFinancialEvent(c.Request.Context(), audit.FinancialEvent{
		TransactionID:   req.TransactionID,
		AccountID:       req.AccountID,
		UserID:          req.UserID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		EventType:       req.EventType,
		Timestamp:       req.Timestamp,
		Metadata:        req.Metadata,
		RiskScore:       req.RiskScore,
		ComplianceFlags: req.ComplianceFlags,
	})
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	CreatedResponse(c, result)
}

// VerifyChain walks a chain checking linkage, hashes, and signatures.
// Violations come back in the result body; only store failures error.
func (h *LedgerHandler) VerifyChain(c *gin.Context) {
	chain := c.Param("chain")

	from, ok := parseTimeParam(c, "from")
	if !ok {
		return
	}
	to, ok := parseTimeParam(c, "to")
	if !ok {
		return
	}

	result, err := h.ledger.VerifyChain(c.Request.Context(), chain, from, to)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	if h.sink != nil {
		h.sink.RecordValue("chain_integrity_score", result.IntegrityScore, "ratio",
			map[string]string{"chain": chain})
	}

	SuccessResponse(c, result)
}

// RecentEntries returns the in-memory ring of recent ledger entries
func (h *LedgerHandler) RecentEntries(c *gin.Context) {
	entries := h.ledger.Recent()
	SuccessResponse(c, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// ListRules returns the compliance rule catalog
func (h *LedgerHandler) ListRules(c *gin.Context) {
	rules := h.ledger.Rules()
	SuccessResponse(c, gin.H{
		"rules": rules,
		"count": len(rules),
	})
}

// parseTimeParam reads an optional RFC3339 query parameter. On a malformed
// value it writes a 400 response and reports false.
func parseTimeParam(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		BadRequestResponse(c, "Invalid "+name+" timestamp, expected RFC3339")
		return time.Time{}, false
	}
	return t, true
}
