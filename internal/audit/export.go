package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jung-kurt/gofpdf"

	"github.com/flowledger/flowledger/pkg/errors"
	"github.com/flowledger/flowledger/pkg/security"
)

// Exporter renders compliance reports for delivery to auditors. Every
// export carries a verification token binding the report ID to its
// integrity hash, so recipients can check authenticity offline.
type Exporter struct {
	secret   string
	tokenTTL time.Duration
	clock    security.Clock
}

// NewExporter creates a report exporter signing tokens with the ledger
// secret.
func NewExporter(config *Config, clock security.Clock) *Exporter {
	if config == nil {
		config = DefaultConfig()
	}
	if clock == nil {
		clock = security.NewSystemClock()
	}
	return &Exporter{
		secret:   config.SigningSecret,
		tokenTTL: config.ReportTokenTTL,
		clock:    clock,
	}
}

// ExportJSON renders a report with its verification token as indented JSON.
func (e *Exporter) ExportJSON(report *Report) ([]byte, error) {
	token, err := e.VerificationToken(report)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"export_info": map[string]interface{}{
			"generated_at":       e.clock.Now().UTC(),
			"format":             "json",
			"version":            "1.0",
			"verification_token": token,
		},
		"report": report,
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, errors.NewInternalError("failed to marshal report JSON").WithCause(err)
	}
	return data, nil
}

// ExportPDF renders a report as a PDF document.
func (e *Exporter) ExportPDF(report *Report) ([]byte, error) {
	token, err := e.VerificationToken(report)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, fmt.Sprintf("%s Compliance Report", report.Framework))
	pdf.Ln(15)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(40, 10, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(40, 6, fmt.Sprintf("Report ID: %s", report.ID))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Period: %s to %s",
		report.PeriodStart.Format("2006-01-02"), report.PeriodEnd.Format("2006-01-02")))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Entries Examined: %d", report.EntriesExamined))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Transactions: %d (total %s)", report.TransactionCount, report.TotalAmount.String()))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Failures: %d", report.FailureCount))
	pdf.Ln(6)
	pdf.Cell(40, 6, fmt.Sprintf("Compliance Score: %.1f%%", report.ComplianceScore))
	pdf.Ln(12)

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(40, 10, fmt.Sprintf("Findings (%d)", len(report.Findings)))
	pdf.Ln(10)

	if len(report.Findings) == 0 {
		pdf.SetFont("Arial", "", 10)
		pdf.Cell(40, 6, "No findings for this period.")
		pdf.Ln(6)
	}

	for i, finding := range report.Findings {
		if i > 0 {
			pdf.Ln(4)
		}

		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(40, 6, fmt.Sprintf("%d. [%s] %s", i+1, finding.Severity, finding.Category))
		pdf.Ln(6)

		pdf.SetFont("Arial", "", 9)
		pdf.MultiCell(180, 5, finding.Description, "", "", false)
		pdf.MultiCell(180, 5, fmt.Sprintf("Remediation: %s", finding.Remediation), "", "", false)
		if len(finding.Evidence) > 0 {
			pdf.MultiCell(180, 5, fmt.Sprintf("Evidence: %v", finding.Evidence), "", "", false)
		}
	}

	pdf.Ln(8)
	pdf.SetFont("Arial", "I", 8)
	pdf.MultiCell(180, 4, fmt.Sprintf("Integrity hash: %s", report.IntegrityHash), "", "", false)
	pdf.MultiCell(180, 4, fmt.Sprintf("Verification token: %s", token), "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.NewInternalError("failed to render report PDF").WithCause(err)
	}
	return buf.Bytes(), nil
}

// ReportClaims are the JWT claims carried by a verification token.
type ReportClaims struct {
	ReportID      string `json:"report_id"`
	Framework     string `json:"framework"`
	IntegrityHash string `json:"integrity_hash"`
	jwt.RegisteredClaims
}

// VerificationToken signs the report's identity and integrity hash into an
// HS256 token auditors can verify without ledger access.
func (e *Exporter) VerificationToken(report *Report) (string, error) {
	now := e.clock.Now().UTC()

	claims := &ReportClaims{
		ReportID:      report.ID,
		Framework:     report.Framework,
		IntegrityHash: report.IntegrityHash,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "flowledger",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(e.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(e.secret))
	if err != nil {
		return "", errors.NewInternalError("failed to sign verification token").WithCause(err)
	}
	return signed, nil
}

// VerifyToken parses a verification token and returns its claims. Expired
// or tampered tokens fail validation.
func (e *Exporter) VerifyToken(tokenString string) (*ReportClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ReportClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(e.secret), nil
	}, jwt.WithTimeFunc(func() time.Time { return e.clock.Now() }))
	if err != nil {
		return nil, errors.NewValidationError("invalid verification token").WithCause(err)
	}

	claims, ok := token.Claims.(*ReportClaims)
	if !ok || !token.Valid {
		return nil, errors.NewValidationError("invalid verification token")
	}
	return claims, nil
}
