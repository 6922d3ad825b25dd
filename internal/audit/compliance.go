package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowledger/flowledger/pkg/errors"
	"github.com/flowledger/flowledger/pkg/logging"
	"github.com/flowledger/flowledger/pkg/security"
)

// Rule severities.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
)

// Compliance frameworks supported by report generation.
const (
	FrameworkAML = "AML"
	FrameworkPCI = "PCI_DSS"
	FrameworkSOX = "SOX"
)

// Rule IDs in the static catalog.
const (
	RuleAMLHighValue       = "AML_HIGH_VALUE"
	RuleAMLStructuring     = "AML_STRUCTURING"
	RuleAMLJurisdiction    = "AML_HIGH_RISK_JURISDICTION"
	RuleKYCUnverified      = "KYC_UNVERIFIED"
	RuleKYCPEP             = "KYC_PEP"
	RuleTransactionLimit   = "TRANSACTION_LIMIT"
	RuleSuspiciousRound    = "SUSPICIOUS_ROUND_AMOUNT"
	RuleSuspiciousOffHours = "SUSPICIOUS_OFF_HOURS"
)

// Compliance flags recognized on incoming financial events.
const (
	FlagKYCUnverified        = "KYC_UNVERIFIED"
	FlagPEP                  = "PEP"
	FlagHighRiskJurisdiction = "HIGH_RISK_JURISDICTION"
)

// highRiskJurisdictions are ISO country codes treated as high risk.
var highRiskJurisdictions = map[string]bool{
	"AF": true,
	"IR": true,
	"KP": true,
	"MM": true,
	"SY": true,
}

// RuleCriteria holds the thresholds a rule validates against.
type RuleCriteria struct {
	HighValueAmount decimal.Decimal `json:"high_value_amount,omitempty"`
	RapidWindow     time.Duration   `json:"rapid_window,omitempty"`
	DailyLimit      decimal.Decimal `json:"daily_limit,omitempty"`
}

// ComplianceRule is one static catalog entry. Rules are created at ledger
// construction and never mutated.
type ComplianceRule struct {
	RuleID      string        `json:"rule_id"`
	Framework   string        `json:"framework"`
	Severity    string        `json:"severity"`
	Retention   time.Duration `json:"retention"`
	Description string        `json:"description"`
	Criteria    RuleCriteria  `json:"criteria"`
}

// DefaultComplianceRules builds the rule catalog from ledger configuration.
func DefaultComplianceRules(config *Config) []ComplianceRule {
	highValue := decimal.NewFromFloat(config.HighValueThreshold)
	dailyLimit := decimal.NewFromFloat(config.DailyLimit)
	fiveYears := 5 * 365 * 24 * time.Hour
	sevenYears := 7 * 365 * 24 * time.Hour

	return []ComplianceRule{
		{
			RuleID:      RuleAMLHighValue,
			Framework:   FrameworkAML,
			Severity:    SeverityHigh,
			Retention:   fiveYears,
			Description: "Transactions at or above the high-value threshold require enhanced review",
			Criteria:    RuleCriteria{HighValueAmount: highValue},
		},
		{
			RuleID:      RuleAMLStructuring,
			Framework:   FrameworkAML,
			Severity:    SeverityHigh,
			Retention:   fiveYears,
			Description: "Multiple transactions from one account inside the rapid window suggest structuring",
			Criteria:    RuleCriteria{RapidWindow: config.RapidWindow},
		},
		{
			RuleID:      RuleAMLJurisdiction,
			Framework:   FrameworkAML,
			Severity:    SeverityHigh,
			Retention:   fiveYears,
			Description: "Transactions involving high-risk jurisdictions require enhanced due diligence",
		},
		{
			RuleID:      RuleKYCUnverified,
			Framework:   FrameworkAML,
			Severity:    SeverityCritical,
			Retention:   fiveYears,
			Description: "Transactions from unverified accounts are prohibited",
		},
		{
			RuleID:      RuleKYCPEP,
			Framework:   FrameworkAML,
			Severity:    SeverityHigh,
			Retention:   sevenYears,
			Description: "Politically exposed persons require enhanced monitoring",
		},
		{
			RuleID:      RuleTransactionLimit,
			Framework:   FrameworkSOX,
			Severity:    SeverityHigh,
			Retention:   sevenYears,
			Description: "Cumulative daily account volume exceeds the configured limit",
			Criteria:    RuleCriteria{DailyLimit: dailyLimit},
		},
		{
			RuleID:      RuleSuspiciousRound,
			Framework:   FrameworkAML,
			Severity:    SeverityMedium,
			Retention:   fiveYears,
			Description: "Large round amounts are a suspicious-activity indicator",
			Criteria:    RuleCriteria{HighValueAmount: highValue},
		},
		{
			RuleID:      RuleSuspiciousOffHours,
			Framework:   FrameworkAML,
			Severity:    SeverityMedium,
			Retention:   fiveYears,
			Description: "High-value activity outside business hours is a suspicious-activity indicator",
			Criteria:    RuleCriteria{HighValueAmount: highValue},
		},
	}
}

// runComplianceChecks evaluates the rule catalog against a financial event.
// Account-scoped rules are skipped when the event carries no account or
// user identity.
func (l *Ledger) runComplianceChecks(event *FinancialEvent) []CheckResult {
	var recentCount int
	var dayTotal decimal.Decimal

	key := event.accountKey()
	if key != "" {
		recentCount, dayTotal = l.recordActivity(key, event.Timestamp, event.Amount)
	}

	checks := make([]CheckResult, 0, len(l.rules))
	for _, rule := range l.rules {
		result, applicable := l.evaluateRule(rule, event, key, recentCount, dayTotal)
		if !applicable {
			continue
		}
		checks = append(checks, result)
	}
	return checks
}

func (l *Ledger) evaluateRule(rule ComplianceRule, event *FinancialEvent, accountKey string, recentCount int, dayTotal decimal.Decimal) (CheckResult, bool) {
	result := CheckResult{RuleID: rule.RuleID, Severity: rule.Severity, Passed: true}

	switch rule.RuleID {
	case RuleAMLHighValue:
		if event.Amount.GreaterThanOrEqual(rule.Criteria.HighValueAmount) {
			result.Passed = false
			result.Description = fmt.Sprintf("amount %s %s meets or exceeds the high-value threshold %s",
				event.Amount.String(), event.Currency, rule.Criteria.HighValueAmount.String())
		}

	case RuleAMLStructuring:
		if accountKey == "" {
			return result, false
		}
		if recentCount >= 3 {
			result.Passed = false
			result.Description = fmt.Sprintf("%d transactions from account %s within %s",
				recentCount, accountKey, rule.Criteria.RapidWindow)
		}

	case RuleAMLJurisdiction:
		jurisdiction, _ := event.Metadata["jurisdiction"].(string)
		if highRiskJurisdictions[jurisdiction] || event.hasFlag(FlagHighRiskJurisdiction) {
			result.Passed = false
			result.Description = fmt.Sprintf("transaction involves high-risk jurisdiction %s", jurisdiction)
		}

	case RuleKYCUnverified:
		verified, ok := event.Metadata["kyc_verified"].(bool)
		if event.hasFlag(FlagKYCUnverified) || (ok && !verified) {
			result.Passed = false
			result.Description = "account has not completed KYC verification"
		}

	case RuleKYCPEP:
		if event.hasFlag(FlagPEP) {
			result.Passed = false
			result.Description = "account holder is a politically exposed person"
		}

	case RuleTransactionLimit:
		if accountKey == "" {
			return result, false
		}
		if dayTotal.GreaterThan(rule.Criteria.DailyLimit) {
			result.Passed = false
			result.Description = fmt.Sprintf("cumulative daily volume %s %s exceeds limit %s",
				dayTotal.String(), event.Currency, rule.Criteria.DailyLimit.String())
		}

	case RuleSuspiciousRound:
		if event.Amount.GreaterThanOrEqual(rule.Criteria.HighValueAmount) &&
			event.Amount.Mod(decimal.NewFromInt(1000)).IsZero() {
			result.Passed = false
			result.Description = fmt.Sprintf("round amount %s %s at or above reporting threshold",
				event.Amount.String(), event.Currency)
		}

	case RuleSuspiciousOffHours:
		hour := event.Timestamp.UTC().Hour()
		if event.Amount.GreaterThanOrEqual(rule.Criteria.HighValueAmount) && (hour < 6 || hour >= 22) {
			result.Passed = false
			result.Description = fmt.Sprintf("high-value transaction at %02d:00 UTC is outside business hours", hour)
		}

	default:
		return result, false
	}

	return result, true
}

// Finding is one issue raised by a framework analyzer.
type Finding struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"rule_id,omitempty"`
	Category    string    `json:"category"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	Evidence    []string  `json:"evidence,omitempty"`
	Remediation string    `json:"remediation"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Report is a framework compliance report over a time window. The integrity
// hash covers the summary fields, excluding finding evidence, so the report
// itself is independently verifiable.
type Report struct {
	ID               string          `json:"id"`
	Framework        string          `json:"framework"`
	PeriodStart      time.Time       `json:"period_start"`
	PeriodEnd        time.Time       `json:"period_end"`
	GeneratedAt      time.Time       `json:"generated_at"`
	EntriesExamined  int             `json:"entries_examined"`
	TransactionCount int             `json:"transaction_count"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	FailureCount     int             `json:"failure_count"`
	ComplianceScore  float64         `json:"compliance_score"`
	Findings         []Finding       `json:"findings,omitempty"`
	IntegrityHash    string          `json:"integrity_hash"`
}

// reportSummary is the canonical form hashed into a report's integrity hash.
type reportSummary struct {
	ID               string    `json:"id"`
	Framework        string    `json:"framework"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	GeneratedAt      time.Time `json:"generated_at"`
	EntriesExamined  int       `json:"entries_examined"`
	TransactionCount int       `json:"transaction_count"`
	TotalAmount      string    `json:"total_amount"`
	FailureCount     int       `json:"failure_count"`
	ComplianceScore  float64   `json:"compliance_score"`
	FindingCount     int       `json:"finding_count"`
}

// GenerateComplianceReport builds a report for one framework over
// [start, end]. An unknown framework is a validation error; an empty window
// produces a clean report with a compliance score of 100.
func (l *Ledger) GenerateComplianceReport(ctx context.Context, framework string, start, end time.Time) (*Report, error) {
	switch framework {
	case FrameworkAML, FrameworkPCI, FrameworkSOX:
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unknown compliance framework: %s", framework))
	}

	entries, err := l.entriesInRange(ctx, "", start, end)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:              security.NewEventID(),
		Framework:       framework,
		PeriodStart:     start,
		PeriodEnd:       end,
		GeneratedAt:     l.clock.Now().UTC(),
		EntriesExamined: len(entries),
		TotalAmount:     decimal.Zero,
	}

	successes := 0
	for _, entry := range entries {
		switch entry.Outcome {
		case OutcomeSuccess:
			successes++
		case OutcomeFailure:
			report.FailureCount++
		}

		if entry.EventType != EventTypeFinancial {
			continue
		}
		report.TransactionCount++
		if raw, ok := entry.Details["amount"].(string); ok {
			if amount, err := decimal.NewFromString(raw); err == nil {
				report.TotalAmount = report.TotalAmount.Add(amount)
			}
		}
	}

	if len(entries) > 0 {
		report.ComplianceScore = float64(successes) / float64(len(entries)) * 100
	} else {
		report.ComplianceScore = 100
	}

	switch framework {
	case FrameworkAML:
		report.Findings = l.analyzeAML(entries)
	case FrameworkPCI:
		report.Findings = l.analyzePCI(entries)
	case FrameworkSOX:
		report.Findings = l.analyzeSOX(entries)
	}

	hash, err := security.HashCanonical(reportSummary{
		ID:               report.ID,
		Framework:        report.Framework,
		PeriodStart:      report.PeriodStart,
		PeriodEnd:        report.PeriodEnd,
		GeneratedAt:      report.GeneratedAt,
		EntriesExamined:  report.EntriesExamined,
		TransactionCount: report.TransactionCount,
		TotalAmount:      report.TotalAmount.String(),
		FailureCount:     report.FailureCount,
		ComplianceScore:  report.ComplianceScore,
		FindingCount:     len(report.Findings),
	})
	if err != nil {
		return nil, errors.NewInternalError("failed to hash compliance report").WithCause(err)
	}
	report.IntegrityHash = hash

	if l.metrics != nil {
		l.metrics.RecordReportGenerated(framework)
	}
	l.logger.WithComponent("audit_ledger").WithFields(logging.Fields{
		"framework":        framework,
		"entries_examined": report.EntriesExamined,
		"findings":         len(report.Findings),
		"compliance_score": report.ComplianceScore,
	}).Info("Compliance report generated")

	return report, nil
}

// analyzeAML flags consecutive financial events recorded less than the
// rapid window apart as potential structuring.
func (l *Ledger) analyzeAML(entries []*Entry) []Finding {
	var findings []Finding
	var prev *Entry

	for _, entry := range entries {
		if entry.EventType != EventTypeFinancial {
			continue
		}
		if prev != nil && entry.Timestamp.Sub(prev.Timestamp) < l.config.RapidWindow {
			findings = append(findings, Finding{
				ID:          security.NewEventID(),
				RuleID:      RuleAMLStructuring,
				Category:    "STRUCTURING",
				Severity:    SeverityHigh,
				Description: fmt.Sprintf("consecutive transactions %s apart suggest potential structuring", entry.Timestamp.Sub(prev.Timestamp)),
				Evidence:    []string{prev.ID, entry.ID},
				Remediation: "Review the flagged transactions for structuring and file a suspicious activity report if confirmed",
				DetectedAt:  l.clock.Now().UTC(),
			})
		}
		prev = entry
	}
	return findings
}

// analyzePCI flags entries whose details indicate an unencrypted sensitive
// payload.
func (l *Ledger) analyzePCI(entries []*Entry) []Finding {
	var findings []Finding

	for _, entry := range entries {
		unencrypted, _ := entry.Details["unencrypted_payload"].(bool)
		encryption, _ := entry.Details["encryption"].(string)
		if !unencrypted && encryption != "none" {
			continue
		}
		findings = append(findings, Finding{
			ID:          security.NewEventID(),
			Category:    "DATA_PROTECTION",
			Severity:    SeverityCritical,
			Description: "entry records a sensitive payload handled without encryption",
			Evidence:    []string{entry.ID},
			Remediation: "Encrypt cardholder data at rest and in transit and rotate any keys that may have been exposed",
			DetectedAt:  l.clock.Now().UTC(),
		})
	}
	return findings
}

// analyzeSOX flags failure outcomes that carry no actor attribution as
// control gaps.
func (l *Ledger) analyzeSOX(entries []*Entry) []Finding {
	var findings []Finding

	for _, entry := range entries {
		if entry.Outcome != OutcomeFailure || entry.Actor != "" {
			continue
		}
		findings = append(findings, Finding{
			ID:          security.NewEventID(),
			Category:    "CONTROL_GAP",
			Severity:    SeverityMedium,
			Description: "failure outcome recorded without actor attribution",
			Evidence:    []string{entry.ID},
			Remediation: "Require authenticated actor attribution on all state-changing operations",
			DetectedAt:  l.clock.Now().UTC(),
		})
	}
	return findings
}
