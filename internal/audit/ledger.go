package audit

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowledger/flowledger/pkg/alerting"
	"github.com/flowledger/flowledger/pkg/errors"
	"github.com/flowledger/flowledger/pkg/logging"
	"github.com/flowledger/flowledger/pkg/metrics"
	"github.com/flowledger/flowledger/pkg/security"
)

// ChainFinancial is the logical chain that receives financial events and
// their compliance violations.
const ChainFinancial = "financial"

// Config contains audit ledger configuration
type Config struct {
	RingCapacity       int           `json:"ring_capacity"`
	SigningSecret      string        `json:"signing_secret"`
	HighValueThreshold float64       `json:"high_value_threshold"`
	RapidWindow        time.Duration `json:"rapid_window"`
	DailyLimit         float64       `json:"daily_limit"`
	ReportTokenTTL     time.Duration `json:"report_token_ttl"`
}

// DefaultConfig returns default ledger configuration
func DefaultConfig() *Config {
	return &Config{
		RingCapacity:       10000,
		SigningSecret:      "flowledger-dev-secret",
		HighValueThreshold: 10000,
		RapidWindow:        60 * time.Second,
		DailyLimit:         50000,
		ReportTokenTTL:     30 * 24 * time.Hour,
	}
}

// Ledger is the append-only, hash-chained audit store. Every entry links to
// its predecessor within a logical chain; appending is the only mutation.
// Entries land in a bounded in-memory ring and, when a Store is configured,
// are mirrored durably. Store write failures propagate to the caller.
type Ledger struct {
	config  *Config
	store   Store
	ring    *Ring
	signer  *security.Signer
	clock   security.Clock
	logger  *logging.Logger
	metrics *metrics.Metrics
	alerts  *alerting.Service

	rules []ComplianceRule

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	lastHash map[string]string

	activityMu sync.Mutex
	activity   map[string]*accountActivity
}

// accountActivity tracks per-account state for the structuring and
// transaction-limit checks.
type accountActivity struct {
	timestamps []time.Time
	day        time.Time
	dailyTotal decimal.Decimal
}

// NewLedger creates an audit ledger. The store may be nil, in which case
// entries live only in the ring buffer; metrics and alerts may be nil.
func NewLedger(config *Config, store Store, clock security.Clock, logger *logging.Logger, m *metrics.Metrics, alerts *alerting.Service) *Ledger {
	if config == nil {
		config = DefaultConfig()
	}
	if clock == nil {
		clock = security.NewSystemClock()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Ledger{
		config:   config,
		store:    store,
		ring:     NewRing(config.RingCapacity),
		signer:   security.NewSigner(config.SigningSecret),
		clock:    clock,
		logger:   logger,
		metrics:  m,
		alerts:   alerts,
		rules:    DefaultComplianceRules(config),
		locks:    make(map[string]*sync.Mutex),
		lastHash: make(map[string]string),
		activity: make(map[string]*accountActivity),
	}
}

// Append writes one entry to the ledger and returns its ID. The read of the
// chain head, hash computation, and write are atomic per chain. A store
// write failure surfaces as an error and leaves the chain unchanged.
func (l *Ledger) Append(ctx context.Context, event Event) (string, error) {
	start := l.clock.Now()

	if event.EventType == "" {
		return "", errors.NewValidationError("event type is required")
	}
	if event.Outcome == "" {
		event.Outcome = OutcomeSuccess
	}
	chain := event.Chain
	if chain == "" {
		chain = DefaultChain
	}

	lock := l.chainLock(chain)
	lock.Lock()
	defer lock.Unlock()

	previousHash, err := l.chainHead(ctx, chain)
	if err != nil {
		return "", err
	}

	entry := &Entry{
		ID:           security.NewEntryID(),
		Timestamp:    l.clock.Now().UTC(),
		EventType:    event.EventType,
		EntityID:     event.EntityID,
		EntityType:   event.EntityType,
		Actor:        event.Actor,
		Action:       event.Action,
		Resource:     event.Resource,
		Outcome:      event.Outcome,
		Details:      event.Details,
		Chain:        chain,
		PreviousHash: previousHash,
	}

	content, err := contentHash(entry)
	if err != nil {
		return "", errors.NewInternalError("failed to canonicalize audit entry").WithCause(err)
	}
	entry.ChainHash = security.ChainHash(content, previousHash)
	entry.Signature = l.signer.Sign(entry.ChainHash)

	if l.store != nil {
		if err := l.store.AppendEntry(ctx, entry); err != nil {
			if l.metrics != nil {
				l.metrics.RecordError("audit_ledger", "store_append")
			}
			return "", errors.NewLedgerWriteError(chain, "failed to persist audit entry").WithCause(err)
		}
	}

	l.ring.Push(entry)
	l.setChainHead(chain, entry.ChainHash)

	if l.metrics != nil {
		l.metrics.RecordLedgerEntry(entry.EventType, string(entry.Outcome), l.clock.Now().Sub(start))
	}
	l.logger.LogLedgerEvent(ctx, "entry_appended", chain, entry.ID, entry.EntityID, logging.Fields{
		"event_type": entry.EventType,
		"outcome":    string(entry.Outcome),
	})

	return entry.ID, nil
}

// Violation types reported by VerifyChain.
const (
	ViolationLinkBroken        = "LINK_BROKEN"
	ViolationChainHashMismatch = "CHAIN_HASH_MISMATCH"
	ViolationSignatureInvalid  = "SIGNATURE_INVALID"
)

// Violation describes one integrity failure found during verification.
type Violation struct {
	EntryID     string `json:"entry_id"`
	Index       int    `json:"index"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// VerificationResult summarizes a chain walk. Violations are findings, not
// errors; verification never fails a caller because the chain is bad.
type VerificationResult struct {
	Chain          string      `json:"chain"`
	Valid          bool        `json:"valid"`
	IntegrityScore float64     `json:"integrity_score"`
	TotalEntries   int         `json:"total_entries"`
	ValidEntries   int         `json:"valid_entries"`
	Violations     []Violation `json:"violations,omitempty"`
	VerifiedAt     time.Time   `json:"verified_at"`
}

// VerifyChain walks a chain, optionally restricted to [from, to], and checks
// linkage, chain-hash recomputation, and signature recomputation for every
// entry. An empty range is valid with an integrity score of 1.0. Only store
// read failures return an error.
func (l *Ledger) VerifyChain(ctx context.Context, chain string, from, to time.Time) (*VerificationResult, error) {
	if chain == "" {
		chain = DefaultChain
	}

	entries, err := l.entriesInRange(ctx, chain, from, to)
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{
		Chain:        chain,
		TotalEntries: len(entries),
		VerifiedAt:   l.clock.Now().UTC(),
	}

	if len(entries) == 0 {
		result.Valid = true
		result.IntegrityScore = 1.0
		return result, nil
	}

	for i, entry := range entries {
		entryValid := true

		content, err := contentHash(entry)
		if err != nil || security.ChainHash(content, entry.PreviousHash) != entry.ChainHash {
			entryValid = false
			result.Violations = append(result.Violations, Violation{
				EntryID:     entry.ID,
				Index:       i,
				Type:        ViolationChainHashMismatch,
				Severity:    SeverityCritical,
				Description: "chain hash does not match recomputed entry content",
			})
		}

		if !l.signer.Verify(entry.ChainHash, entry.Signature) {
			entryValid = false
			result.Violations = append(result.Violations, Violation{
				EntryID:     entry.ID,
				Index:       i,
				Type:        ViolationSignatureInvalid,
				Severity:    SeverityCritical,
				Description: "signature does not match recomputed chain hash",
			})
		}

		if i > 0 && entry.PreviousHash != entries[i-1].ChainHash {
			entryValid = false
			result.Violations = append(result.Violations, Violation{
				EntryID:     entry.ID,
				Index:       i,
				Type:        ViolationLinkBroken,
				Severity:    SeverityCritical,
				Description: "previous hash does not match the preceding entry's chain hash",
			})
		}

		if entryValid {
			result.ValidEntries++
		}
	}

	result.IntegrityScore = float64(result.ValidEntries) / float64(result.TotalEntries)
	result.Valid = len(result.Violations) == 0

	if l.metrics != nil {
		l.metrics.RecordChainVerification(chain, result.Valid)
	}
	if !result.Valid {
		l.logger.WithComponent("audit_ledger").WithFields(logging.Fields{
			"chain":           chain,
			"violations":      len(result.Violations),
			"integrity_score": result.IntegrityScore,
		}).Warn("Chain verification found integrity violations")

		if l.alerts != nil {
			_ = l.alerts.TriggerFromError(ctx,
				errors.NewIntegrityError("audit chain verification failed"),
				"audit_ledger",
				map[string]string{"chain": chain},
			)
		}
	}

	return result, nil
}

// CheckResult is the outcome of one compliance check run against a
// financial event.
type CheckResult struct {
	RuleID           string `json:"rule_id"`
	Passed           bool   `json:"passed"`
	Severity         string `json:"severity"`
	Description      string `json:"description"`
	ViolationEntryID string `json:"violation_entry_id,omitempty"`
}

// RecordResult reports the primary entry and any compliance violations
// produced by recording a financial event.
type RecordResult struct {
	EntryID    string        `json:"entry_id"`
	ChecksRun  int           `json:"checks_run"`
	Violations []CheckResult `json:"violations,omitempty"`
}

// RecordFinancialEvent appends one primary entry for the event and runs the
// compliance rule catalog against it. Each failed check appends its own
// COMPLIANCE_VIOLATION entry and raises an alert; check failures never
// abort the primary recording. Identical events are recorded again, never
// deduplicated. A returned error alongside a non-nil result means a
// violation entry failed to persist after the primary append succeeded.
func (l *Ledger) RecordFinancialEvent(ctx context.Context, event FinancialEvent) (*RecordResult, error) {
	if event.EventType == "" {
		return nil, errors.NewValidationError("financial event type is required")
	}
	if event.EventID == "" {
		event.EventID = security.NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock.Now().UTC()
	}

	entityID := event.TransactionID
	if entityID == "" {
		entityID = event.EventID
	}
	actor := event.UserID
	if actor == "" {
		actor = "system"
	}

	details := map[string]interface{}{
		"event_id": event.EventID,
		"amount":   event.Amount.String(),
		"currency": event.Currency,
	}
	if event.TransactionID != "" {
		details["transaction_id"] = event.TransactionID
	}
	if event.AccountID != "" {
		details["account_id"] = event.AccountID
	}
	if event.RiskScore > 0 {
		details["risk_score"] = event.RiskScore
	}
	if len(event.ComplianceFlags) > 0 {
		details["compliance_flags"] = event.ComplianceFlags
	}
	for k, v := range event.Metadata {
		details["meta_"+k] = v
	}

	entryID, err := l.Append(ctx, Event{
		EventType:  EventTypeFinancial,
		EntityID:   entityID,
		EntityType: "TRANSACTION",
		Actor:      actor,
		Action:     event.EventType,
		Resource:   event.AccountID,
		Outcome:    OutcomeSuccess,
		Details:    details,
		Chain:      ChainFinancial,
	})
	if err != nil {
		return nil, err
	}

	result := &RecordResult{EntryID: entryID}
	var writeErr error

	for _, check := range l.runComplianceChecks(&event) {
		result.ChecksRun++

		if l.metrics != nil {
			l.metrics.RecordComplianceCheck(check.RuleID, check.Passed)
		}
		l.logger.LogComplianceEvent(ctx, check.RuleID, entityID, check.Passed, logging.Fields{
			"amount":   event.Amount.String(),
			"currency": event.Currency,
		})

		if check.Passed {
			continue
		}

		if l.metrics != nil {
			l.metrics.RecordComplianceViolation(check.RuleID, check.Severity)
		}

		violationID, err := l.Append(ctx, Event{
			EventType:  EventTypeComplianceViolation,
			EntityID:   entityID,
			EntityType: "TRANSACTION",
			Actor:      actor,
			Action:     check.RuleID,
			Resource:   event.AccountID,
			Outcome:    OutcomeFailure,
			Details: map[string]interface{}{
				"rule_id":     check.RuleID,
				"severity":    check.Severity,
				"description": check.Description,
				"event_id":    event.EventID,
				"amount":      event.Amount.String(),
				"currency":    event.Currency,
			},
			Chain: ChainFinancial,
		})
		if err != nil {
			if writeErr == nil {
				writeErr = err
			}
		} else {
			check.ViolationEntryID = violationID
		}
		result.Violations = append(result.Violations, check)

		if l.alerts != nil {
			_ = l.alerts.TriggerAlert(ctx, &alerting.Alert{
				Title:       "Compliance Violation",
				Description: check.Description,
				Severity:    alertSeverity(check.Severity),
				Component:   "audit_ledger",
				Labels: map[string]string{
					"rule":      check.RuleID,
					"entity_id": entityID,
				},
			})
		}
	}

	return result, writeErr
}

// Recent returns the most recent in-memory entries, oldest first.
func (l *Ledger) Recent() []*Entry {
	return l.ring.Snapshot()
}

// Rules returns the compliance rule catalog.
func (l *Ledger) Rules() []ComplianceRule {
	out := make([]ComplianceRule, len(l.rules))
	copy(out, l.rules)
	return out
}

func (l *Ledger) chainLock(chain string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[chain]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[chain] = lock
	}
	return lock
}

// chainHead returns the chain hash of the last entry in a chain, loading it
// from the store on first use. Callers hold the chain lock.
func (l *Ledger) chainHead(ctx context.Context, chain string) (string, error) {
	l.mu.Lock()
	head, ok := l.lastHash[chain]
	l.mu.Unlock()
	if ok {
		return head, nil
	}

	if l.store != nil {
		latest, err := l.store.LatestEntry(ctx, chain)
		if err != nil {
			return "", errors.NewInternalError("failed to read chain head").WithCause(err)
		}
		if latest != nil {
			return latest.ChainHash, nil
		}
	}
	return "", nil
}

func (l *Ledger) setChainHead(chain, hash string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastHash[chain] = hash
}

// entriesInRange reads a chain's entries from the store when one is
// configured, falling back to the ring buffer otherwise.
func (l *Ledger) entriesInRange(ctx context.Context, chain string, from, to time.Time) ([]*Entry, error) {
	query := EntryQuery{Chain: chain, From: from, To: to}

	if l.store != nil {
		entries, err := l.store.ListEntries(ctx, query)
		if err != nil {
			return nil, errors.NewInternalError("failed to read audit entries").WithCause(err)
		}
		return entries, nil
	}

	var entries []*Entry
	for _, e := range l.ring.Snapshot() {
		if matchesQuery(e, query) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// recordActivity updates per-account structuring and daily-total state and
// returns the number of events inside the rapid window (including this one)
// and the cumulative amount for the event's UTC day.
func (l *Ledger) recordActivity(key string, ts time.Time, amount decimal.Decimal) (int, decimal.Decimal) {
	l.activityMu.Lock()
	defer l.activityMu.Unlock()

	act, ok := l.activity[key]
	if !ok {
		act = &accountActivity{}
		l.activity[key] = act
	}

	cutoff := ts.Add(-l.config.RapidWindow)
	kept := act.timestamps[:0]
	for _, t := range act.timestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	act.timestamps = append(kept, ts)

	day := ts.UTC().Truncate(24 * time.Hour)
	if !act.day.Equal(day) {
		act.day = day
		act.dailyTotal = decimal.Zero
	}
	act.dailyTotal = act.dailyTotal.Add(amount)

	return len(act.timestamps), act.dailyTotal
}

func alertSeverity(ruleSeverity string) alerting.Severity {
	switch ruleSeverity {
	case SeverityCritical, SeverityHigh:
		return alerting.SeverityCritical
	case SeverityMedium:
		return alerting.SeverityWarning
	default:
		return alerting.SeverityInfo
	}
}
