package audit

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowledger/flowledger/pkg/security"
)

// Outcome classifies the result recorded by an audit entry.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomeWarning Outcome = "WARNING"
)

// Event types written by the platform. Callers may append their own types;
// these are the ones the core subsystems emit.
const (
	EventTypeFinancial           = "FINANCIAL_EVENT"
	EventTypeComplianceViolation = "COMPLIANCE_VIOLATION"
	EventTypeBreakerTransition   = "BREAKER_TRANSITION"
	EventTypeBreakerReset        = "BREAKER_RESET"
	EventTypeBatchFailure        = "BATCH_FAILURE"
	EventTypeBatchCompleted      = "BATCH_COMPLETED"
	EventTypeCheckpointCreated   = "CHECKPOINT_CREATED"
	EventTypeRecoveryStrategy    = "RECOVERY_STRATEGY"
	EventTypeRecoveryExecution   = "RECOVERY_EXECUTION"
	EventTypeJobHealth           = "JOB_HEALTH"
)

// DefaultChain receives entries that do not name a logical chain.
const DefaultChain = "default"

// Event is the caller-facing input to Ledger.Append. The ledger assigns
// identity, timestamps, and chain hashes; callers supply only content.
type Event struct {
	EventType  string                 `json:"event_type"`
	EntityID   string                 `json:"entity_id"`
	EntityType string                 `json:"entity_type"`
	Actor      string                 `json:"actor"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	Outcome    Outcome                `json:"outcome"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Chain      string                 `json:"chain,omitempty"`
}

// Entry is one immutable record in a hash chain. Once written it is never
// mutated or deleted; the only operation on a chain is appending.
type Entry struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	EventType    string                 `json:"event_type"`
	EntityID     string                 `json:"entity_id"`
	EntityType   string                 `json:"entity_type"`
	Actor        string                 `json:"actor"`
	Action       string                 `json:"action"`
	Resource     string                 `json:"resource"`
	Outcome      Outcome                `json:"outcome"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Signature    string                 `json:"signature"`
	PreviousHash string                 `json:"previous_hash"`
	ChainHash    string                 `json:"chain_hash"`
	Chain        string                 `json:"chain"`
}

// entryContent is the canonical form hashed into an entry's chain hash.
// Field order is fixed by the struct so the digest is reproducible; the
// details map is rendered with sorted keys by encoding/json.
type entryContent struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	EventType  string                 `json:"event_type"`
	EntityID   string                 `json:"entity_id"`
	EntityType string                 `json:"entity_type"`
	Actor      string                 `json:"actor"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	Outcome    Outcome                `json:"outcome"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Chain      string                 `json:"chain"`
}

// contentHash returns the canonical hash of the entry's own fields,
// excluding the chain linkage and signature.
func contentHash(e *Entry) (string, error) {
	return security.HashCanonical(entryContent{
		ID:         e.ID,
		Timestamp:  e.Timestamp,
		EventType:  e.EventType,
		EntityID:   e.EntityID,
		EntityType: e.EntityType,
		Actor:      e.Actor,
		Action:     e.Action,
		Resource:   e.Resource,
		Outcome:    e.Outcome,
		Details:    e.Details,
		Chain:      e.Chain,
	})
}

// FinancialEvent is the transient input to RecordFinancialEvent. It is not
// persisted itself; it produces one primary audit entry plus a violation
// entry per failed compliance check.
type FinancialEvent struct {
	EventID         string                 `json:"event_id"`
	TransactionID   string                 `json:"transaction_id,omitempty"`
	AccountID       string                 `json:"account_id,omitempty"`
	UserID          string                 `json:"user_id,omitempty"`
	Amount          decimal.Decimal        `json:"amount"`
	Currency        string                 `json:"currency"`
	EventType       string                 `json:"event_type"`
	Timestamp       time.Time              `json:"timestamp"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	RiskScore       float64                `json:"risk_score,omitempty"`
	ComplianceFlags []string               `json:"compliance_flags,omitempty"`
}

// accountKey returns the identity used for per-account compliance state.
func (e *FinancialEvent) accountKey() string {
	if e.AccountID != "" {
		return e.AccountID
	}
	return e.UserID
}

// hasFlag reports whether the event carries a compliance flag.
func (e *FinancialEvent) hasFlag(flag string) bool {
	for _, f := range e.ComplianceFlags {
		if f == flag {
			return true
		}
	}
	return false
}
