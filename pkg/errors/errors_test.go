package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without cause",
			err:  NewValidationError("invalid input"),
			want: "VALIDATION_ERROR: invalid input",
		},
		{
			name: "with cause",
			err:  NewInternalError("operation failed").WithCause(errors.New("db down")),
			want: "INTERNAL_ERROR: operation failed (caused by: db down)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying failure")
	err := NewLedgerWriteError("job-1", "append failed").WithCause(cause)

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))

	wrapped := fmt.Errorf("outer: %w", err)
	var appErr *AppError
	assert.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, "LEDGER_WRITE_ERROR", appErr.Code)
}

func TestDomainConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		wantType ErrorType
		wantCode string
	}{
		{"breaker open", NewBreakerOpenError("database"), ErrorTypeUnavailable, "CIRCUIT_BREAKER_OPEN"},
		{"compliance", NewComplianceError("AML_HIGH_VALUE", "amount over threshold"), ErrorTypeCompliance, "COMPLIANCE_VIOLATION"},
		{"integrity", NewIntegrityError("chain hash mismatch"), ErrorTypeIntegrity, "CHAIN_INTEGRITY_ERROR"},
		{"exhausted", NewResourceExhaustedError("batch value over ceiling"), ErrorTypeExhausted, "RESOURCE_EXHAUSTED"},
		{"ledger write", NewLedgerWriteError("job-9", "store unavailable"), ErrorTypeInternal, "LEDGER_WRITE_ERROR"},
		{"not found", NewNotFoundError("checkpoint"), ErrorTypeNotFound, "NOT_FOUND"},
		{"timeout", NewTimeoutError("processBatch"), ErrorTypeTimeout, "TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.True(t, IsType(tt.err, tt.wantType))
		})
	}
}

func TestNewBreakerOpenError_Details(t *testing.T) {
	err := NewBreakerOpenError("payment-gateway")
	assert.Equal(t, "payment-gateway", err.Details["service"])
	assert.Contains(t, err.Message, "payment-gateway")
}

func TestIsType_NonAppError(t *testing.T) {
	assert.False(t, IsType(errors.New("plain"), ErrorTypeInternal))
	assert.Equal(t, "UNKNOWN_ERROR", GetCode(errors.New("plain")))
	assert.Equal(t, ErrorTypeInternal, GetType(errors.New("plain")))
}

func TestWithDetail(t *testing.T) {
	err := NewComplianceError("PCI_UNENCRYPTED", "card data in clear").
		WithDetail("entity_id", "txn-42").
		WithDetail("framework", "PCI-DSS")

	assert.Equal(t, "txn-42", err.Details["entity_id"])
	assert.Equal(t, "PCI-DSS", err.Details["framework"])
	assert.Equal(t, "PCI_UNENCRYPTED", err.Details["rule"])
}
