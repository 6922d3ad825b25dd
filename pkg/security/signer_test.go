package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_SignVerify(t *testing.T) {
	signer := NewSigner("test-secret-123")

	tests := []struct {
		name string
		hash string
	}{
		{"simple hash", "abc123"},
		{"real digest", HashString("some chain content")},
		{"empty hash", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := signer.Sign(tt.hash)
			assert.NotEmpty(t, token)
			assert.True(t, signer.Verify(tt.hash, token))
		})
	}
}

func TestSigner_Deterministic(t *testing.T) {
	signer := NewSigner("test-secret-123")

	first := signer.Sign("chain-hash-value")
	second := signer.Sign("chain-hash-value")
	assert.Equal(t, first, second)
}

func TestSigner_RejectsTamperedToken(t *testing.T) {
	signer := NewSigner("test-secret-123")

	token := signer.Sign("chain-hash-value")
	assert.False(t, signer.Verify("different-hash", token))
	assert.False(t, signer.Verify("chain-hash-value", "deadbeef"))
	assert.False(t, signer.Verify("chain-hash-value", "not-hex!"))
}

func TestSigner_DifferentSecrets(t *testing.T) {
	a := NewSigner("secret-a")
	b := NewSigner("secret-b")

	token := a.Sign("chain-hash-value")
	assert.False(t, b.Verify("chain-hash-value", token))
}

func TestHashCanonical_Deterministic(t *testing.T) {
	// Same logical content built in different insertion orders must hash
	// identically.
	first := map[string]interface{}{"b": 2, "a": "x", "c": map[string]interface{}{"z": 1, "y": 2}}
	second := map[string]interface{}{"c": map[string]interface{}{"y": 2, "z": 1}, "a": "x", "b": 2}

	h1, err := HashCanonical(first)
	require.NoError(t, err)
	h2, err := HashCanonical(second)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashCanonical_SensitiveToContent(t *testing.T) {
	h1, err := HashCanonical(map[string]interface{}{"amount": 100})
	require.NoError(t, err)
	h2, err := HashCanonical(map[string]interface{}{"amount": 101})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestChainHash(t *testing.T) {
	content := HashString("entry content")

	genesis := ChainHash(content, "")
	linked := ChainHash(content, genesis)

	assert.NotEqual(t, genesis, linked)
	assert.Equal(t, genesis, ChainHash(content, ""))
}

func TestManualClock(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	assert.Equal(t, start, clock.Now())

	clock.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), clock.Now())

	clock.Set(start.Add(time.Hour))
	assert.Equal(t, start.Add(time.Hour), clock.Now())
}

func TestNewEntryID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewEntryID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
