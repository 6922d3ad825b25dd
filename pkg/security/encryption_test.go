package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/flowledger/flowledger/pkg/errors"
)

func TestEncryptionService_EncryptDecrypt(t *testing.T) {
	service := NewEncryptionService("test-sealing-secret")

	tests := []struct {
		name      string
		plaintext string
	}{
		{"simple text", "hello world"},
		{"special characters", "!@#$%^&*()_+-=[]{}|;':\",./<>?"},
		{"unicode", "transaksi 世界 🌍"},
		{"json payload", `{"account_id":"acct-1","amount":"1204.50"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := service.Encrypt(tt.plaintext)
			require.NoError(t, err)
			assert.NotEmpty(t, token)
			assert.NotEqual(t, tt.plaintext, token)

			decrypted, err := service.Decrypt(token)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, decrypted)
		})
	}
}

func TestEncryptionService_EmptyPlaintext(t *testing.T) {
	service := NewEncryptionService("test-sealing-secret")

	token, err := service.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", token)

	plaintext, err := service.Decrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", plaintext)
}

func TestEncryptionService_NonceVariesPerSeal(t *testing.T) {
	service := NewEncryptionService("test-sealing-secret")

	first, err := service.Encrypt("same payload")
	require.NoError(t, err)
	second, err := service.Encrypt("same payload")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestEncryptionService_WrongKeyFails(t *testing.T) {
	sealer := NewEncryptionService("correct-secret")
	opener := NewEncryptionService("wrong-secret")

	token, err := sealer.Encrypt("confidential sample")
	require.NoError(t, err)

	_, err = opener.Decrypt(token)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeIntegrity))
}

func TestEncryptionService_TamperedTokenFails(t *testing.T) {
	service := NewEncryptionService("test-sealing-secret")

	token, err := service.Encrypt("confidential sample")
	require.NoError(t, err)

	tampered := []byte(token)
	tampered[len(tampered)/2] ^= 0x01
	_, err = service.Decrypt(string(tampered))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeIntegrity))
}

func TestEncryptionService_InvalidTokenFails(t *testing.T) {
	service := NewEncryptionService("test-sealing-secret")

	_, err := service.Decrypt("not base64 at all %%%")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeIntegrity))

	_, err = service.Decrypt("c2hvcnQ=")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeIntegrity))
}

func TestEncryptionService_SealOpenJSON(t *testing.T) {
	service := NewEncryptionService("test-sealing-secret")

	payload := []interface{}{
		map[string]interface{}{"txn": "txn-1", "amount": 120.50},
		map[string]interface{}{"txn": "txn-2", "amount": 88.00},
	}

	token, err := service.SealJSON(payload)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	var opened []interface{}
	require.NoError(t, service.OpenJSON(token, &opened))
	require.Len(t, opened, 2)

	first, ok := opened[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "txn-1", first["txn"])
	assert.Equal(t, 120.50, first["amount"])
}
