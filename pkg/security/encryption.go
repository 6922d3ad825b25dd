package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/flowledger/flowledger/pkg/errors"
)

// EncryptionService seals payloads that must not be stored in the clear
// outside the process, such as record samples from confidential batches
// landing in the dead letter queue.
type EncryptionService struct {
	key []byte
}

// NewEncryptionService derives a 32-byte AES key from the given secret.
func NewEncryptionService(secret string) *EncryptionService {
	salt := []byte("flowledger-sealing-salt-v1")
	key := pbkdf2.Key([]byte(secret), salt, 10000, 32, sha256.New)

	return &EncryptionService{key: key}
}

// Encrypt seals plaintext with AES-GCM. The nonce is prepended to the
// ciphertext and the whole token is base64 encoded. An empty plaintext
// seals to an empty token.
func (e *EncryptionService) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt. Tampered or wrong-key tokens
// fail with an integrity error.
func (e *EncryptionService) Decrypt(token string) (string, error) {
	if token == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", errors.NewIntegrityError("sealed payload is not valid base64").WithCause(err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.NewIntegrityError("sealed payload is too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.NewIntegrityError("sealed payload failed authentication").WithCause(err)
	}

	return string(plaintext), nil
}

// SealJSON marshals v and encrypts the rendering.
func (e *EncryptionService) SealJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return e.Encrypt(string(data))
}

// OpenJSON decrypts a token produced by SealJSON and unmarshals it into
// dest.
func (e *EncryptionService) OpenJSON(token string, dest interface{}) error {
	plaintext, err := e.Decrypt(token)
	if err != nil {
		return err
	}
	if plaintext == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(plaintext), dest); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
