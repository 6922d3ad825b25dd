package security

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashBytes returns the hex-encoded SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the hex-encoded SHA-256 digest of s.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// HashCanonical hashes an arbitrary value through its canonical JSON form.
// encoding/json renders map keys in sorted order, so the digest is stable
// across processes for the same logical content.
func HashCanonical(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize value: %w", err)
	}
	return HashBytes(data), nil
}

// ChainHash combines an entry's content hash with the previous entry's
// chain hash. The first entry of a chain uses an empty previous hash.
func ChainHash(contentHash, previousHash string) string {
	return HashString(contentHash + previousHash)
}
