package cache

import (
	"encoding/hex"
	"strings"

	sha256 "github.com/minio/sha256-simd"
)

// Keyer derives cache keys from a provider name and a payload.
//
// Contract:
// - Determinism: same inputs must produce same key.
// - Scoping: different providers must never share keys.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Key(provider string, payload []byte) (string, error)
}

// DefaultKeyer generates SHA-256 based cache keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key generates a deterministic cache key.
// Format: digest:<provider>:<hash>
// where hash is the full hex SHA-256 of the payload. The full sum is kept
// because a key collision would serve one payload's digest for another.
func (k *DefaultKeyer) Key(provider string, payload []byte) (string, error) {
	if strings.TrimSpace(provider) == "" || strings.ContainsAny(provider, ":\n\r") {
		return "", ErrInvalidKey
	}

	sum := sha256.Sum256(payload)
	key := "digest:" + provider + ":" + hex.EncodeToString(sum[:])
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)
