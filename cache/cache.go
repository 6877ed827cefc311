package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrNilCache   = errors.New("cache: cache is nil")
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")

	// ErrCorrupted matches every *CorruptionError. A cache that returns it
	// refuses all further operations.
	ErrCorrupted = errors.New("cache: internal invariant broken")
)

// CorruptionError records the first invariant breach detected by a cache.
type CorruptionError struct {
	Key    string
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("cache: corrupted at key %q: %s", e.Key, e.Reason)
}

// Is reports true for ErrCorrupted.
func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupted
}

// Cache stores digests by key.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods should honor cancellation/deadlines where applicable.
// - Errors: Get returns (nil, false, nil) on miss. A non-nil error is fatal
// for the cache instance and must not be treated as a miss.
type Cache interface {
	// Get retrieves a cached value.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with the given TTL. TTL<=0 means no caching.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a cached value. Idempotent - no error on miss.
	Delete(ctx context.Context, key string) error
}

// Entry is a snapshot of one cached digest.
type Entry struct {
	Key            string
	Digest         []byte
	InsertedAt     time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the entry is past its TTL at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
