package batch

import (
	"time"

	"github.com/google/uuid"
)

// Request is one payload of a batch.
type Request struct {
	ID          uuid.UUID
	Index       int
	Payload     []byte
	SubmittedAt time.Time
}

// Result is the outcome for one Request. Exactly one of Digest and Err is set.
type Result struct {
	RequestID uuid.UUID
	Index     int
	Digest    []byte
	Err       error

	// CacheHit is true when the digest came from the cache.
	CacheHit bool

	// Shared is true when the digest was computed for another concurrent
	// caller of the same payload.
	Shared bool

	ComputeDuration time.Duration
	WorkerID        int
}

// OK reports whether the item succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// ComputeDurationMicros returns ComputeDuration in whole microseconds.
func (r Result) ComputeDurationMicros() int64 {
	return r.ComputeDuration.Microseconds()
}
