package provider

import (
	"errors"
	"fmt"
)

// Provider computes fixed-length digests.
//
// Contract:
// - Determinism: the same payload always yields the same digest.
// - Size: every successful Digest call returns exactly Size() bytes.
// - Concurrency: implementations must be safe for concurrent use.
// - Side effects: none; Digest must not retain or modify payload.
type Provider interface {
	// Name identifies the provider and its version, e.g. "sha256".
	Name() string

	// Size is the digest length in bytes.
	Size() int

	// Digest hashes payload.
	Digest(payload []byte) ([]byte, error)
}

// Func adapts an ordinary function to the Provider interface.
type Func struct {
	name string
	size int
	fn   func([]byte) ([]byte, error)
}

// NewFunc creates a Provider from fn.
func NewFunc(name string, size int, fn func([]byte) ([]byte, error)) *Func {
	return &Func{name: name, size: size, fn: fn}
}

// Name returns the provider name.
func (f *Func) Name() string { return f.name }

// Size returns the digest size in bytes.
func (f *Func) Size() int { return f.size }

// Digest calls the wrapped function.
func (f *Func) Digest(payload []byte) ([]byte, error) {
	return f.fn(payload)
}

// Compute runs p.Digest and normalizes every failure into a *ComputeError.
// A panicking provider and a digest of the wrong length are both failures.
func Compute(p Provider, payload []byte) (digest []byte, err error) {
	if p == nil {
		return nil, &ComputeError{Err: ErrNilProvider}
	}

	defer func() {
		if r := recover(); r != nil {
			digest = nil
			err = &ComputeError{Provider: p.Name(), Err: fmt.Errorf("%w: %v", ErrPanic, r)}
		}
	}()

	digest, err = p.Digest(payload)
	if err != nil {
		var ce *ComputeError
		if errors.As(err, &ce) {
			return nil, ce
		}
		return nil, &ComputeError{Provider: p.Name(), Err: err}
	}
	if len(digest) != p.Size() {
		return nil, &ComputeError{
			Provider: p.Name(),
			Err:      fmt.Errorf("%w: got %d bytes, want %d", ErrDigestSize, len(digest), p.Size()),
		}
	}
	return digest, nil
}

// Ensure Func implements Provider
var _ Provider = (*Func)(nil)
