package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
var (
	// ErrCompute matches every *ComputeError.
	ErrCompute = errors.New("provider: compute failed")

	// ErrDigestSize is wrapped by a ComputeError when a provider returns a
	// digest whose length differs from Size().
	ErrDigestSize = errors.New("provider: digest has wrong size")

	// ErrPanic is wrapped by a ComputeError when a provider panics.
	ErrPanic = errors.New("provider: digest panicked")

	// ErrCircuitOpen is returned by a Breaker that is rejecting calls.
	ErrCircuitOpen = errors.New("provider: circuit breaker is open")

	// ErrNilProvider indicates a nil Provider was supplied.
	ErrNilProvider = errors.New("provider: provider is nil")

	// ErrUnknownProvider indicates a registry lookup for an unregistered name.
	ErrUnknownProvider = errors.New("provider: not registered")

	// ErrInvalidRegistration indicates a blank name or nil factory.
	ErrInvalidRegistration = errors.New("provider: invalid registration")
)

// ComputeError reports a failed digest computation for a single payload.
type ComputeError struct {
	Provider string
	Err      error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("provider %q: compute failed: %v", e.Provider, e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}

// Is reports true for ErrCompute so callers can match any ComputeError.
func (e *ComputeError) Is(target error) bool {
	return target == ErrCompute
}
