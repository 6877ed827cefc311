package provider

import (
	"sync"
	"time"
)

// State represents the breaker state.
type State int

const (
	// StateClosed means digests are computed normally.
	StateClosed State = iota
	// StateOpen means every call fails fast with ErrCircuitOpen.
	StateOpen
	// StateHalfOpen means a limited number of trial calls are let through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening.
	// Default: 5
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// HalfOpenMaxRequests is the number of trial calls allowed while half-open.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange is called with the breaker lock held; it must not call
	// back into the Breaker.
	OnStateChange func(from, to State)

	// Now overrides the clock. Default: time.Now
	Now func() time.Time
}

// Breaker wraps a Provider with a circuit breaker. Repeated provider
// failures stop further invocations until ResetTimeout has elapsed, so a
// broken provider costs callers a fast ComputeError instead of a slow one.
type Breaker struct {
	inner  Provider
	config BreakerConfig

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	halfOpenCount int
}

// NewBreaker wraps inner.
func NewBreaker(inner Provider, config BreakerConfig) *Breaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Breaker{
		inner:  inner,
		config: config,
		state:  StateClosed,
	}
}

// Name returns the wrapped provider's name.
func (b *Breaker) Name() string { return b.inner.Name() }

// Size returns the wrapped provider's digest size.
func (b *Breaker) Size() int { return b.inner.Size() }

// Digest computes through the breaker.
func (b *Breaker) Digest(payload []byte) ([]byte, error) {
	if err := b.beforeRequest(); err != nil {
		return nil, &ComputeError{Provider: b.inner.Name(), Err: err}
	}

	digest, err := Compute(b.inner, payload)
	b.afterRequest(err)
	return digest, err
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked()
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionLocked(StateClosed)
	b.failures = 0
	b.halfOpenCount = 0
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentStateLocked() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenCount >= b.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		b.halfOpenCount++
	}
	return nil
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if err != nil {
			b.failures++
			b.lastFailure = b.config.Now()
			if b.failures >= b.config.MaxFailures {
				b.transitionLocked(StateOpen)
			}
		} else {
			b.failures = 0
		}

	case StateHalfOpen:
		if err != nil {
			b.lastFailure = b.config.Now()
			b.transitionLocked(StateOpen)
		} else {
			b.transitionLocked(StateClosed)
			b.failures = 0
		}
	}
}

func (b *Breaker) currentStateLocked() State {
	if b.state == StateOpen && b.config.Now().Sub(b.lastFailure) >= b.config.ResetTimeout {
		b.halfOpenCount = 0
		b.transitionLocked(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	b.state = to
	if from != to && b.config.OnStateChange != nil {
		b.config.OnStateChange(from, to)
	}
}

// Ensure Breaker implements Provider
var _ Provider = (*Breaker)(nil)
