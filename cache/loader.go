package cache

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/hashops/provider"
)

// Lookup is the outcome of a Loader.Load call.
type Lookup struct {
	// Digest is the provider output for the payload.
	Digest []byte

	// Hit is true when the digest came from the cache.
	Hit bool

	// Shared is true when the result was delivered to more than one
	// concurrent caller of the same key.
	Shared bool
}

// peeker is implemented by caches that can look up a key without counting
// it as an access.
type peeker interface {
	Peek(ctx context.Context, key string) ([]byte, bool, error)
}

// Loader wraps digest computation with caching and request coalescing.
//
// Concurrent misses for the same key share one provider call. The shared
// computation runs detached from the callers' contexts: a caller whose
// context ends stops waiting, but the computation and its cache write still
// complete, so the cache never holds a partial entry.
//
// With WithMaxConcurrency, detached computations left behind by callers that
// stopped waiting still count against the limit.
type Loader struct {
	cache      Cache
	keyer      Keyer
	policy     Policy
	doorkeeper *Doorkeeper
	slots      *semaphore.Weighted
	group      singleflight.Group
	computes   atomic.Int64
	inflight   atomic.Int64
	peak       atomic.Int64
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithKeyer overrides the DefaultKeyer.
func WithKeyer(k Keyer) LoaderOption {
	return func(l *Loader) {
		if k != nil {
			l.keyer = k
		}
	}
}

// WithDoorkeeper sets the admission doorkeeper explicitly.
func WithDoorkeeper(d *Doorkeeper) LoaderOption {
	return func(l *Loader) {
		l.doorkeeper = d
	}
}

// WithMaxConcurrency bounds the number of provider invocations running at
// once across every caller and detached computation. n <= 0 means no bound.
func WithMaxConcurrency(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewLoader creates a Loader over c. If policy.Doorkeeper is set and no
// doorkeeper option is given, one sized to ten times the cache capacity is
// created.
func NewLoader(c Cache, policy Policy, opts ...LoaderOption) *Loader {
	l := &Loader{
		cache:  c,
		keyer:  NewDefaultKeyer(),
		policy: policy,
	}
	for _, opt := range opts {
		opt(l)
	}
	if policy.Doorkeeper && l.doorkeeper == nil {
		l.doorkeeper = NewDoorkeeper(uint(policy.EffectiveCapacity())*10, 0.01)
	}
	return l
}

type flight struct {
	digest []byte
	hit    bool
}

// Load returns the digest of payload under p, consulting the cache first.
// On a miss it computes the digest once per key across concurrent callers
// and caches it. Errors are NOT cached: every waiter of a failed
// computation receives the same error.
func (l *Loader) Load(ctx context.Context, p provider.Provider, payload []byte) (Lookup, error) {
	if p == nil {
		_, err := provider.Compute(nil, payload)
		return Lookup{}, err
	}

	if l.cache == nil || !l.policy.ShouldCache() {
		digest, err := l.compute(ctx, p, payload)
		return Lookup{Digest: digest}, err
	}

	key, err := l.keyer.Key(p.Name(), payload)
	if err != nil {
		// Key generation failed - compute without caching
		digest, err := l.compute(ctx, p, payload)
		return Lookup{Digest: digest}, err
	}

	cached, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		return Lookup{}, err
	}
	if ok {
		return Lookup{Digest: cached, Hit: true}, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key, func() (any, error) {
		// A previous flight may have filled the key between our Get and Do.
		if cached, ok, err := l.peek(flightCtx, key); err != nil {
			return nil, err
		} else if ok {
			return flight{digest: cached, hit: true}, nil
		}

		digest, err := l.compute(flightCtx, p, payload)
		if err != nil {
			return nil, err
		}

		if l.admit(key) {
			ttl := l.policy.EffectiveTTL(0)
			if err := l.cache.Set(flightCtx, key, digest, ttl); err != nil && errors.Is(err, ErrCorrupted) {
				return nil, err
			}
		}
		return flight{digest: digest}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Lookup{Shared: res.Shared}, res.Err
		}
		f := res.Val.(flight)
		return Lookup{
			Digest: bytes.Clone(f.digest),
			Hit:    f.hit,
			Shared: res.Shared,
		}, nil
	case <-ctx.Done():
		return Lookup{}, ctx.Err()
	}
}

// Computes returns the number of provider invocations made by this loader.
func (l *Loader) Computes() int64 {
	return l.computes.Load()
}

// Policy returns the loader's caching policy.
func (l *Loader) Policy() Policy {
	return l.policy
}

// PeakConcurrency returns the highest number of provider invocations
// observed running at once.
func (l *Loader) PeakConcurrency() int64 {
	return l.peak.Load()
}

func (l *Loader) compute(ctx context.Context, p provider.Provider, payload []byte) ([]byte, error) {
	if l.slots != nil {
		if err := l.slots.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer l.slots.Release(1)
	}

	l.computes.Add(1)
	n := l.inflight.Add(1)
	defer l.inflight.Add(-1)
	for {
		peak := l.peak.Load()
		if n <= peak || l.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	return provider.Compute(p, payload)
}

func (l *Loader) peek(ctx context.Context, key string) ([]byte, bool, error) {
	if pk, ok := l.cache.(peeker); ok {
		return pk.Peek(ctx, key)
	}
	return l.cache.Get(ctx, key)
}

func (l *Loader) admit(key string) bool {
	if l.doorkeeper == nil {
		return true
	}
	return l.doorkeeper.Admit(key)
}
