package cache

import "time"

// Policy configures caching behavior.
type Policy struct {
	// Capacity is the maximum number of live entries in a MemoryCache.
	// Default: 1024
	Capacity int

	// DefaultTTL is the TTL to use when none is specified.
	// If zero, caching is disabled.
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL. Override TTLs are clamped to this.
	// If zero, no maximum is enforced.
	MaxTTL time.Duration

	// RefreshOnHit extends an entry's expiry by its TTL on every hit.
	RefreshOnHit bool

	// Doorkeeper only admits a key into the cache on its second miss.
	Doorkeeper bool
}

// DefaultCapacity is the MemoryCache capacity used when Policy.Capacity is unset.
const DefaultCapacity = 1024

// DefaultPolicy returns the default caching policy.
// Capacity: 1024, DefaultTTL: 5 minutes, MaxTTL: 1 hour
func DefaultPolicy() Policy {
	return Policy{
		Capacity:   DefaultCapacity,
		DefaultTTL: 5 * time.Minute,
		MaxTTL:     1 * time.Hour,
	}
}

// NoCachePolicy returns a policy that disables caching entirely.
func NoCachePolicy() Policy {
	return Policy{}
}

// ShouldCache returns true if caching is enabled by this policy.
func (p Policy) ShouldCache() bool {
	return p.DefaultTTL > 0
}

// EffectiveTTL returns the TTL to use, applying defaults and clamping.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	// Use default if no override (or negative override)
	ttl := override
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}

	// Clamp to MaxTTL if set
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}

	return ttl
}

// EffectiveCapacity returns Capacity or DefaultCapacity when unset.
func (p Policy) EffectiveCapacity() int {
	if p.Capacity <= 0 {
		return DefaultCapacity
	}
	return p.Capacity
}
