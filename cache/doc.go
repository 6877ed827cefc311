// Package cache provides the digest cache that sits in front of a hash
// provider.
//
// It provides a Cache interface with a bounded TTL+LRU memory implementation,
// SHA-256-based key derivation, a coalescing Loader that collapses
// concurrent misses for the same key into a single provider call, an
// optional bloom-filter admission doorkeeper, and an optional Redis tier.
package cache
