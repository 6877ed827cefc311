package cache

import (
	"context"
	"errors"
	"time"
)

// Tiered chains a fast local cache in front of a shared one. Reads try L1
// then L2, promoting L2 hits into L1; writes go to both.
type Tiered struct {
	l1         Cache
	l2         Cache
	promoteTTL time.Duration
}

// NewTiered creates a two-level cache. promoteTTL is the L1 TTL given to
// entries promoted from L2.
func NewTiered(l1, l2 Cache, promoteTTL time.Duration) *Tiered {
	return &Tiered{l1: l1, l2: l2, promoteTTL: promoteTTL}
}

// Get retrieves a value from L1, falling back to L2.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := t.l1.Get(ctx, key); err != nil || ok {
		return v, ok, err
	}

	v, ok, err := t.l2.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := t.l1.Set(ctx, key, v, t.promoteTTL); err != nil && errors.Is(err, ErrCorrupted) {
		return nil, false, err
	}
	return v, true, nil
}

// Peek looks in L1 without counting an access, then in L2.
func (t *Tiered) Peek(ctx context.Context, key string) ([]byte, bool, error) {
	if pk, ok := t.l1.(peeker); ok {
		if v, ok, err := pk.Peek(ctx, key); err != nil || ok {
			return v, ok, err
		}
		return t.l2.Get(ctx, key)
	}
	return t.Get(ctx, key)
}

// Set writes to both tiers. An L1 error is returned before L2 is tried.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return t.l2.Set(ctx, key, value, ttl)
}

// Delete removes the key from both tiers.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	return errors.Join(t.l1.Delete(ctx, key), t.l2.Delete(ctx, key))
}

// Ensure Tiered implements Cache
var _ Cache = (*Tiered)(nil)
