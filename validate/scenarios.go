package validate

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// DefaultPayloadSizes are the payload lengths checked by FixedSize.
var DefaultPayloadSizes = []int{0, 1, 55, 64, 1000, 64 << 10}

// DefaultScenarios returns the standard battery.
func DefaultScenarios() []Scenario {
	return []Scenario{
		Determinism(),
		FixedSize(DefaultPayloadSizes...),
		CacheCorrectness(0),
		OrderPreservation(8),
	}
}

// freshPayload returns a payload no earlier call has used, padded to size
// when size is larger than the nonce.
func freshPayload(size int) []byte {
	nonce := []byte("hashops-validate-" + uuid.NewString())
	if size < 0 || size == len(nonce) {
		return nonce
	}
	if size < len(nonce) {
		return nonce[:size]
	}
	return append(nonce, bytes.Repeat([]byte{'x'}, size-len(nonce))...)
}

// Determinism hashes a fresh payload through the pipeline and checks the
// digest against two independent direct computations.
func Determinism() Scenario {
	return NewScenarioFunc("determinism", func(ctx context.Context, t Target) Result {
		payload := freshPayload(-1)

		res, err := t.Hash(ctx, payload)
		if err != nil {
			return Fail("hash failed", err)
		}
		if !res.OK() {
			return Fail("hash failed", res.Err)
		}

		first, err := t.Compute(payload)
		if err != nil {
			return Fail("direct compute failed", err)
		}
		second, err := t.Compute(payload)
		if err != nil {
			return Fail("direct compute failed", err)
		}

		details := map[string]any{
			"pipeline": hex.EncodeToString(res.Digest),
			"first":    hex.EncodeToString(first),
			"second":   hex.EncodeToString(second),
		}
		if !bytes.Equal(first, second) {
			return Fail("direct computations differ", nil).WithDetails(details)
		}
		if !bytes.Equal(res.Digest, first) {
			return Fail("pipeline digest differs from direct computation", nil).WithDetails(details)
		}
		return Pass("digests identical").WithDetails(details)
	})
}

// FixedSize hashes one payload of each size in a single batch and checks
// every digest has the provider's length.
func FixedSize(sizes ...int) Scenario {
	return NewScenarioFunc("fixed-size", func(ctx context.Context, t Target) Result {
		want := t.DigestSize()
		payloads := make([][]byte, len(sizes))
		for i, size := range sizes {
			payloads[i] = freshPayload(size)
		}

		results, err := t.BatchHash(ctx, payloads)
		if err != nil {
			return Fail("batch hash failed", err)
		}

		for i, res := range results {
			if !res.OK() {
				return Fail(fmt.Sprintf("payload of %d bytes failed", sizes[i]), res.Err)
			}
			if len(res.Digest) != want {
				return Fail(fmt.Sprintf("payload of %d bytes gave %d-byte digest", sizes[i], len(res.Digest)), nil).
					WithDetails(map[string]any{"size": sizes[i], "digest_len": len(res.Digest), "want": want})
			}
		}
		return Pass(fmt.Sprintf("%d payloads, all digests %d bytes", len(sizes), want)).
			WithDetails(map[string]any{"digest_len": want, "sizes": sizes})
	})
}

// CacheCorrectness hashes a fresh payload, then checks the next call is a
// cache hit with the same digest. primes extra calls are made first for
// caches that only admit a key on a repeated miss.
func CacheCorrectness(primes int) Scenario {
	return NewScenarioFunc("cache-correctness", func(ctx context.Context, t Target) Result {
		payload := freshPayload(-1)

		first, err := t.Hash(ctx, payload)
		if err != nil {
			return Fail("first hash failed", err)
		}
		if !first.OK() {
			return Fail("first hash failed", first.Err)
		}
		if first.CacheHit {
			return Fail("first call for a fresh payload reported a cache hit", nil)
		}

		for i := 0; i < primes; i++ {
			if _, err := t.Hash(ctx, payload); err != nil {
				return Fail("priming hash failed", err)
			}
		}

		second, err := t.Hash(ctx, payload)
		if err != nil {
			return Fail("second hash failed", err)
		}
		if !second.OK() {
			return Fail("second hash failed", second.Err)
		}

		details := map[string]any{
			"first":  hex.EncodeToString(first.Digest),
			"second": hex.EncodeToString(second.Digest),
		}
		if !second.CacheHit {
			return Fail("second call was not a cache hit", nil).WithDetails(details)
		}
		if !bytes.Equal(first.Digest, second.Digest) {
			return Fail("cached digest differs from computed digest", nil).WithDetails(details)
		}
		return Pass("second call hit the cache").WithDetails(details)
	})
}

// OrderPreservation batches n fresh payloads and checks each result sits at
// its input index with the digest of its own payload.
func OrderPreservation(n int) Scenario {
	return NewScenarioFunc("order-preservation", func(ctx context.Context, t Target) Result {
		payloads := make([][]byte, n)
		for i := range payloads {
			payloads[i] = freshPayload(-1)
		}

		results, err := t.BatchHash(ctx, payloads)
		if err != nil {
			return Fail("batch hash failed", err)
		}
		if len(results) != n {
			return Fail(fmt.Sprintf("got %d results for %d payloads", len(results), n), nil)
		}

		for i, res := range results {
			if res.Index != i {
				return Fail(fmt.Sprintf("result %d carries index %d", i, res.Index), nil)
			}
			if !res.OK() {
				return Fail(fmt.Sprintf("item %d failed", i), res.Err)
			}
			want, err := t.Compute(payloads[i])
			if err != nil {
				return Fail("direct compute failed", err)
			}
			if !bytes.Equal(res.Digest, want) {
				return Fail(fmt.Sprintf("result %d holds another payload's digest", i), nil).
					WithDetails(map[string]any{"index": i})
			}
		}
		return Pass(fmt.Sprintf("%d results in input order", n))
	})
}
