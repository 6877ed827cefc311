// Package provider defines the hash function abstraction used by the rest of
// hashops, along with a small set of built-in providers and a name-based
// registry.
//
// A Provider is treated as an opaque, deterministic function from a payload
// to a fixed-length digest. Callers in this module never invoke Digest
// directly; they go through Compute, which turns panics and wrong-length
// output into a typed ComputeError.
//
// # Built-in providers
//
//   - sha256:      SHA-256 via github.com/minio/sha256-simd (32 bytes)
//   - blake3:      BLAKE3-256 via lukechampine.com/blake3 (32 bytes)
//   - xxh64:       xxHash64 via github.com/cespare/xxhash/v2 (8 bytes, big-endian)
//   - murmur3-128: MurmurHash3 x64 128 via github.com/spaolacci/murmur3 (16 bytes)
//   - sha512:      SHA-512 via crypto/sha512 (64 bytes)
//
// # Usage
//
//	p, err := provider.Lookup("blake3")
//	if err != nil {
//	    return err
//	}
//	digest, err := provider.Compute(p, []byte("payload"))
package provider
