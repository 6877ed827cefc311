package provider

import (
	"crypto/sha512"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	sha256 "github.com/minio/sha256-simd"
	"github.com/spaolacci/murmur3"
	"lukechampine.com/blake3"
)

// Built-in provider names.
const (
	SHA256     = "sha256"
	BLAKE3     = "blake3"
	XXH64      = "xxh64"
	Murmur3128 = "murmur3-128"
	SHA512     = "sha512"
)

// NewSHA256 returns a SHA-256 provider backed by sha256-simd.
func NewSHA256() Provider {
	return NewFunc(SHA256, sha256.Size, func(b []byte) ([]byte, error) {
		sum := sha256.Sum256(b)
		return sum[:], nil
	})
}

// NewBLAKE3 returns a 256-bit BLAKE3 provider.
func NewBLAKE3() Provider {
	return NewFunc(BLAKE3, 32, func(b []byte) ([]byte, error) {
		sum := blake3.Sum256(b)
		return sum[:], nil
	})
}

// NewXXH64 returns an xxHash64 provider. The digest is the big-endian
// encoding of the 64-bit sum.
func NewXXH64() Provider {
	return NewFunc(XXH64, 8, func(b []byte) ([]byte, error) {
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, xxhash.Sum64(b))
		return out, nil
	})
}

// NewMurmur3128 returns a MurmurHash3 x64 128-bit provider.
func NewMurmur3128() Provider {
	return NewFunc(Murmur3128, 16, func(b []byte) ([]byte, error) {
		h1, h2 := murmur3.Sum128(b)
		out := make([]byte, 16)
		binary.BigEndian.PutUint64(out[:8], h1)
		binary.BigEndian.PutUint64(out[8:], h2)
		return out, nil
	})
}

// NewSHA512 returns a SHA-512 provider.
func NewSHA512() Provider {
	return NewFunc(SHA512, sha512.Size, func(b []byte) ([]byte, error) {
		sum := sha512.Sum512(b)
		return sum[:], nil
	})
}

func init() {
	builtins := map[string]func() Provider{
		SHA256:     NewSHA256,
		BLAKE3:     NewBLAKE3,
		XXH64:      NewXXH64,
		Murmur3128: NewMurmur3128,
		SHA512:     NewSHA512,
	}
	for name, ctor := range builtins {
		_ = DefaultRegistry.Register(name, func() (Provider, error) {
			return ctor(), nil
		})
	}
}
