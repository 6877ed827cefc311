// Package pipeline wires the hashing components into one instance with its
// own configuration and lifecycle.
//
// A Pipeline owns:
//
//   - a provider.Provider, looked up by name and optionally behind a breaker
//   - a cache.MemoryCache, optionally tiered over Redis, behind a coalescing
//     cache.Loader
//   - a pool.Pool and a batch.Executor that dispatches onto it
//   - a monitor.Monitor fed by every item, evaluated in the background
//   - a validate.Harness for self-checks
//
// Every item of every batch flows through the same path: pool worker,
// loader (cache, then provider on a miss), monitor. Item failures stay in
// their batch.Result slot. Only configuration errors and queue saturation
// fail at the call site.
//
// # Configuration
//
// Config is plain data with YAML tags. LoadConfig reads a file on top of
// DefaultConfig:
//
//	provider: blake3
//	workers: 8
//	queue_size: 256
//	chunk_size: 32
//	item_timeout: 2s
//	cache:
//	  capacity: 10000
//	  ttl: 10m
//	  redis_url: redis://localhost:6379/0
//	monitor:
//	  window: 60s
//	  cooldown: 30s
//	  rules:
//	    - metric: error_rate
//	      threshold: 0.05
//	      direction: above
//	      severity: critical
//
// References of the form ${VAR} or ${VAR:-default} are expanded from the
// environment before decoding; an unset variable without a default is an
// error. There is no hot reload.
package pipeline
