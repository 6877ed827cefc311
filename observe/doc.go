// Package observe provides observability primitives for hash operations.
//
// It is a pure instrumentation library: no hashing, no transport, no I/O
// beyond exporter setup. The pipeline wraps batch calls with Middleware and
// hands the Observer's meter to the performance monitor.
package observe
