// Package batch splits an ordered list of payloads into chunks, runs every
// item on a worker pool, and reassembles the results by original index.
//
// Item failures stay in their own Result slot. Only request-level problems
// (a saturated or closed pool) fail the whole call.
package batch
