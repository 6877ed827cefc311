// Package pool provides a fixed-size worker pool over a bounded FIFO queue.
//
// Submissions never block: when the queue is at its watermark they fail
// with ErrQueueFull so callers can shed load. Tasks whose context is done
// by the time a worker dequeues them are aborted with ErrCancelled; tasks
// that have started always run to completion.
package pool
