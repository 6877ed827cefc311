package pool

import "errors"

// Sentinel errors for pool operations.
var (
	// ErrQueueFull is returned when a submission would exceed the queue watermark.
	ErrQueueFull = errors.New("pool: queue is full")

	// ErrPoolClosed is returned when submitting to a closed pool.
	ErrPoolClosed = errors.New("pool: pool is closed")

	// ErrCancelled is passed to Task.Abort when a task's context is done
	// before a worker starts it.
	ErrCancelled = errors.New("pool: task cancelled before start")

	// ErrTaskPanic is passed to Task.Abort when Run panics.
	ErrTaskPanic = errors.New("pool: task panicked")

	// ErrNilTask is returned when submitting a nil task.
	ErrNilTask = errors.New("pool: task is nil")
)
