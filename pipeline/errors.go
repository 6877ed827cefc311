package pipeline

import "errors"

var (
	// ErrInvalidConfig indicates the configuration cannot be used.
	ErrInvalidConfig = errors.New("pipeline: invalid configuration")

	// ErrTimeout indicates one item exceeded the per-item timeout.
	ErrTimeout = errors.New("pipeline: item timed out")

	// ErrClosed indicates the pipeline has been closed.
	ErrClosed = errors.New("pipeline: closed")
)
