package batch

import "errors"

var (
	// ErrNilHandler is returned by New when no Handler is supplied.
	ErrNilHandler = errors.New("batch: handler is nil")

	// ErrNilPool is returned by New when no pool is supplied.
	ErrNilPool = errors.New("batch: pool is nil")

	// ErrNoResult marks an item whose handler returned without producing
	// a digest or an error.
	ErrNoResult = errors.New("batch: handler produced no result")
)
