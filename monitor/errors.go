package monitor

import "errors"

var (
	// ErrInvalidRule indicates an alert rule that cannot be evaluated.
	ErrInvalidRule = errors.New("monitor: invalid alert rule")

	// ErrUnknownMetric indicates a metric name the monitor does not derive.
	ErrUnknownMetric = errors.New("monitor: unknown metric")

	// ErrInvalidConfig indicates an unusable monitor configuration.
	ErrInvalidConfig = errors.New("monitor: invalid config")
)
