package monitor

import (
	"fmt"
	"time"
)

// Metric names a derived metric.
type Metric string

// Derived metrics.
const (
	MetricOpsPerSecond      Metric = "ops_per_second"
	MetricAvgDurationMicros Metric = "avg_duration_us"
	MetricErrorRate         Metric = "error_rate"
	MetricCacheHitRate      Metric = "cache_hit_rate"
)

// AllMetrics lists every derived metric.
var AllMetrics = []Metric{
	MetricOpsPerSecond,
	MetricAvgDurationMicros,
	MetricErrorRate,
	MetricCacheHitRate,
}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	for _, known := range AllMetrics {
		if m == known {
			return true
		}
	}
	return false
}

// Direction selects which side of the threshold is a breach.
type Direction string

const (
	Above Direction = "above"
	Below Direction = "below"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rule is a threshold on one derived metric.
type Rule struct {
	Metric    Metric    `yaml:"metric" json:"metric"`
	Threshold float64   `yaml:"threshold" json:"threshold"`
	Direction Direction `yaml:"direction" json:"direction"`

	// Severity defaults to warning.
	Severity Severity `yaml:"severity" json:"severity"`

	// MinSamples is the number of operations the current window must hold
	// before the rule is evaluated. Values below 1 are treated as 1.
	MinSamples int64 `yaml:"min_samples" json:"min_samples"`
}

// Validate checks that the rule can be evaluated.
func (r Rule) Validate() error {
	if !r.Metric.Valid() {
		return fmt.Errorf("%w: %w %q", ErrInvalidRule, ErrUnknownMetric, r.Metric)
	}
	if r.Direction != Above && r.Direction != Below {
		return fmt.Errorf("%w: direction %q", ErrInvalidRule, r.Direction)
	}
	switch r.Severity {
	case "", SeverityInfo, SeverityWarning, SeverityCritical:
	default:
		return fmt.Errorf("%w: severity %q", ErrInvalidRule, r.Severity)
	}
	if r.MinSamples < 0 {
		return fmt.Errorf("%w: negative min_samples", ErrInvalidRule)
	}
	return nil
}

// Breached reports whether value is on the wrong side of the threshold.
// A value equal to the threshold is not a breach.
func (r Rule) Breached(value float64) bool {
	if r.Direction == Below {
		return value < r.Threshold
	}
	return value > r.Threshold
}

func (r Rule) minSamples() int64 {
	return max(r.MinSamples, 1)
}

func (r Rule) severity() Severity {
	if r.Severity == "" {
		return SeverityWarning
	}
	return r.Severity
}

// DefaultRules returns a conservative rule set: more than 5% errors, mean
// latency above 50ms, or fewer than 10% cache hits over a busy window.
func DefaultRules() []Rule {
	return []Rule{
		{Metric: MetricErrorRate, Threshold: 0.05, Direction: Above, Severity: SeverityCritical, MinSamples: 20},
		{Metric: MetricAvgDurationMicros, Threshold: 50_000, Direction: Above, Severity: SeverityWarning, MinSamples: 20},
		{Metric: MetricCacheHitRate, Threshold: 0.10, Direction: Below, Severity: SeverityInfo, MinSamples: 200},
	}
}

// Alert is an active threshold breach.
type Alert struct {
	Metric        Metric    `json:"metric"`
	Threshold     float64   `json:"threshold"`
	Direction     Direction `json:"direction"`
	ObservedValue float64   `json:"observed_value"`
	TriggeredAt   time.Time `json:"triggered_at"`
	Severity      Severity  `json:"severity"`
}

// EventType distinguishes alert transitions.
type EventType string

const (
	EventFired   EventType = "fired"
	EventCleared EventType = "cleared"
)

// AlertEvent is pushed to subscribers on every alert transition.
type AlertEvent struct {
	Type  EventType `json:"type"`
	Alert Alert     `json:"alert"`
	At    time.Time `json:"at"`
}
