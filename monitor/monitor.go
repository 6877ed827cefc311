package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/hashops/observe"
)

// Config configures the monitor.
type Config struct {
	// Window is the aggregation window length.
	// Default: 60s
	Window time.Duration

	// EvalInterval is how often Run evaluates the rules.
	// Default: 1s
	EvalInterval time.Duration

	// Cooldown is how long a metric must stay within bounds before its
	// alert clears.
	// Default: 30s
	Cooldown time.Duration

	// Rules are the alert thresholds.
	Rules []Rule

	// SubscriberBuffer is the channel capacity used by Subscribe(0).
	// Default: 16
	SubscriberBuffer int

	// Meter, if set, receives OpenTelemetry counters and histograms.
	Meter metric.Meter

	// Logger receives alert transitions.
	// Default: no-op logger
	Logger observe.Logger

	// Now is the clock.
	// Default: time.Now
	Now func() time.Time
}

// Snapshot is the pull-style view of the monitor.
type Snapshot struct {
	At       time.Time `json:"at"`
	Window   Window    `json:"window"`
	Previous *Window   `json:"previous,omitempty"`

	OpsPerSecond      float64 `json:"ops_per_second"`
	AvgDurationMicros float64 `json:"avg_duration_us"`
	ErrorRate         float64 `json:"error_rate"`
	CacheHitRate      float64 `json:"cache_hit_rate"`

	Alerts        []Alert `json:"alerts"`
	DroppedEvents int64   `json:"dropped_events"`
}

// Value returns the derived metric m.
func (s Snapshot) Value(m Metric) (float64, error) {
	switch m {
	case MetricOpsPerSecond:
		return s.OpsPerSecond, nil
	case MetricAvgDurationMicros:
		return s.AvgDurationMicros, nil
	case MetricErrorRate:
		return s.ErrorRate, nil
	case MetricCacheHitRate:
		return s.CacheHitRate, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
	}
}

type ruleState struct {
	active         bool
	alert          Alert
	recoveredSince time.Time
}

// Monitor aggregates operation outcomes and evaluates alert rules.
type Monitor struct {
	config Config
	inst   *instruments

	current  atomic.Pointer[liveWindow]
	previous atomic.Pointer[liveWindow]

	mu      sync.Mutex
	states  []ruleState
	subs    map[*Subscription]struct{}
	closed  bool
	dropped atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a monitor. The first window starts at the current time.
func New(config Config) (*Monitor, error) {
	// Apply defaults
	if config.Window <= 0 {
		config.Window = 60 * time.Second
	}
	if config.EvalInterval <= 0 {
		config.EvalInterval = time.Second
	}
	if config.Cooldown < 0 {
		return nil, fmt.Errorf("%w: negative cooldown", ErrInvalidConfig)
	}
	if config.Cooldown == 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = 16
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	for i, r := range config.Rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}

	m := &Monitor{
		config: config,
		states: make([]ruleState, len(config.Rules)),
		subs:   make(map[*Subscription]struct{}),
		stop:   make(chan struct{}),
	}

	if config.Meter != nil {
		inst, err := newInstruments(config.Meter)
		if err != nil {
			return nil, err
		}
		m.inst = inst
	}

	m.current.Store(newLiveWindow(config.Now(), config.Window))
	return m, nil
}

// RecordOperation records one hash operation. It never blocks.
func (m *Monitor) RecordOperation(durationMicros int64, success, cacheHit bool) {
	w := m.window(m.config.Now())

	w.ops.Add(1)
	if !success {
		w.errors.Add(1)
	}
	if durationMicros > 0 {
		w.durationMicros.Add(durationMicros)
	}
	if cacheHit {
		w.hits.Add(1)
	} else {
		w.misses.Add(1)
	}

	if m.inst != nil {
		m.inst.record(durationMicros, success, cacheHit)
	}
}

// window returns the live window containing now, rolling over as needed.
// Windows stay aligned to the first window's start.
func (m *Monitor) window(now time.Time) *liveWindow {
	for {
		w := m.current.Load()
		if now.Before(w.end) {
			return w
		}

		periods := now.Sub(w.start) / m.config.Window
		next := newLiveWindow(w.start.Add(periods*m.config.Window), m.config.Window)
		if m.current.CompareAndSwap(w, next) {
			m.previous.Store(w)
			return next
		}
	}
}

// Metrics returns the current window and derived metrics.
func (m *Monitor) Metrics() Snapshot {
	now := m.config.Now()
	w := m.window(now).snapshot()

	s := Snapshot{
		At:                now,
		Window:            w,
		OpsPerSecond:      w.OpsPerSecond(now),
		AvgDurationMicros: w.AvgDurationMicros(),
		ErrorRate:         w.ErrorRate(),
		CacheHitRate:      w.CacheHitRate(),
		DroppedEvents:     m.dropped.Load(),
	}
	if prev := m.previous.Load(); prev != nil {
		p := prev.snapshot()
		s.Previous = &p
	}

	m.mu.Lock()
	s.Alerts = m.activeLocked()
	m.mu.Unlock()

	return s
}

// ActiveAlerts returns the alerts currently firing.
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

func (m *Monitor) activeLocked() []Alert {
	alerts := make([]Alert, 0, len(m.states))
	for _, st := range m.states {
		if st.active {
			alerts = append(alerts, st.alert)
		}
	}
	return alerts
}

// Evaluate checks every rule against the current window. A breach fires an
// alert once; an active alert clears after the metric has stayed within
// bounds for the cooldown. A window holding fewer than MinSamples
// operations cannot fire a rule, but it counts toward the cooldown of an
// alert that is already active.
func (m *Monitor) Evaluate() []AlertEvent {
	snap := m.Metrics()
	now := snap.At

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	var events []AlertEvent
	for i, rule := range m.config.Rules {
		st := &m.states[i]
		sampled := snap.Window.OpCount >= rule.minSamples()
		if !sampled && !st.active {
			continue
		}
		value, _ := snap.Value(rule.Metric)

		// An under-sampled window is no evidence of a breach, so an
		// active alert keeps recovering through quiet periods.
		if sampled && rule.Breached(value) {
			st.recoveredSince = time.Time{}
			if st.active {
				st.alert.ObservedValue = value
				continue
			}
			st.active = true
			st.alert = Alert{
				Metric:        rule.Metric,
				Threshold:     rule.Threshold,
				Direction:     rule.Direction,
				ObservedValue: value,
				TriggeredAt:   now,
				Severity:      rule.severity(),
			}
			events = append(events, AlertEvent{Type: EventFired, Alert: st.alert, At: now})
			continue
		}

		if !st.active {
			continue
		}
		if st.recoveredSince.IsZero() {
			st.recoveredSince = now
		}
		if now.Sub(st.recoveredSince) >= m.config.Cooldown {
			cleared := st.alert
			cleared.ObservedValue = value
			*st = ruleState{}
			events = append(events, AlertEvent{Type: EventCleared, Alert: cleared, At: now})
		}
	}

	for _, ev := range events {
		m.logTransition(ev)
		if ev.Type == EventFired && m.inst != nil {
			m.inst.alertFired(ev.Alert)
		}
		m.publishLocked(ev)
	}
	return events
}

func (m *Monitor) logTransition(ev AlertEvent) {
	fields := []observe.Field{
		{Key: "metric", Value: string(ev.Alert.Metric)},
		{Key: "threshold", Value: ev.Alert.Threshold},
		{Key: "observed", Value: ev.Alert.ObservedValue},
		{Key: "severity", Value: string(ev.Alert.Severity)},
	}
	if ev.Type == EventFired {
		m.config.Logger.Warn(context.Background(), "alert fired", fields...)
	} else {
		m.config.Logger.Info(context.Background(), "alert cleared", fields...)
	}
}

// Run evaluates the rules every EvalInterval until ctx ends or Close is
// called.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.EvalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return nil
		case <-ticker.C:
			m.Evaluate()
		}
	}
}

// Close stops Run and closes every subscription. Recording keeps working.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for sub := range m.subs {
		sub.closeLocked()
	}
	m.subs = map[*Subscription]struct{}{}
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config {
	return m.config
}
