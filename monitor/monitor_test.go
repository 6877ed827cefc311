package monitor

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(t *testing.T, clock *testClock, rules ...Rule) *Monitor {
	t.Helper()
	m, err := New(Config{
		Window:   10 * time.Second,
		Cooldown: 5 * time.Second,
		Rules:    rules,
		Now:      clock.Now,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNew_Defaults(t *testing.T) {
	m, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer m.Close()

	cfg := m.Config()
	if cfg.Window != 60*time.Second {
		t.Errorf("Window = %v, want 60s", cfg.Window)
	}
	if cfg.EvalInterval != time.Second {
		t.Errorf("EvalInterval = %v, want 1s", cfg.EvalInterval)
	}
	if cfg.Cooldown != 30*time.Second {
		t.Errorf("Cooldown = %v, want 30s", cfg.Cooldown)
	}
	if cfg.SubscriberBuffer != 16 {
		t.Errorf("SubscriberBuffer = %d, want 16", cfg.SubscriberBuffer)
	}
}

func TestNew_InvalidRule(t *testing.T) {
	_, err := New(Config{Rules: []Rule{{Metric: "latency_p99", Threshold: 1, Direction: Above}}})
	if !errors.Is(err, ErrInvalidRule) {
		t.Errorf("New() error = %v, want ErrInvalidRule", err)
	}
	if !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("New() error = %v, want ErrUnknownMetric", err)
	}
}

func TestNew_NegativeCooldown(t *testing.T) {
	_, err := New(Config{Cooldown: -time.Second})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestMonitor_ErrorRate(t *testing.T) {
	clock := newTestClock()
	m := newTestMonitor(t, clock)

	for i := 0; i < 90; i++ {
		m.RecordOperation(100, true, false)
	}
	for i := 0; i < 10; i++ {
		m.RecordOperation(100, false, false)
	}

	snap := m.Metrics()
	if snap.Window.OpCount != 100 {
		t.Errorf("OpCount = %d, want 100", snap.Window.OpCount)
	}
	if snap.Window.ErrorCount != 10 {
		t.Errorf("ErrorCount = %d, want 10", snap.Window.ErrorCount)
	}
	if !almostEqual(snap.ErrorRate, 0.10) {
		t.Errorf("ErrorRate = %v, want 0.10", snap.ErrorRate)
	}
	if !almostEqual(snap.AvgDurationMicros, 100) {
		t.Errorf("AvgDurationMicros = %v, want 100", snap.AvgDurationMicros)
	}
}

func TestMonitor_CacheHitRate(t *testing.T) {
	clock := newTestClock()
	m := newTestMonitor(t, clock)

	for i := 0; i < 3; i++ {
		m.RecordOperation(10, true, true)
	}
	m.RecordOperation(10, true, false)

	snap := m.Metrics()
	if !almostEqual(snap.CacheHitRate, 0.75) {
		t.Errorf("CacheHitRate = %v, want 0.75", snap.CacheHitRate)
	}
	if snap.Window.CacheHits+snap.Window.CacheMisses != snap.Window.OpCount {
		t.Error("every operation should count as a hit or a miss")
	}
}

func TestMonitor_EmptyWindow(t *testing.T) {
	clock := newTestClock()
	m := newTestMonitor(t, clock)

	snap := m.Metrics()
	for _, metric := range AllMetrics {
		v, err := snap.Value(metric)
		if err != nil {
			t.Fatalf("Value(%s) error = %v", metric, err)
		}
		if v != 0 {
			t.Errorf("Value(%s) = %v, want 0 on an empty window", metric, v)
		}
	}
}

func TestMonitor_OpsPerSecond(t *testing.T) {
	clock := newTestClock()
	m := newTestMonitor(t, clock)

	for i := 0; i < 50; i++ {
		m.RecordOperation(1, true, false)
	}
	clock.Advance(5 * time.Second)

	snap := m.Metrics()
	if !almostEqual(snap.OpsPerSecond, 10) {
		t.Errorf("OpsPerSecond = %v, want 10", snap.OpsPerSecond)
	}
}

func TestMonitor_OpsPerSecondFloorsElapsed(t *testing.T) {
	clock := newTestClock()
	m := newTestMonitor(t, clock)

	for i := 0; i < 5; i++ {
		m.RecordOperation(1, true, false)
	}
	clock.Advance(100 * time.Millisecond)

	if got := m.Metrics().OpsPerSecond; !almostEqual(got, 5) {
		t.Errorf("OpsPerSecond = %v, want 5", got)
	}
}

func TestMonitor_WindowRollover(t *testing.T) {
	clock := newTestClock()
	start := clock.Now()
	m := newTestMonitor(t, clock)

	for i := 0; i < 4; i++ {
		m.RecordOperation(1, false, false)
	}

	clock.Advance(12 * time.Second)
	m.RecordOperation(1, true, true)

	snap := m.Metrics()
	if snap.Window.OpCount != 1 {
		t.Errorf("OpCount = %d, want 1 after rollover", snap.Window.OpCount)
	}
	if want := start.Add(10 * time.Second); !snap.Window.Start.Equal(want) {
		t.Errorf("Window.Start = %v, want %v", snap.Window.Start, want)
	}
	if snap.Previous == nil {
		t.Fatal("Previous should hold the rolled-over window")
	}
	if snap.Previous.OpCount != 4 || snap.Previous.ErrorCount != 4 {
		t.Errorf("Previous = %+v, want 4 ops and 4 errors", *snap.Previous)
	}
}

func TestMonitor_RolloverSkipsIdleWindows(t *testing.T) {
	clock := newTestClock()
	start := clock.Now()
	m := newTestMonitor(t, clock)

	clock.Advance(35 * time.Second)
	m.RecordOperation(1, true, false)

	snap := m.Metrics()
	if want := start.Add(30 * time.Second); !snap.Window.Start.Equal(want) {
		t.Errorf("Window.Start = %v, want %v", snap.Window.Start, want)
	}
	if !snap.Window.End.Equal(start.Add(40 * time.Second)) {
		t.Errorf("Window.End = %v, want start+40s", snap.Window.End)
	}
}

func TestMonitor_ConcurrentRecording(t *testing.T) {
	clock := newTestClock()
	m := newTestMonitor(t, clock)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				m.RecordOperation(2, i%10 != 0, i%2 == 0)
			}
		}()
	}
	wg.Wait()

	snap := m.Metrics()
	if snap.Window.OpCount != 8000 {
		t.Errorf("OpCount = %d, want 8000", snap.Window.OpCount)
	}
	if snap.Window.ErrorCount != 800 {
		t.Errorf("ErrorCount = %d, want 800", snap.Window.ErrorCount)
	}
	if snap.Window.TotalDurationMicros != 16000 {
		t.Errorf("TotalDurationMicros = %d, want 16000", snap.Window.TotalDurationMicros)
	}
}

func TestMonitor_AlertFiresOnce(t *testing.T) {
	clock := newTestClock()
	rule := Rule{Metric: MetricErrorRate, Threshold: 0.05, Direction: Above, Severity: SeverityCritical, MinSamples: 10}
	m := newTestMonitor(t, clock, rule)

	for i := 0; i < 9; i++ {
		m.RecordOperation(1, true, false)
	}
	m.RecordOperation(1, false, false)

	events := m.Evaluate()
	if len(events) != 1 {
		t.Fatalf("Evaluate() returned %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != EventFired {
		t.Errorf("Type = %q, want fired", ev.Type)
	}
	if ev.Alert.Metric != MetricErrorRate || ev.Alert.Severity != SeverityCritical {
		t.Errorf("Alert = %+v", ev.Alert)
	}
	if !almostEqual(ev.Alert.ObservedValue, 0.10) {
		t.Errorf("ObservedValue = %v, want 0.10", ev.Alert.ObservedValue)
	}
	if !ev.Alert.TriggeredAt.Equal(clock.Now()) {
		t.Errorf("TriggeredAt = %v, want %v", ev.Alert.TriggeredAt, clock.Now())
	}

	if again := m.Evaluate(); len(again) != 0 {
		t.Errorf("second Evaluate() returned %d events, want 0 while still breached", len(again))
	}
	if active := m.ActiveAlerts(); len(active) != 1 {
		t.Errorf("ActiveAlerts() = %d, want 1", len(active))
	}
}

func TestMonitor_MinSamples(t *testing.T) {
	clock := newTestClock()
	rule := Rule{Metric: MetricErrorRate, Threshold: 0.05, Direction: Above, MinSamples: 20}
	m := newTestMonitor(t, clock, rule)

	for i := 0; i < 5; i++ {
		m.RecordOperation(1, false, false)
	}
	if events := m.Evaluate(); len(events) != 0 {
		t.Errorf("Evaluate() = %v, want no events below MinSamples", events)
	}
}

func TestMonitor_EmptyWindowNeverFires(t *testing.T) {
	clock := newTestClock()
	rule := Rule{Metric: MetricCacheHitRate, Threshold: 0.5, Direction: Below}
	m := newTestMonitor(t, clock, rule)

	if events := m.Evaluate(); len(events) != 0 {
		t.Errorf("Evaluate() = %v, want no events on an empty window", events)
	}
}

func TestMonitor_ThresholdIsStrict(t *testing.T) {
	clock := newTestClock()
	rule := Rule{Metric: MetricErrorRate, Threshold: 0.5, Direction: Above}
	m := newTestMonitor(t, clock, rule)

	m.RecordOperation(1, true, false)
	m.RecordOperation(1, false, false)

	if events := m.Evaluate(); len(events) != 0 {
		t.Errorf("Evaluate() = %v, want no events at exactly the threshold", events)
	}
}

func TestMonitor_AlertClearsAfterCooldown(t *testing.T) {
	clock := newTestClock()
	rule := Rule{Metric: MetricErrorRate, Threshold: 0.05, Direction: Above}
	m := newTestMonitor(t, clock, rule)

	m.RecordOperation(1, false, false)
	if events := m.Evaluate(); len(events) != 1 {
		t.Fatalf("Evaluate() = %d events, want 1", len(events))
	}

	// Roll into a clean window.
	clock.Advance(10 * time.Second)
	for i := 0; i < 10; i++ {
		m.RecordOperation(1, true, false)
	}
	if events := m.Evaluate(); len(events) != 0 {
		t.Fatalf("Evaluate() = %v, want no events at the start of recovery", events)
	}

	clock.Advance(4 * time.Second)
	if events := m.Evaluate(); len(events) != 0 {
		t.Fatalf("Evaluate() = %v, want no events before cooldown elapses", events)
	}

	clock.Advance(time.Second)
	events := m.Evaluate()
	if len(events) != 1 || events[0].Type != EventCleared {
		t.Fatalf("Evaluate() = %v, want one cleared event", events)
	}
	if len(m.ActiveAlerts()) != 0 {
		t.Error("ActiveAlerts() should be empty after clearing")
	}
}

func TestMonitor_AlertClearsWhenTrafficStops(t *testing.T) {
	clock := newTestClock()
	rule := Rule{Metric: MetricErrorRate, Threshold: 0.05, Direction: Above}
	m := newTestMonitor(t, clock, rule)

	m.RecordOperation(1, false, false)
	if events := m.Evaluate(); len(events) != 1 {
		t.Fatalf("Evaluate() = %d events, want 1", len(events))
	}

	var cleared []AlertEvent
	for range 60 {
		clock.Advance(time.Second)
		for _, ev := range m.Evaluate() {
			if ev.Type == EventCleared {
				cleared = append(cleared, ev)
			}
		}
	}

	if len(cleared) != 1 {
		t.Fatalf("cleared events = %d, want 1", len(cleared))
	}
	if got := len(m.ActiveAlerts()); got != 0 {
		t.Errorf("ActiveAlerts() = %d after an idle minute, want 0", got)
	}
}

func TestMonitor_AlertClearsUnderMinSamples(t *testing.T) {
	clock := newTestClock()
	rule := Rule{Metric: MetricErrorRate, Threshold: 0.05, Direction: Above, MinSamples: 20}
	m := newTestMonitor(t, clock, rule)

	for range 20 {
		m.RecordOperation(1, false, false)
	}
	if events := m.Evaluate(); len(events) != 1 || events[0].Type != EventFired {
		t.Fatalf("Evaluate() = %v, want one fired event", events)
	}

	// Healthy but light traffic: 5 ops per window, below MinSamples.
	for range 6 {
		clock.Advance(10 * time.Second)
		for range 5 {
			m.RecordOperation(1, true, false)
		}
		m.Evaluate()
	}

	if got := len(m.ActiveAlerts()); got != 0 {
		t.Errorf("ActiveAlerts() = %d, want 0 after a minute of light healthy traffic", got)
	}
}

func TestMonitor_UnderSampledWindowCannotRefire(t *testing.T) {
	clock := newTestClock()
	rule := Rule{Metric: MetricErrorRate, Threshold: 0.05, Direction: Above, MinSamples: 20}
	m := newTestMonitor(t, clock, rule)

	for range 20 {
		m.RecordOperation(1, false, false)
	}
	m.Evaluate()

	clock.Advance(10 * time.Second)
	m.RecordOperation(1, false, false) // breaching, but one sample only
	m.Evaluate()
	clock.Advance(5 * time.Second)

	events := m.Evaluate()
	if len(events) != 1 || events[0].Type != EventCleared {
		t.Fatalf("Evaluate() = %v, want the alert to clear", events)
	}
}

func TestMonitor_RebreachResetsCooldown(t *testing.T) {
	clock := newTestClock()
	rule := Rule{Metric: MetricAvgDurationMicros, Threshold: 100, Direction: Above}
	m := newTestMonitor(t, clock, rule)

	m.RecordOperation(500, true, false)
	m.Evaluate()

	clock.Advance(10 * time.Second)
	m.RecordOperation(10, true, false)
	m.Evaluate() // recovery starts

	clock.Advance(3 * time.Second)
	m.RecordOperation(1000, true, false)
	m.Evaluate() // breached again, recovery resets

	clock.Advance(7 * time.Second)
	m.RecordOperation(10, true, false)
	m.Evaluate() // recovery restarts in the new window

	clock.Advance(3 * time.Second)
	if events := m.Evaluate(); len(events) != 0 {
		t.Errorf("Evaluate() = %v, want the alert to stay active", events)
	}
	if len(m.ActiveAlerts()) != 1 {
		t.Error("alert should still be active")
	}
}

func TestMonitor_Subscribe(t *testing.T) {
	clock := newTestClock()
	rule := Rule{Metric: MetricErrorRate, Threshold: 0, Direction: Above}
	m := newTestMonitor(t, clock, rule)

	sub := m.Subscribe(4)
	defer sub.Unsubscribe()

	m.RecordOperation(1, false, false)
	m.Evaluate()

	select {
	case ev := <-sub.C:
		if ev.Type != EventFired || ev.Alert.Metric != MetricErrorRate {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the fired event")
	}
}

func TestMonitor_SlowSubscriberDrops(t *testing.T) {
	clock := newTestClock()
	rules := []Rule{
		{Metric: MetricErrorRate, Threshold: 0, Direction: Above},
		{Metric: MetricAvgDurationMicros, Threshold: 0, Direction: Above},
	}
	m := newTestMonitor(t, clock, rules...)

	slow := m.Subscribe(1)
	fast := m.Subscribe(8)

	m.RecordOperation(10, false, false)
	events := m.Evaluate()
	if len(events) != 2 {
		t.Fatalf("Evaluate() = %d events, want 2", len(events))
	}

	if got := slow.Dropped(); got != 1 {
		t.Errorf("slow.Dropped() = %d, want 1", got)
	}
	if got := fast.Dropped(); got != 0 {
		t.Errorf("fast.Dropped() = %d, want 0", got)
	}
	if got := m.Metrics().DroppedEvents; got != 1 {
		t.Errorf("DroppedEvents = %d, want 1", got)
	}
	if len(fast.C) != 2 {
		t.Errorf("fast buffered %d events, want 2", len(fast.C))
	}
}

func TestSubscription_UnsubscribeIdempotent(t *testing.T) {
	clock := newTestClock()
	m := newTestMonitor(t, clock)

	sub := m.Subscribe(0)
	if cap(sub.C) != 16 {
		t.Errorf("cap(C) = %d, want default 16", cap(sub.C))
	}
	sub.Unsubscribe()
	sub.Unsubscribe()

	if _, ok := <-sub.C; ok {
		t.Error("C should be closed after Unsubscribe")
	}
}

func TestMonitor_CloseEndsSubscriptions(t *testing.T) {
	clock := newTestClock()
	m := newTestMonitor(t, clock)

	sub := m.Subscribe(1)
	m.Close()
	m.Close()

	if _, ok := <-sub.C; ok {
		t.Error("C should be closed after Close")
	}
	sub.Unsubscribe()

	late := m.Subscribe(1)
	if _, ok := <-late.C; ok {
		t.Error("subscribing after Close should yield a closed channel")
	}
}

func TestMonitor_RunEvaluates(t *testing.T) {
	rule := Rule{Metric: MetricErrorRate, Threshold: 0, Direction: Above}
	m, err := New(Config{EvalInterval: 5 * time.Millisecond, Rules: []Rule{rule}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer m.Close()

	sub := m.Subscribe(1)
	m.RecordOperation(1, false, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case ev := <-sub.C:
		if ev.Type != EventFired {
			t.Errorf("Type = %q, want fired", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not evaluate rules")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestMonitor_RunStopsOnClose(t *testing.T) {
	m, err := New(Config{EvalInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()
	m.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestSnapshot_ValueUnknown(t *testing.T) {
	_, err := Snapshot{}.Value("p99")
	if !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("Value() error = %v, want ErrUnknownMetric", err)
	}
}

func TestMonitor_OTelInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	rule := Rule{Metric: MetricErrorRate, Threshold: 0, Direction: Above}
	m, err := New(Config{Meter: mp.Meter("test"), Rules: []Rule{rule}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer m.Close()

	m.RecordOperation(120, true, true)
	m.RecordOperation(80, false, false)
	m.Evaluate()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	counters := map[string]int64{
		"hash.ops.total":    2,
		"hash.ops.errors":   1,
		"hash.cache.hits":   1,
		"hash.cache.misses": 1,
		"hash.alerts.fired": 1,
	}
	for name, want := range counters {
		found := findMetric(rm, name)
		if found == nil {
			t.Errorf("%s metric not found", name)
			continue
		}
		sum, ok := found.Data.(metricdata.Sum[int64])
		if !ok {
			t.Errorf("%s: expected Sum[int64], got %T", name, found.Data)
			continue
		}
		var total int64
		for _, dp := range sum.DataPoints {
			total += dp.Value
		}
		if total != want {
			t.Errorf("%s = %d, want %d", name, total, want)
		}
	}

	found := findMetric(rm, "hash.op.duration_us")
	if found == nil {
		t.Fatal("hash.op.duration_us metric not found")
	}
	hist, ok := found.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatalf("expected Histogram[int64], got %T", found.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 || hist.DataPoints[0].Sum != 200 {
		t.Errorf("histogram = %+v, want count 2 sum 200", hist.DataPoints)
	}
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestMonitor_SnapshotCountsStayConsistent(t *testing.T) {
	clock := newTestClock()
	m := newTestMonitor(t, clock)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				m.RecordOperation(1, (i+w)%3 != 0, i%2 == 0)
			}
		}()
	}

	for range 2000 {
		w := m.Metrics().Window
		if w.ErrorCount > w.OpCount {
			t.Fatalf("ErrorCount %d exceeds OpCount %d", w.ErrorCount, w.OpCount)
		}
		if w.CacheHits+w.CacheMisses > w.OpCount {
			t.Fatalf("hits+misses %d exceeds OpCount %d", w.CacheHits+w.CacheMisses, w.OpCount)
		}
	}
	close(stop)
	wg.Wait()
}
