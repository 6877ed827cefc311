package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jonwraymond/hashops/cache"
	"github.com/jonwraymond/hashops/monitor"
	"github.com/jonwraymond/hashops/observe"
	"github.com/jonwraymond/hashops/pool"
	"github.com/jonwraymond/hashops/provider"
)

// scriptedProvider is a SHA-256 provider with per-payload delays and
// failures.
type scriptedProvider struct {
	calls   atomic.Int64
	delays  map[string]time.Duration
	fail    map[string]bool
	started chan string
	release chan struct{}
}

func (s *scriptedProvider) provider() provider.Provider {
	return provider.NewFunc("scripted", sha256.Size, func(payload []byte) ([]byte, error) {
		s.calls.Add(1)
		if s.started != nil {
			s.started <- string(payload)
		}
		if s.release != nil {
			<-s.release
		}
		if d := s.delays[string(payload)]; d > 0 {
			time.Sleep(d)
		}
		if s.fail[string(payload)] {
			return nil, fmt.Errorf("scripted failure for %q", payload)
		}
		sum := sha256.Sum256(payload)
		return sum[:], nil
	})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.QueueSize = 64
	cfg.ChunkSize = 2
	return cfg
}

func newTestPipeline(t *testing.T, cfg Config, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func payloads(names ...string) [][]byte {
	out := make([][]byte, len(names))
	for i, n := range names {
		out[i] = []byte(n)
	}
	return out
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"chunk exceeds queue", func(c *Config) { c.QueueSize = 4; c.ChunkSize = 8 }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"negative item timeout", func(c *Config) { c.ItemTimeout = -time.Second }},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -time.Second }},
		{"bad rule", func(c *Config) { c.Monitor.Rules = []monitor.Rule{{Metric: "p99", Direction: monitor.Above}}} },
		{"unknown provider", func(c *Config) { c.Provider = "md4" }},
		{"bad log level", func(c *Config) { c.Observe.Logging = observe.LoggingConfig{Enabled: true, Level: "loud"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(context.Background(), cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNew_ZeroConfigUsesDefaults(t *testing.T) {
	p := newTestPipeline(t, Config{})

	cfg := p.Config()
	if cfg.Provider != "sha256" {
		t.Errorf("Provider = %q, want sha256", cfg.Provider)
	}
	if cfg.ChunkSize > cfg.QueueSize {
		t.Errorf("ChunkSize %d exceeds QueueSize %d", cfg.ChunkSize, cfg.QueueSize)
	}
	if p.DigestSize() != 32 {
		t.Errorf("DigestSize() = %d, want 32", p.DigestSize())
	}
}

func TestPipeline_OrderPreservedWithSkewedDelays(t *testing.T) {
	sp := &scriptedProvider{delays: map[string]time.Duration{"p3": 80 * time.Millisecond}}
	p := newTestPipeline(t, testConfig(), WithProvider(sp.provider()))

	in := payloads("p1", "p2", "p3", "p4", "p5")
	results, err := p.BatchHash(context.Background(), in)
	if err != nil {
		t.Fatalf("BatchHash() error = %v", err)
	}
	if len(results) != len(in) {
		t.Fatalf("got %d results, want %d", len(results), len(in))
	}
	for i, res := range results {
		if res.Index != i {
			t.Errorf("results[%d].Index = %d", i, res.Index)
		}
		want := sha256.Sum256(in[i])
		if !bytes.Equal(res.Digest, want[:]) {
			t.Errorf("results[%d] holds the wrong digest", i)
		}
	}
}

func TestPipeline_PartialFailureIsolation(t *testing.T) {
	sp := &scriptedProvider{fail: map[string]bool{"c": true}}
	p := newTestPipeline(t, testConfig(), WithProvider(sp.provider()))

	results, err := p.BatchHash(context.Background(), payloads("a", "b", "c", "d", "e"))
	if err != nil {
		t.Fatalf("BatchHash() error = %v", err)
	}

	var ok, failed int
	for i, res := range results {
		if res.OK() {
			ok++
			continue
		}
		failed++
		if i != 2 {
			t.Errorf("unexpected failure at index %d: %v", i, res.Err)
		}
		if !errors.Is(res.Err, provider.ErrCompute) {
			t.Errorf("Err = %v, want ErrCompute", res.Err)
		}
	}
	if ok != 4 || failed != 1 {
		t.Errorf("ok = %d failed = %d, want 4 and 1", ok, failed)
	}

	snap := p.Metrics()
	if snap.Window.OpCount != 5 || snap.Window.ErrorCount != 1 {
		t.Errorf("window = %+v, want 5 ops 1 error", snap.Window)
	}
}

func TestPipeline_CoalescesIdenticalPayloads(t *testing.T) {
	sp := &scriptedProvider{delays: map[string]time.Duration{"same": 50 * time.Millisecond}}
	cfg := testConfig()
	cfg.ChunkSize = 8
	p := newTestPipeline(t, cfg, WithProvider(sp.provider()))

	in := payloads("same", "same", "same", "same", "same", "same", "same", "same")
	results, err := p.BatchHash(context.Background(), in)
	if err != nil {
		t.Fatalf("BatchHash() error = %v", err)
	}

	if got := sp.calls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}
	for i, res := range results {
		if !res.OK() {
			t.Fatalf("results[%d] failed: %v", i, res.Err)
		}
		if !bytes.Equal(res.Digest, results[0].Digest) {
			t.Errorf("results[%d] digest differs", i)
		}
	}
}

func TestPipeline_CacheHitOnSecondCall(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	ctx := context.Background()

	first, err := p.Hash(ctx, []byte("hello"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	second, err := p.Hash(ctx, []byte("hello"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if first.CacheHit {
		t.Error("first call should miss")
	}
	if !second.CacheHit {
		t.Error("second call should hit")
	}
	if !bytes.Equal(first.Digest, second.Digest) {
		t.Error("cached digest differs")
	}

	snap := p.Metrics()
	if snap.Window.CacheHits != 1 || snap.Window.CacheMisses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", snap.Window.CacheHits, snap.Window.CacheMisses)
	}
	if stats := p.CacheStats(); stats.Size != 1 {
		t.Errorf("CacheStats().Size = %d, want 1", stats.Size)
	}
}

func TestPipeline_ItemTimeout(t *testing.T) {
	sp := &scriptedProvider{delays: map[string]time.Duration{"slow": 300 * time.Millisecond}}
	cfg := testConfig()
	cfg.ItemTimeout = 20 * time.Millisecond
	p := newTestPipeline(t, cfg, WithProvider(sp.provider()))

	results, err := p.BatchHash(context.Background(), payloads("fast", "slow", "fast2"))
	if err != nil {
		t.Fatalf("BatchHash() error = %v", err)
	}
	if !errors.Is(results[1].Err, ErrTimeout) {
		t.Errorf("results[1].Err = %v, want ErrTimeout", results[1].Err)
	}
	if !results[0].OK() || !results[2].OK() {
		t.Errorf("other items should succeed: %v, %v", results[0].Err, results[2].Err)
	}
}

func TestPipeline_TimedOutItemsStayWithinWorkerLimit(t *testing.T) {
	var active, peak atomic.Int64
	release := make(chan struct{})
	blocking := provider.NewFunc("blocking", sha256.Size, func(payload []byte) ([]byte, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		sum := sha256.Sum256(payload)
		return sum[:], nil
	})

	cfg := testConfig()
	cfg.Workers = 2
	cfg.ItemTimeout = 20 * time.Millisecond
	p := newTestPipeline(t, cfg, WithProvider(blocking))
	t.Cleanup(func() { close(release) })

	for b := range 5 {
		names := make([]string, 8)
		for i := range names {
			names[i] = fmt.Sprintf("batch-%d-item-%d", b, i)
		}
		results, err := p.BatchHash(context.Background(), payloads(names...))
		if err != nil {
			t.Fatalf("BatchHash() error = %v", err)
		}
		for i, res := range results {
			if !errors.Is(res.Err, ErrTimeout) {
				t.Errorf("batch %d results[%d].Err = %v, want ErrTimeout", b, i, res.Err)
			}
		}
	}

	if got := peak.Load(); got > int64(cfg.Workers) {
		t.Errorf("peak concurrent provider calls = %d, want <= %d workers", got, cfg.Workers)
	}
	if got := p.loader.PeakConcurrency(); got > int64(cfg.Workers) {
		t.Errorf("PeakConcurrency() = %d, want <= %d", got, cfg.Workers)
	}
}

func TestPipeline_QueueFull(t *testing.T) {
	sp := &scriptedProvider{
		started: make(chan string, 8),
		release: make(chan struct{}),
	}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 2
	cfg.ChunkSize = 2
	p := newTestPipeline(t, cfg, WithProvider(sp.provider()))

	done := make(chan error, 1)
	go func() {
		_, err := p.BatchHash(context.Background(), payloads("a", "b"))
		done <- err
	}()
	<-sp.started

	_, err := p.BatchHash(context.Background(), payloads("c", "d"))
	if !errors.Is(err, pool.ErrQueueFull) {
		t.Errorf("BatchHash() error = %v, want ErrQueueFull", err)
	}

	close(sp.release)
	if err := <-done; err != nil {
		t.Errorf("first batch error = %v", err)
	}
	// Rejected counts tasks: the whole two-item chunk was turned away.
	if got := p.PoolMetrics().Rejected; got != 2 {
		t.Errorf("Rejected = %d, want 2", got)
	}
}

func TestPipeline_CancelledBeforeDispatch(t *testing.T) {
	p := newTestPipeline(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := p.BatchHash(ctx, payloads("a", "b", "c"))
	if err != nil {
		t.Fatalf("BatchHash() error = %v", err)
	}
	for i, res := range results {
		if !errors.Is(res.Err, pool.ErrCancelled) {
			t.Errorf("results[%d].Err = %v, want ErrCancelled", i, res.Err)
		}
	}
}

func TestPipeline_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		scenarios int
	}{
		{"default", func(*Config) {}, 4},
		{"doorkeeper", func(c *Config) { c.Cache.Doorkeeper = true }, 4},
		{"cache disabled", func(c *Config) { c.Cache.TTL = 0 }, 3},
		{"blake3", func(c *Config) { c.Provider = "blake3" }, 4},
		{"xxh64", func(c *Config) { c.Provider = "xxh64" }, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			p := newTestPipeline(t, cfg)

			report := p.Validate(context.Background())
			if !report.Passed {
				for _, r := range report.Failed() {
					t.Errorf("%s failed: %s (%v)", r.Scenario, r.Message, r.Error)
				}
			}
			if len(report.Results) != tt.scenarios {
				t.Errorf("ran %d scenarios, want %d", len(report.Results), tt.scenarios)
			}
		})
	}
}

func TestPipeline_ValidateLeavesMetricsUntouched(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	ctx := context.Background()

	if _, err := p.BatchHash(ctx, payloads("a", "b", "c")); err != nil {
		t.Fatalf("BatchHash() error = %v", err)
	}
	before := p.Metrics().Window

	if report := p.Validate(ctx); !report.Passed {
		t.Fatalf("Validate() failed: %+v", report.Failed())
	}

	after := p.Metrics().Window
	if after.OpCount != before.OpCount || after.CacheHits != before.CacheHits || after.CacheMisses != before.CacheMisses {
		t.Errorf("window after Validate = %+v, want %+v", after, before)
	}
	if after.OpCount != 3 {
		t.Errorf("OpCount = %d, want 3", after.OpCount)
	}
}

func TestPipeline_AlertSubscription(t *testing.T) {
	sp := &scriptedProvider{fail: map[string]bool{"bad": true}}
	cfg := testConfig()
	cfg.Monitor.EvalInterval = 5 * time.Millisecond
	cfg.Monitor.Rules = []monitor.Rule{
		{Metric: monitor.MetricErrorRate, Threshold: 0.25, Direction: monitor.Above, Severity: monitor.SeverityCritical},
	}
	p := newTestPipeline(t, cfg, WithProvider(sp.provider()))

	sub := p.Subscribe(4)
	if _, err := p.BatchHash(context.Background(), payloads("bad", "ok")); err != nil {
		t.Fatalf("BatchHash() error = %v", err)
	}

	select {
	case ev := <-sub.C:
		if ev.Type != monitor.EventFired || ev.Alert.Severity != monitor.SeverityCritical {
			t.Errorf("event = %+v", ev)
		}
		if ev.Alert.ObservedValue <= 0.25 {
			t.Errorf("ObservedValue = %v, want above 0.25", ev.Alert.ObservedValue)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no alert delivered")
	}
}

// mapCache is an in-process stand-in for a shared second tier.
type mapCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = bytes.Clone(value)
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}

var _ cache.Cache = (*mapCache)(nil)

func TestPipeline_SharedSecondTier(t *testing.T) {
	l2 := &mapCache{m: map[string][]byte{}}
	ctx := context.Background()

	a := newTestPipeline(t, testConfig(), WithL2(l2))
	if res, err := a.Hash(ctx, []byte("shared")); err != nil || res.CacheHit {
		t.Fatalf("first pipeline: res = %+v err = %v, want a computed miss", res, err)
	}

	b := newTestPipeline(t, testConfig(), WithL2(l2))
	res, err := b.Hash(ctx, []byte("shared"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !res.CacheHit {
		t.Error("second pipeline should hit the shared tier")
	}
	if b.CacheStats().Size != 1 {
		t.Error("shared-tier hit should be promoted into memory")
	}
}

func TestPipeline_Breaker(t *testing.T) {
	sp := &scriptedProvider{fail: map[string]bool{"x1": true, "x2": true, "x3": true}}
	cfg := testConfig()
	cfg.Breaker = BreakerConfig{Enabled: true, MaxFailures: 2, ResetTimeout: time.Hour}
	p := newTestPipeline(t, cfg, WithProvider(sp.provider()))
	ctx := context.Background()

	for _, payload := range []string{"x1", "x2"} {
		if _, err := p.Hash(ctx, []byte(payload)); err != nil {
			t.Fatalf("Hash() error = %v", err)
		}
	}

	res, err := p.Hash(ctx, []byte("fine"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !errors.Is(res.Err, provider.ErrCircuitOpen) {
		t.Errorf("Err = %v, want ErrCircuitOpen", res.Err)
	}
	if !errors.Is(res.Err, provider.ErrCompute) {
		t.Errorf("Err = %v, want ErrCompute", res.Err)
	}
	if got := sp.calls.Load(); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}
}

func TestPipeline_MeterExport(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	p := newTestPipeline(t, testConfig(), WithMeter(mp.Meter("test")))

	if _, err := p.BatchHash(context.Background(), payloads("a", "b", "a")); err != nil {
		t.Fatalf("BatchHash() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "hash.ops.total" {
				continue
			}
			sum := m.Data.(metricdata.Sum[int64])
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			if total != 3 {
				t.Errorf("hash.ops.total = %d, want 3", total)
			}
			return
		}
	}
	t.Error("hash.ops.total metric not found")
}

func TestPipeline_LogsLifecycle(t *testing.T) {
	var buf syncBuffer
	p, err := New(context.Background(), testConfig(), WithLogger(observe.NewLoggerWithWriter("info", &buf)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	out := buf.String()
	for _, msg := range []string{"pipeline started", "pipeline closed"} {
		if !strings.Contains(out, msg) {
			t.Errorf("log output missing %q: %s", msg, out)
		}
	}
}

func TestPipeline_Close(t *testing.T) {
	p, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sub := p.Subscribe(1)

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if _, ok := <-sub.C; ok {
		t.Error("subscription should be closed")
	}
	if _, err := p.Hash(context.Background(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Hash() after Close error = %v, want ErrClosed", err)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
