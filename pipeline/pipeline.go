package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/hashops/batch"
	"github.com/jonwraymond/hashops/cache"
	"github.com/jonwraymond/hashops/monitor"
	"github.com/jonwraymond/hashops/observe"
	"github.com/jonwraymond/hashops/pool"
	"github.com/jonwraymond/hashops/provider"
	"github.com/jonwraymond/hashops/validate"
)

// Pipeline hashes payloads through cache, pool, batch executor and monitor.
type Pipeline struct {
	config Config
	now    func() time.Time
	logger observe.Logger

	provider provider.Provider
	breaker  *provider.Breaker // nil unless Breaker.Enabled
	memory   *cache.MemoryCache
	loader   *cache.Loader
	pool     *pool.Pool
	executor *batch.Executor
	monitor  *monitor.Monitor
	harness  *validate.Harness
	mw       *observe.Middleware

	observer observe.Observer // owned, shut down on Close
	redis    *redis.Client    // owned, closed on Close

	stop        context.CancelFunc
	maintenance *errgroup.Group

	closed        atomic.Bool
	closeOnce     sync.Once
	closeErr      error
	corruptLogged atomic.Bool
}

// Ensure Pipeline can be validated.
var _ validate.Target = (*Pipeline)(nil)

// New builds a pipeline and starts its maintenance loop. ctx is used only
// for construction.
func New(ctx context.Context, config Config, opts ...Option) (*Pipeline, error) {
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}

	p := &Pipeline{config: config, now: o.now}

	if err := p.setupObservability(ctx, o); err != nil {
		return nil, err
	}

	if err := p.setupProvider(o); err != nil {
		p.shutdownOwned(ctx)
		return nil, err
	}

	if err := p.setupCache(ctx, o); err != nil {
		p.shutdownOwned(ctx)
		return nil, err
	}

	p.pool = pool.New(pool.Config{
		Workers:   config.Workers,
		QueueSize: config.QueueSize,
		Logger:    p.component("pool"),
	})

	executor, err := batch.New(p.pool, p.handle, batch.Config{
		ChunkSize:         config.ChunkSize,
		MaxInFlightChunks: max(1, config.QueueSize/config.ChunkSize),
		Logger:            p.component("batch"),
		Now:               o.now,
	})
	if err != nil {
		p.shutdownOwned(ctx)
		return nil, err
	}
	p.executor = executor

	mon, err := monitor.New(monitor.Config{
		Window:           config.Monitor.Window,
		EvalInterval:     config.Monitor.EvalInterval,
		Cooldown:         config.Monitor.Cooldown,
		Rules:            config.Monitor.Rules,
		SubscriberBuffer: config.Monitor.SubscriberBuffer,
		Meter:            p.meter(o),
		Logger:           p.component("monitor"),
		Now:              o.now,
	})
	if err != nil {
		_ = p.pool.Close(ctx)
		p.shutdownOwned(ctx)
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	p.monitor = mon

	p.harness = validate.NewHarness(validate.HarnessConfig{
		Timeout:  config.Validation.Timeout,
		Parallel: config.Validation.Parallel,
		Logger:   p.component("validate"),
	})
	p.harness.Register(p.scenarios()...)

	p.startMaintenance()

	p.logger.Info(ctx, "pipeline started",
		observe.Field{Key: "provider", Value: p.provider.Name()},
		observe.Field{Key: "workers", Value: config.Workers},
		observe.Field{Key: "queue_size", Value: config.QueueSize},
		observe.Field{Key: "chunk_size", Value: config.ChunkSize},
	)
	return p, nil
}

func (p *Pipeline) setupObservability(ctx context.Context, o options) error {
	if o.observer == nil && o.logger == nil && o.tracer == nil && o.meter == nil && p.config.Observe.Enabled() {
		cfg := p.config.Observe
		cfg.Attributes = maps.Clone(cfg.Attributes)
		if cfg.Attributes == nil {
			cfg.Attributes = map[string]string{}
		}
		if _, ok := cfg.Attributes["hash.provider"]; !ok {
			cfg.Attributes["hash.provider"] = p.config.Provider
		}
		obs, err := observe.NewObserver(ctx, cfg)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		p.observer = obs
		o.observer = obs
	}

	p.logger = o.logger
	if p.logger == nil && o.observer != nil {
		p.logger = o.observer.Logger()
	}
	if p.logger == nil {
		p.logger = observe.NopLogger()
	}

	tracer := o.tracer
	if tracer == nil && o.observer != nil {
		tracer = observe.NewTracer(o.observer.Tracer())
	}
	p.mw = observe.NewMiddleware(tracer, p.logger)
	return nil
}

func (p *Pipeline) component(name string) observe.Logger {
	return p.logger.With(observe.Field{Key: "component", Value: name})
}

func (p *Pipeline) meter(o options) metric.Meter {
	if o.meter != nil {
		return o.meter
	}
	if o.observer != nil {
		return o.observer.Meter()
	}
	if p.observer != nil {
		return p.observer.Meter()
	}
	return nil
}

func (p *Pipeline) setupProvider(o options) error {
	prov := o.provider
	if prov == nil {
		var err error
		prov, err = provider.Lookup(p.config.Provider)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	if p.config.Breaker.Enabled {
		name := prov.Name()
		p.breaker = provider.NewBreaker(prov, provider.BreakerConfig{
			MaxFailures:  p.config.Breaker.MaxFailures,
			ResetTimeout: p.config.Breaker.ResetTimeout,
			OnStateChange: func(from, to provider.State) {
				p.logger.Warn(context.Background(), "provider breaker state changed",
					observe.Field{Key: "provider", Value: name},
					observe.Field{Key: "from", Value: from.String()},
					observe.Field{Key: "to", Value: to.String()},
				)
			},
			Now: p.now,
		})
		prov = p.breaker
	}
	p.provider = prov
	return nil
}

func (p *Pipeline) setupCache(ctx context.Context, o options) error {
	policy := p.config.Cache.Policy()
	p.memory = cache.NewMemoryCache(policy, cache.WithClock(p.now))

	var store cache.Cache = p.memory
	l2 := o.l2
	if l2 == nil && p.config.Cache.RedisURL != "" {
		client, err := cache.Connect(ctx, p.config.Cache.RedisURL)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		rc := cache.NewRedisCache(client, p.config.Cache.RedisPrefix)
		rc.OnError = func(op string, err error) {
			p.logger.Warn(context.Background(), "redis cache degraded to miss",
				observe.Field{Key: "op", Value: op},
				observe.Field{Key: "error", Value: err.Error()},
			)
		}
		p.redis = client
		l2 = rc
	}
	if l2 != nil {
		store = cache.NewTiered(p.memory, l2, policy.EffectiveTTL(0))
	}

	p.loader = cache.NewLoader(store, policy, cache.WithMaxConcurrency(p.config.Workers))
	return nil
}

// scenarios returns the validation battery for this configuration. A
// doorkeeper needs one priming call before a key is cached, and a disabled
// cache has no cache behavior to check.
func (p *Pipeline) scenarios() []validate.Scenario {
	policy := p.loader.Policy()
	scenarios := []validate.Scenario{
		validate.Determinism(),
		validate.FixedSize(validate.DefaultPayloadSizes...),
	}
	if policy.ShouldCache() {
		primes := 0
		if policy.Doorkeeper {
			primes = 1
		}
		scenarios = append(scenarios, validate.CacheCorrectness(primes))
	}
	return append(scenarios, validate.OrderPreservation(max(2, p.config.ChunkSize+1)))
}

// handle computes one item on a pool worker and records it. Validation
// traffic is not recorded.
func (p *Pipeline) handle(ctx context.Context, _ int, req batch.Request) batch.Result {
	if p.config.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ItemTimeout)
		defer cancel()
	}

	start := p.now()
	lk, err := p.loader.Load(ctx, p.provider, req.Payload)
	elapsed := p.now().Sub(start)

	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", ErrTimeout, p.config.ItemTimeout, err)
	}
	if errors.Is(err, cache.ErrCorrupted) && p.corruptLogged.CompareAndSwap(false, true) {
		p.logger.Error(ctx, "digest cache corrupted, cached lookups halted",
			observe.Field{Key: "error", Value: err.Error()},
		)
	}

	if !validate.InRun(ctx) {
		p.monitor.RecordOperation(elapsed.Microseconds(), err == nil, lk.Hit)
	}

	return batch.Result{
		Digest:          lk.Digest,
		Err:             err,
		CacheHit:        lk.Hit,
		Shared:          lk.Shared,
		ComputeDuration: elapsed,
	}
}

// BatchHash hashes payloads and returns results in input order. Item
// failures appear only in their result; the error is non-nil only when the
// whole call was rejected.
func (p *Pipeline) BatchHash(ctx context.Context, payloads [][]byte) ([]batch.Result, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	var results []batch.Result
	op := observe.OpMeta{Name: "batch", Provider: p.provider.Name(), Items: len(payloads)}
	err := p.mw.Wrap(func(ctx context.Context, _ observe.OpMeta) error {
		var err error
		results, err = p.executor.Run(ctx, payloads)
		return err
	})(ctx, op)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Hash hashes one payload through the same path as BatchHash.
func (p *Pipeline) Hash(ctx context.Context, payload []byte) (batch.Result, error) {
	results, err := p.BatchHash(ctx, [][]byte{payload})
	if err != nil {
		return batch.Result{}, err
	}
	return results[0], nil
}

// Compute hashes payload with the provider directly, bypassing the cache,
// pool and monitor.
func (p *Pipeline) Compute(payload []byte) ([]byte, error) {
	return provider.Compute(p.provider, payload)
}

// DigestSize is the provider's fixed digest length.
func (p *Pipeline) DigestSize() int {
	return p.provider.Size()
}

// ProviderName is the name of the active provider.
func (p *Pipeline) ProviderName() string {
	return p.provider.Name()
}

// Metrics returns the monitor's current window and derived metrics.
func (p *Pipeline) Metrics() monitor.Snapshot {
	return p.monitor.Metrics()
}

// Subscribe registers an alert subscriber.
func (p *Pipeline) Subscribe(buffer int) *monitor.Subscription {
	return p.monitor.Subscribe(buffer)
}

// Validate runs the self-check battery against this pipeline.
func (p *Pipeline) Validate(ctx context.Context) validate.Report {
	return p.harness.Run(ctx, p)
}

// Harness returns the validation harness, for serving it over HTTP.
func (p *Pipeline) Harness() *validate.Harness {
	return p.harness
}

// CacheStats returns memory cache statistics.
func (p *Pipeline) CacheStats() cache.Stats {
	return p.memory.Stats()
}

// PoolMetrics returns worker pool metrics.
func (p *Pipeline) PoolMetrics() pool.Metrics {
	return p.pool.Metrics()
}

// BatchMetrics returns batch executor metrics.
func (p *Pipeline) BatchMetrics() batch.Metrics {
	return p.executor.Metrics()
}

// Logger returns the pipeline's logger.
func (p *Pipeline) Logger() observe.Logger {
	return p.logger
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.config
}

// startMaintenance runs rule evaluation and cache purging until Close.
func (p *Pipeline) startMaintenance() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	p.stop = cancel
	p.maintenance = g

	g.Go(func() error {
		return p.monitor.Run(ctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(p.config.PurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if n := p.memory.PurgeExpired(); n > 0 {
					p.logger.Debug(ctx, "purged expired cache entries", observe.Field{Key: "count", Value: n})
				}
			}
		}
	})
}

// Close stops maintenance, drains the pool and closes subscriptions. It is
// idempotent; later calls return the first result.
func (p *Pipeline) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)

		p.stop()
		_ = p.maintenance.Wait()

		var errs []error
		if err := p.pool.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close pool: %w", err))
		}
		p.monitor.Close()
		errs = append(errs, p.shutdownOwned(ctx)...)

		p.closeErr = errors.Join(errs...)
		p.logger.Info(ctx, "pipeline closed")
	})
	return p.closeErr
}

func (p *Pipeline) shutdownOwned(ctx context.Context) []error {
	var errs []error
	if p.redis != nil {
		if err := p.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if p.observer != nil {
		if err := p.observer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown observer: %w", err))
		}
	}
	return errs
}
