package pipeline

import (
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/hashops/cache"
	"github.com/jonwraymond/hashops/observe"
	"github.com/jonwraymond/hashops/provider"
)

// Option configures a Pipeline beyond its Config.
type Option func(*options)

type options struct {
	provider provider.Provider
	logger   observe.Logger
	tracer   observe.Tracer
	meter    metric.Meter
	observer observe.Observer
	now      func() time.Time
	l2       cache.Cache
}

// WithProvider uses p instead of looking Config.Provider up in the
// default registry.
func WithProvider(p provider.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithLogger sets the logger for every component.
func WithLogger(l observe.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracer sets the tracer used around batches.
func WithTracer(t observe.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithMeter sets the OpenTelemetry meter the monitor exports to.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithObserver supplies the logger, tracer and meter from obs. The caller
// keeps ownership of obs.
func WithObserver(obs observe.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithClock overrides time.Now for the cache, executor and monitor.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithL2 sets a second cache tier behind the memory cache, replacing any
// configured Redis tier.
func WithL2(c cache.Cache) Option {
	return func(o *options) { o.l2 = c }
}
