package monitor

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instruments mirrors recorded operations into OpenTelemetry.
type instruments struct {
	opsTotal     metric.Int64Counter
	opsErrors    metric.Int64Counter
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
	durationHist metric.Int64Histogram
	alertsFired  metric.Int64Counter
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	opsTotal, err := meter.Int64Counter(
		"hash.ops.total",
		metric.WithDescription("Total number of hash operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	opsErrors, err := meter.Int64Counter(
		"hash.ops.errors",
		metric.WithDescription("Total number of failed hash operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64Counter(
		"hash.cache.hits",
		metric.WithDescription("Hash operations served from the cache"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, err
	}

	cacheMisses, err := meter.Int64Counter(
		"hash.cache.misses",
		metric.WithDescription("Hash operations that missed the cache"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Int64Histogram(
		"hash.op.duration_us",
		metric.WithDescription("Hash operation duration in microseconds"),
		metric.WithUnit("us"),
	)
	if err != nil {
		return nil, err
	}

	alertsFired, err := meter.Int64Counter(
		"hash.alerts.fired",
		metric.WithDescription("Alerts fired by threshold rules"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return nil, err
	}

	return &instruments{
		opsTotal:     opsTotal,
		opsErrors:    opsErrors,
		cacheHits:    cacheHits,
		cacheMisses:  cacheMisses,
		durationHist: durationHist,
		alertsFired:  alertsFired,
	}, nil
}

func (i *instruments) record(durationMicros int64, success, cacheHit bool) {
	ctx := context.Background()

	i.opsTotal.Add(ctx, 1)
	if !success {
		i.opsErrors.Add(ctx, 1)
	}
	if cacheHit {
		i.cacheHits.Add(ctx, 1)
	} else {
		i.cacheMisses.Add(ctx, 1)
	}
	i.durationHist.Record(ctx, durationMicros)
}

func (i *instruments) alertFired(a Alert) {
	i.alertsFired.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("metric", string(a.Metric)),
		attribute.String("severity", string(a.Severity)),
	))
}
