// Package exporters builds the OpenTelemetry span exporters and metric
// readers that hashops can be configured with.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrUnknownExporter indicates an exporter name this package cannot build.
	ErrUnknownExporter = errors.New("exporters: unknown exporter")

	// ErrEndpointNotConfigured indicates a required endpoint environment variable is not set.
	ErrEndpointNotConfigured = errors.New("exporters: endpoint not configured")
)

// Environment variables consulted for collector endpoints, in order.
var (
	traceEndpointEnv  = []string{"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"}
	metricEndpointEnv = []string{"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"}
	jaegerEndpointEnv = []string{"OTEL_EXPORTER_JAEGER_ENDPOINT"}
)

type options struct {
	writer     io.Writer
	registerer promclient.Registerer
	interval   time.Duration
}

// Option configures exporter construction.
type Option func(*options)

// WithWriter sets the destination of the stdout exporters.
// Default: os.Stdout
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.writer = w
		}
	}
}

// WithRegisterer sets the Prometheus registry the prometheus reader
// registers its collector with.
// Default: prometheus.DefaultRegisterer
func WithRegisterer(r promclient.Registerer) Option {
	return func(o *options) {
		o.registerer = r
	}
}

// WithInterval sets how often push readers (stdout, otlp) export.
// Default: the SDK default of 60s
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{writer: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// endpoint returns the first non-empty value among keys.
func endpoint(keys []string) (string, error) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: set %s", ErrEndpointNotConfigured, strings.Join(keys, " or "))
}

// NewTracingExporter creates a span exporter by name: stdout, otlp, jaeger
// or none. "none" and "" return a nil exporter.
func NewTracingExporter(ctx context.Context, name string, opts ...Option) (sdktrace.SpanExporter, error) {
	o := applyOptions(opts)

	switch name {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(o.writer))
	case "otlp":
		if _, err := endpoint(traceEndpointEnv); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)
	case "jaeger":
		// Jaeger ingests OTLP natively.
		url, err := endpoint(jaegerEndpointEnv)
		if err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpointURL(url))
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
}

// NewMetricsReader creates a metric reader by name: stdout, otlp,
// prometheus or none. "none" and "" return a nil reader.
func NewMetricsReader(ctx context.Context, name string, opts ...Option) (sdkmetric.Reader, error) {
	o := applyOptions(opts)

	switch name {
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(o.writer))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metrics exporter: %w", err)
		}
		return o.periodic(exp), nil
	case "otlp":
		if _, err := endpoint(metricEndpointEnv); err != nil {
			return nil, err
		}
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		return o.periodic(exp), nil
	case "prometheus":
		var popts []prometheus.Option
		if o.registerer != nil {
			popts = append(popts, prometheus.WithRegisterer(o.registerer))
		}
		exp, err := prometheus.New(popts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		return exp, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, name)
	}
}

func (o options) periodic(exp sdkmetric.Exporter) sdkmetric.Reader {
	var ropts []sdkmetric.PeriodicReaderOption
	if o.interval > 0 {
		ropts = append(ropts, sdkmetric.WithInterval(o.interval))
	}
	return sdkmetric.NewPeriodicReader(exp, ropts...)
}
