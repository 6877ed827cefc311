package observe

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// OpMeta describes a hash operation for telemetry purposes.
type OpMeta struct {
	Name     string // Operation name, e.g. "batch" (required)
	Provider string // Hash provider name (optional)
	Version  string // Service version (optional)
	Items    int    // Number of payloads in the operation (optional)
}

// SpanName returns the deterministic span name for this operation.
// Format: hash.<provider>.<name> or hash.<name>
func (m OpMeta) SpanName() string {
	if m.Provider != "" {
		return "hash." + m.Provider + "." + m.Name
	}
	return "hash." + m.Name
}

// OpID returns the qualified operation identifier.
func (m OpMeta) OpID() string {
	if m.Provider != "" {
		return m.Provider + "." + m.Name
	}
	return m.Name
}

// ErrMissingOpName indicates OpMeta.Name is empty.
var ErrMissingOpName = errors.New("observe: operation name is required")

// Validate reports whether the metadata can be used for telemetry.
func (m OpMeta) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return ErrMissingOpName
	}
	return nil
}

// Tracer wraps OpenTelemetry tracing with operation-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a hash operation.
	StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
// A nil tracer yields a no-op Tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NopTracer()
	}
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with operation metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("op.id", meta.OpID()),
		attribute.String("op.name", meta.Name),
		attribute.Bool("op.error", false), // Will be updated in EndSpan if error
	}
	if meta.Provider != "" {
		attrs = append(attrs, attribute.String("op.provider", meta.Provider))
	}
	if meta.Version != "" {
		attrs = append(attrs, attribute.String("op.version", meta.Version))
	}
	if meta.Items > 0 {
		attrs = append(attrs, attribute.Int("op.items", meta.Items))
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("op.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// NopTracer returns a Tracer that records nothing.
func NopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
