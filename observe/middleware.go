package observe

import (
	"context"
	"errors"
	"time"
)

// ErrNilObserver indicates a nil Observer was provided.
var ErrNilObserver = errors.New("observe: observer is nil")

// ExecuteFunc is the signature of an operation Middleware wraps.
type ExecuteFunc func(ctx context.Context, op OpMeta) error

// Middleware wraps hash operations with tracing and logging. Per-item
// metrics are recorded by the performance monitor, not here.
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe ExecuteFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from wrapped function are recorded and propagated unchanged.
type Middleware struct {
	tracer Tracer
	logger Logger
}

// NewMiddleware creates a new Middleware. Nil components become no-ops.
func NewMiddleware(tracer Tracer, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer: tracer,
		logger: logger,
	}
}

// Wrap wraps an ExecuteFunc with tracing and logging.
func (m *Middleware) Wrap(fn ExecuteFunc) ExecuteFunc {
	return func(ctx context.Context, op OpMeta) error {
		if err := op.Validate(); err != nil {
			return err
		}

		ctx, span := m.tracer.StartSpan(ctx, op)
		start := time.Now()

		err := fn(ctx, op)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)

		opLogger := m.logger.WithOp(op)
		fields := []Field{
			{Key: "duration_ms", Value: float64(duration.Microseconds()) / 1000},
		}
		if op.Items > 0 {
			fields = append(fields, Field{Key: "items", Value: op.Items})
		}

		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			opLogger.Error(ctx, "hash operation failed", fields...)
		} else {
			opLogger.Debug(ctx, "hash operation completed", fields...)
		}

		return err
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	return NewMiddleware(NewTracer(obs.Tracer()), obs.Logger()), nil
}
