package observe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// LogLevel represents a logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

// ParseLogLevel parses a string log level. Unknown names map to LevelInfo.
func ParseLogLevel(s string) LogLevel {
	for l, name := range levelNames {
		if name == s {
			return LogLevel(l)
		}
	}
	return LevelInfo
}

func (l LogLevel) String() string {
	if l < LevelDebug || l > LevelError {
		return levelNames[LevelInfo]
	}
	return levelNames[l]
}

// sink serializes writes from a logger and all loggers derived from it.
type sink struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func (s *sink) write(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		data, _ = json.Marshal(map[string]any{
			"timestamp": entry["timestamp"],
			"level":     entry["level"],
			"msg":       entry["msg"],
			"log_error": err.Error(),
		})
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(data)
}

// jsonLogger writes one JSON object per line.
type jsonLogger struct {
	level LogLevel
	out   *sink
	attrs map[string]any
}

// NewLogger creates a JSON logger writing to stderr.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a JSON logger writing to w.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	return &jsonLogger{
		level: ParseLogLevel(level),
		out:   &sink{w: w, now: time.Now},
		attrs: map[string]any{},
	}
}

func (l *jsonLogger) derive(extra int) *jsonLogger {
	attrs := make(map[string]any, len(l.attrs)+extra)
	maps.Copy(attrs, l.attrs)
	return &jsonLogger{level: l.level, out: l.out, attrs: attrs}
}

// WithOp returns a logger tagged with the operation's identity.
func (l *jsonLogger) WithOp(meta OpMeta) Logger {
	child := l.derive(4)
	child.attrs["op.id"] = meta.OpID()
	child.attrs["op.name"] = meta.Name
	if meta.Provider != "" {
		child.attrs["op.provider"] = meta.Provider
	}
	if meta.Version != "" {
		child.attrs["op.version"] = meta.Version
	}
	return child
}

// With returns a logger that adds fields to every entry.
func (l *jsonLogger) With(fields ...Field) Logger {
	child := l.derive(len(fields))
	for _, f := range fields {
		child.attrs[f.Key] = fieldValue(f)
	}
	return child
}

func (l *jsonLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelInfo, msg, fields)
}

func (l *jsonLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelWarn, msg, fields)
}

func (l *jsonLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelError, msg, fields)
}

func (l *jsonLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelDebug, msg, fields)
}

func (l *jsonLogger) log(ctx context.Context, level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}

	entry := make(map[string]any, len(l.attrs)+len(fields)+5)
	maps.Copy(entry, l.attrs)
	for _, f := range fields {
		entry[f.Key] = fieldValue(f)
	}

	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			entry["trace_id"] = sc.TraceID().String()
			entry["span_id"] = sc.SpanID().String()
		}
	}

	entry["timestamp"] = l.out.now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg

	l.out.write(entry)
}

// fieldValue renders a field for output. Sensitive keys are masked and raw
// bytes are reduced to their length so payloads never reach the log.
func fieldValue(f Field) any {
	if redactedKeys[f.Key] {
		return "[REDACTED]"
	}
	switch v := f.Value.(type) {
	case []byte:
		return fmt.Sprintf("[%d bytes]", len(v))
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return v
	}
}

// redactedKeys are masked in every entry. Payloads are caller data and may
// be arbitrarily sensitive.
var redactedKeys = map[string]bool{
	"payload":    true,
	"payloads":   true,
	"password":   true,
	"secret":     true,
	"token":      true,
	"api_key":    true,
	"apiKey":     true,
	"credential": true,
}

// noopLogger discards everything.
type noopLogger struct{}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return noopLogger{} }

func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (l noopLogger) WithOp(OpMeta) Logger                  { return l }
func (l noopLogger) With(...Field) Logger                  { return l }

var (
	_ Logger = (*jsonLogger)(nil)
	_ Logger = noopLogger{}
)
