package observability

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// Logger wraps slog.Logger with trace context integration
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger writing to stdout
func NewLogger(level, format string) *Logger {
	return NewLoggerWithWriter(os.Stdout, level, format)
}

// NewLoggerWithWriter creates a Logger writing to w
func NewLoggerWithWriter(w io.Writer, level, format string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(level),
		AddSource: level == "debug",
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// NewNopLogger discards everything. Used by tests and optional dependencies.
func NewNopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Component returns a child logger tagged with the component name
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.With(slog.String("component", name))}
}

// WithTrace extracts trace ID and span ID from context and adds them to log fields
func (l *Logger) WithTrace(ctx context.Context) *slog.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return l.Logger
	}

	return l.With(
		slog.String("trace_id", span.SpanContext().TraceID().String()),
		slog.String("span_id", span.SpanContext().SpanID().String()),
	)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogError logs an error with context
func (l *Logger) LogError(ctx context.Context, msg string, err error, fields ...any) {
	l.WithTrace(ctx).Error(msg, append(fields, slog.Any("error", err))...)
}

// LogInfo logs info with context
func (l *Logger) LogInfo(ctx context.Context, msg string, fields ...any) {
	l.WithTrace(ctx).Info(msg, fields...)
}

// LogDebug logs debug with context
func (l *Logger) LogDebug(ctx context.Context, msg string, fields ...any) {
	l.WithTrace(ctx).Debug(msg, fields...)
}

// LogWarn logs warning with context
func (l *Logger) LogWarn(ctx context.Context, msg string, fields ...any) {
	l.WithTrace(ctx).Warn(msg, fields...)
}
