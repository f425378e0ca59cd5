// Package observability provides logging, metrics, and tracing utilities.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// Logger is a slog.Logger that stamps records with the trace and span ids
// found in the context.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger writing to stdout
func NewLogger(level, format string) *Logger {
	return NewLoggerWithWriter(os.Stdout, level, format)
}

// NewLoggerWithWriter creates a Logger writing to w.
// format is "json" or "text"; anything else falls back to json.
func NewLoggerWithWriter(w io.Writer, level, format string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: true,
	}

	if format == "text" {
		return &Logger{Logger: slog.New(slog.NewTextHandler(w, opts))}
	}
	return &Logger{Logger: slog.New(slog.NewJSONHandler(w, opts))}
}

// NewDiscardLogger returns a logger that drops every record
func NewDiscardLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// Component returns a child logger tagged with the component name
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.With(slog.String("component", name))}
}

// WithTrace returns the underlying logger with trace_id and span_id attached
// when ctx carries a valid span context.
func (l *Logger) WithTrace(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l.Logger
	}

	return l.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// ParseLevel accepts debug, info, warn and error in any case. Anything
// else is info.
func ParseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// log skips trace extraction entirely for records the handler would drop
func (l *Logger) log(ctx context.Context, level slog.Level, msg string, fields []any) {
	if !l.Enabled(ctx, level) {
		return
	}
	l.WithTrace(ctx).Log(ctx, level, msg, fields...)
}

// LogError logs msg at error level with err under the "error" key
func (l *Logger) LogError(ctx context.Context, msg string, err error, fields ...any) {
	l.log(ctx, slog.LevelError, msg, append(fields, slog.Any("error", err)))
}

func (l *Logger) LogWarn(ctx context.Context, msg string, fields ...any) {
	l.log(ctx, slog.LevelWarn, msg, fields)
}

func (l *Logger) LogInfo(ctx context.Context, msg string, fields ...any) {
	l.log(ctx, slog.LevelInfo, msg, fields)
}

func (l *Logger) LogDebug(ctx context.Context, msg string, fields ...any) {
	l.log(ctx, slog.LevelDebug, msg, fields)
}
