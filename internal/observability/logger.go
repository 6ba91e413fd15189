// Package observability provides structured logging and metrics collection.
//
// Logger wraps log/slog with a persistent component field.
// Metrics exposes store operation counters and latencies to Prometheus.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog with persistent component context.
type Logger struct {
	inner     *slog.Logger
	component string
}

// NewLogger creates a JSON structured logger for a component.
// Output defaults to os.Stderr if w is nil. Unknown levels mean info.
func NewLogger(component string, w io.Writer, level string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return &Logger{
		inner:     slog.New(handler),
		component: component,
	}
}

// NewLoggerWithHandler creates a logger with a custom slog handler.
func NewLoggerWithHandler(component string, h slog.Handler) *Logger {
	return &Logger{
		inner:     slog.New(h),
		component: component,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewLogger("discard", io.Discard, "error")
}

// ParseLevel maps a textual level to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with an additional persistent field.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{
		inner:     l.inner.With(slog.Any(key, value)),
		component: l.component,
	}
}

// Named returns a logger for a sub-component sharing the same handler.
func (l *Logger) Named(component string) *Logger {
	return &Logger{inner: l.inner, component: component}
}

func (l *Logger) attrs(args []any) []any {
	return append([]any{slog.String("component", l.component)}, args...)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(msg string, args ...any) {
	l.inner.Debug(msg, l.attrs(args)...)
}

// Info logs at INFO level.
func (l *Logger) Info(msg string, args ...any) {
	l.inner.Info(msg, l.attrs(args)...)
}

// Warn logs at WARN level.
func (l *Logger) Warn(msg string, args ...any) {
	l.inner.Warn(msg, l.attrs(args)...)
}

// Error logs at ERROR level.
func (l *Logger) Error(msg string, args ...any) {
	l.inner.Error(msg, l.attrs(args)...)
}

// Component returns the component name associated with this logger.
func (l *Logger) Component() string {
	return l.component
}
