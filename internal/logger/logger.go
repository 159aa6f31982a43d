// Package logger configures the process-wide slog logger and carries
// order trace IDs through context so every broker call in a trade's
// lifecycle can be tied back to the signal that caused it.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

type traceKey struct{}

var traceSeq atomic.Uint64

// Init installs a JSON handler on stdout tagged with the service name
// and makes it the slog default.
func Init(service string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	l := slog.New(h).With(slog.String("service", service))
	slog.SetDefault(l)
	return l
}

// ParseLevel maps a config string to a slog level. Unknown strings
// mean info rather than an error; log level is not worth refusing to
// start over.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// WithTraceID attaches a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID returns the trace ID on the context, or "".
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// GenerateTraceID builds an order trace ID from the contract, the
// wall clock, and a process-wide sequence; two orders placed in the
// same nanosecond still get distinct IDs.
func GenerateTraceID(contract string, ts time.Time) string {
	return fmt.Sprintf("%s-%d-%03d", contract, ts.UnixNano(), traceSeq.Add(1)%1000)
}
