package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// ContextHandler decorates every log record with the trace and span ids
// of the active span, so request logs correlate with traces.
type ContextHandler struct {
	slog.Handler
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	spanContext := trace.SpanContextFromContext(ctx)
	if spanContext.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanContext.TraceID().String()))
	}
	if spanContext.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanContext.SpanID().String()))
	}
	return h.Handler.Handle(ctx, r)
}

// NewLogger builds the service-wide JSON logger with trace correlation.
func NewLogger() *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, nil)
	return slog.New(&ContextHandler{Handler: handler})
}

// RedactSecret masks a signature or secret to a short prefix suitable for
// logging. Never log the raw value.
func RedactSecret(s string) string {
	if len(s) <= 8 {
		return "[redacted]"
	}
	return s[:8] + "…[redacted]"
}
