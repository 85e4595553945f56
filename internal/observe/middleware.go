package observe

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// statusTap captures the status code written downstream. It deliberately
// exposes only the ResponseWriter surface: handlers that need http.Hijacker
// (the media-stream WebSocket upgrade) are served with the original writer
// instead, see [Middleware].
type statusTap struct {
	http.ResponseWriter
	code int
}

func (t *statusTap) WriteHeader(code int) {
	t.code = code
	t.ResponseWriter.WriteHeader(code)
}

// isUpgrade reports whether r asks to switch protocols to WebSocket.
func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// Middleware wraps a handler with the observability envelope for every
// request: it joins or starts a W3C trace, echoes the trace ID as
// X-Correlation-ID, records the request duration histogram, and logs
// completion with status and trace attributes.
//
// WebSocket upgrades get the trace and correlation ID but skip the status
// tap and the duration histogram. The upgrade needs the original writer's
// http.Hijacker, and a "request duration" spanning an entire phone call
// would only distort the histogram.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))
			r = r.WithContext(ctx)

			if isUpgrade(r) {
				next.ServeHTTP(w, r)
				slog.LogAttrs(ctx, slog.LevelInfo, "websocket session ended",
					slog.String("trace_id", cid),
					slog.String("path", r.URL.Path),
				)
				return
			}

			start := time.Now()
			tap := &statusTap{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(tap, r)
			elapsed := time.Since(start)

			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", r.URL.Path),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(tap.code))

			slog.LogAttrs(ctx, slog.LevelInfo, "request completed",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", tap.code),
				slog.Duration("duration", elapsed),
			)
		})
	}
}
