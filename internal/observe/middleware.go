package observe

import (
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen caps client-supplied request IDs.
const maxRequestIDLen = 64

// responseRecorder captures the status code and body size written by the
// downstream handler.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
	wrote  bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status, r.wrote = code, true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if !r.wrote {
		r.status, r.wrote = http.StatusOK, true
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

// Unwrap lets [http.ResponseController] reach the underlying writer.
func (r *responseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	quiet []string
}

// WithQuietPaths logs requests to the given paths at debug level instead of
// info. Health probes and metric scrapes are typical candidates.
func WithQuietPaths(paths ...string) MiddlewareOption {
	return func(c *middlewareConfig) { c.quiet = append(c.quiet, paths...) }
}

// Middleware wraps a handler with tracing, request IDs, metrics and access
// logging.
//
// The span is named after the matched mux pattern once routing has happened,
// so "POST /v1/recordings/{id}" rather than the concrete path. The request ID
// is taken from [RequestIDHeader] when the client sends a sane one and
// defaults to the trace ID. Server errors mark the span as failed; client
// errors are logged at warn level.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	var cfg middlewareConfig
	for _, o := range opts {
		o(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			prop := otel.GetTextMapPropagator()
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := StartSpan(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			reqID := r.Header.Get(RequestIDHeader)
			if !validRequestID(reqID) {
				reqID = CorrelationID(ctx)
			}
			ctx = WithRequestID(ctx, reqID)
			if reqID != "" {
				w.Header().Set(RequestIDHeader, reqID)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// The mux fills in Pattern while routing; unmatched requests keep
			// the bare method so span and metric cardinality stay bounded.
			route := r.Pattern
			if route != "" {
				span.SetName(route)
				span.SetAttributes(semconv.HTTPRoute(route))
			} else {
				route = "unmatched"
			}
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))
			if rec.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			}

			duration := time.Since(start)
			attrs := metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
				attribute.String("status_class", statusClass(rec.status)),
			)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(), attrs)
			if r.ContentLength > 0 {
				m.HTTPRequestBodySize.Record(ctx, r.ContentLength,
					metric.WithAttributes(attribute.String("route", route)))
			}

			Logger(ctx).LogAttrs(ctx, accessLevel(rec.status, r.URL.Path, cfg.quiet), "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int64("bytes_in", r.ContentLength),
				slog.Int64("bytes_out", rec.bytes),
				slog.Duration("duration", duration),
			)
		})
	}
}

func accessLevel(status int, path string, quiet []string) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case slices.Contains(quiet, path):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

// validRequestID accepts short IDs made of visible ASCII.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := range len(id) {
		if id[i] < '!' || id[i] > '~' {
			return false
		}
	}
	return true
}
