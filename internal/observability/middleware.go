package observability

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ascentlog/syncclient/observability"

const unmatchedRoute = "unmatched"

// HTTPMetrics holds the instruments of the local API
type HTTPMetrics struct {
	requests       metric.Int64Counter
	duration       metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the local API instruments on the global meter provider
func NewHTTPMetrics() (*HTTPMetrics, error) {
	return newHTTPMetrics(otel.Meter(instrumentationName))
}

func newHTTPMetrics(meter metric.Meter) (*HTTPMetrics, error) {
	requests, err := meter.Int64Counter(
		"climbsync.api.requests",
		metric.WithDescription("Local API requests by route pattern"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"climbsync.api.duration",
		metric.WithDescription("Local API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	responseSize, err := meter.Int64Histogram(
		"climbsync.api.response.size",
		metric.WithDescription("Local API response body size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"climbsync.api.active_requests",
		metric.WithDescription("Local API requests in flight"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		requests:       requests,
		duration:       duration,
		responseSize:   responseSize,
		activeRequests: activeRequests,
	}, nil
}

// responseWriter records the status code and body size of a response
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)
	return n, err
}

// Flush implements http.Flusher
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker so WebSocket upgrades pass through
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// routePattern returns the chi pattern that served r, e.g.
// /api/sync/conflicts/{opId}. Only valid once routing is done.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedRoute
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return unmatchedRoute
}

// apiSurface groups routes into health, sync, conflicts and ws
func apiSurface(pattern string) string {
	switch {
	case pattern == "/ws":
		return "ws"
	case strings.HasPrefix(pattern, "/api/sync/conflicts"):
		return "conflicts"
	case strings.HasPrefix(pattern, "/api/sync"):
		return "sync"
	case strings.HasSuffix(pattern, "/health"):
		return "health"
	}
	return "other"
}

// TracingMiddleware starts one server span per local API request
func TracingMiddleware(serviceName string) func(http.Handler) http.Handler {
	return tracingMiddleware(otel.Tracer(instrumentationName), otel.GetTextMapPropagator(), serviceName)
}

func tracingMiddleware(tracer trace.Tracer, propagator propagation.TextMapPropagator, serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("service.name", serviceName),
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
					attribute.String("net.peer.ip", r.RemoteAddr),
				),
			)
			defer span.End()

			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rw := newResponseWriter(w)
			r = r.WithContext(ctx)
			next.ServeHTTP(rw, r)

			pattern := routePattern(r)
			span.SetName(r.Method + " " + pattern)
			span.SetAttributes(
				attribute.String("http.route", pattern),
				attribute.String("climbsync.api", apiSurface(pattern)),
				attribute.Int("http.status_code", rw.statusCode),
				attribute.Int64("http.response_content_length", rw.size),
			)
			if opID := chi.URLParamFromCtx(ctx, "opId"); opID != "" {
				span.SetAttributes(OpID(opID))
			}

			if rw.statusCode >= 400 {
				span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}

// MetricsMiddleware records request metrics keyed by route pattern, never by raw path
func MetricsMiddleware(metrics *HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()

			inFlight := metric.WithAttributes(attribute.String("http.method", r.Method))
			metrics.activeRequests.Add(ctx, 1, inFlight)
			defer metrics.activeRequests.Add(ctx, -1, inFlight)

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			pattern := routePattern(r)
			attrs := metric.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", pattern),
				attribute.String("climbsync.api", apiSurface(pattern)),
				attribute.Int("http.status_code", rw.statusCode),
			)
			metrics.requests.Add(ctx, 1, attrs)
			metrics.duration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
			metrics.responseSize.Record(ctx, rw.size, attrs)
		})
	}
}
