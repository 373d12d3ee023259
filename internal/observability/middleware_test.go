package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func conflictRouter(mw func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(mw)
	r.Route("/api/sync/conflicts", func(r chi.Router) {
		r.Get("/{opId}", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{}"))
		})
	})
	return r
}

func TestMetricsMiddleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := newHTTPMetrics(provider.Meter("test"))
	require.NoError(t, err)

	router := conflictRouter(MetricsMiddleware(metrics))
	for _, opID := range []string{"op-1", "op-2", "op-3"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync/conflicts/"+opID, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var requests *metricdata.Sum[int64]
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "climbsync.api.requests" {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				requests = &sum
			}
		}
	}
	require.NotNil(t, requests)

	// One series for every opId
	require.Len(t, requests.DataPoints, 1)
	point := requests.DataPoints[0]
	assert.Equal(t, int64(3), point.Value)
	route, ok := point.Attributes.Value(attribute.Key("http.route"))
	require.True(t, ok)
	assert.Equal(t, "/api/sync/conflicts/{opId}", route.AsString())
	api, ok := point.Attributes.Value(attribute.Key("climbsync.api"))
	require.True(t, ok)
	assert.Equal(t, "conflicts", api.AsString())
}

func TestTracingMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	router := conflictRouter(tracingMiddleware(provider.Tracer("test"), propagation.TraceContext{}, "climbsync"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync/conflicts/op-42", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/sync/conflicts/{opId}", spans[0].Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "/api/sync/conflicts/{opId}", attrs["http.route"].AsString())
	assert.Equal(t, "op-42", attrs["op_id"].AsString())
	assert.Equal(t, int64(http.StatusOK), attrs["http.status_code"].AsInt64())
}

func TestAPISurface(t *testing.T) {
	tests := map[string]string{
		"/ws":                        "ws",
		"/health":                    "health",
		"/api/health":                "health",
		"/api/sync/status":           "sync",
		"/api/sync/conflicts/{opId}": "conflicts",
		"/api/sync/conflicts/":       "conflicts",
		unmatchedRoute:               "other",
	}
	for pattern, want := range tests {
		assert.Equal(t, want, apiSurface(pattern), pattern)
	}
}
