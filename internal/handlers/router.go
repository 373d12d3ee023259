package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	custommw "github.com/ascentlog/syncclient/internal/middleware"
	"github.com/ascentlog/syncclient/internal/observability"
)

// RouterConfig collects the handlers and middleware settings of the local API
type RouterConfig struct {
	Health    *HealthHandler
	Sync      *SyncHandler
	Conflicts *ConflictHandler
	WebSocket *WebSocketHandler

	ServiceName  string
	HTTPMetrics  *observability.HTTPMetrics
	APIKey       string
	APIKeyHash   string
	APIKeyHeader string
}

// NewRouter builds the chi router for the local API
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if cfg.ServiceName != "" {
		r.Use(observability.TracingMiddleware(cfg.ServiceName))
	}
	if cfg.HTTPMetrics != nil {
		r.Use(observability.MetricsMiddleware(cfg.HTTPMetrics))
	}
	r.Use(custommw.APIKeyAuth(cfg.APIKey, cfg.APIKeyHash, cfg.APIKeyHeader))

	// Routes
	r.Get("/health", cfg.Health.HealthCheck)
	r.Get("/api/health", cfg.Health.HealthCheck)

	r.Route("/api/sync", func(r chi.Router) {
		r.Get("/status", cfg.Sync.Status)
		r.Post("/run", cfg.Sync.Run)
		r.Post("/enable", cfg.Sync.Enable)
		r.Post("/disable", cfg.Sync.Disable)
		r.Get("/outbox", cfg.Sync.Outbox)
		r.Get("/audit", cfg.Sync.Audit)

		r.Route("/conflicts", func(r chi.Router) {
			r.Get("/", cfg.Conflicts.List)
			r.Post("/resolve-all", cfg.Conflicts.ResolveAll)
			r.Post("/auto-resolve", cfg.Conflicts.AutoResolve)
			r.Get("/{opId}", cfg.Conflicts.Get)
			r.Post("/{opId}/keep-mine", cfg.Conflicts.KeepMine)
			r.Post("/{opId}/keep-server", cfg.Conflicts.KeepServer)
		})
	})

	if cfg.WebSocket != nil {
		r.Get("/ws", cfg.WebSocket.HandleConnection)
	}
	return r
}
