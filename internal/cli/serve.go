package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ascentlog/syncclient/internal/handlers"
	"github.com/ascentlog/syncclient/internal/observability"
	"github.com/ascentlog/syncclient/internal/services"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon with the local API",
		Long: `Runs scheduled sync cycles and serves the local status and conflict review
API plus the /ws event stream until interrupted.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			if addr != "" {
				app.Config.Server.Address = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, app)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.address)")
	return cmd
}

// serve blocks until ctx is done, then shuts the API and scheduler down
func serve(ctx context.Context, app *App) error {
	cfg := app.Config
	logger := app.Logger

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go app.Hub.Run(hubCtx)

	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		logger.Warnf("HTTP metrics unavailable: %v", err)
		httpMetrics = nil
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Health:       handlers.NewHealthHandler(),
		Sync:         handlers.NewSyncHandler(app.Coordinator, app.Bootstrap, app.Outbox, app.Conflicts, logger),
		Conflicts:    handlers.NewConflictHandler(app.Conflicts, logger),
		WebSocket:    handlers.NewWebSocketHandler(app.Hub, logger),
		ServiceName:  cfg.Telemetry.ServiceName,
		HTTPMetrics:  httpMetrics,
		APIKey:       cfg.Security.APIKey,
		APIKeyHash:   cfg.Security.APIKeyHash,
		APIKeyHeader: cfg.Security.APIKeyHeader,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	scheduler := services.NewSyncScheduler(cfg.Sync.Schedule, app.Coordinator, logger)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]interface{}{
			"address":   cfg.Server.Address,
			"device_id": cfg.Sync.DeviceID,
			"remote":    cfg.Remote.BaseURL,
		}).Info("climbsync daemon starting")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down daemon...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Daemon stopped")
	return nil
}
