package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ascentlog/syncclient/internal/config"
	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/observability"
	"github.com/ascentlog/syncclient/internal/repository"
	"github.com/ascentlog/syncclient/internal/services"
)

// Version is stamped at build time
var Version = "dev"

// errRemoteNotConfigured is returned by every round-trip when remote.base_url is empty
var errRemoteNotConfigured = errors.New("remote.base_url is not configured")

// offlineTransport stands in for the HTTP transport until a remote is configured
type offlineTransport struct{}

func (offlineTransport) Push(ctx context.Context, req *models.PushRequest) (*models.PushResponse, error) {
	return nil, errRemoteNotConfigured
}

func (offlineTransport) Pull(ctx context.Context, cursor *string, limit int) (*models.PullResponse, error) {
	return nil, errRemoteNotConfigured
}

// App holds the wired sync engine shared by every command
type App struct {
	Config *config.Config
	Logger *observability.Logger

	DB      *repository.DB
	AuditDB *repository.DB
	Store   *repository.Store
	Hub     *services.EventHub

	Outbox      *services.OutboxService
	Push        *services.PushService
	Pull        *services.PullService
	Conflicts   *services.ConflictService
	Bootstrap   *services.BootstrapService
	Edits       *services.LocalEditService
	Coordinator *services.SyncCoordinator

	telemetry *observability.Telemetry
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.telemetry != nil {
		a.telemetry.Shutdown(context.Background())
		a.telemetry = nil
	}
	if a.AuditDB != nil {
		a.AuditDB.Close()
		a.AuditDB = nil
	}
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}
	if a.Logger != nil {
		a.Logger.Sync()
	}
}

// RunFunc is the signature for command run functions
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// withApp wraps a command's run function with config loading and wiring.
// Everything is closed when the wrapped function returns.
func withApp(fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := Bootstrap(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(app, cmd, args)
	}
}

// Bootstrap loads configuration, honoring the --config and --db flags, and
// wires the engine
func Bootstrap(cmd *cobra.Command) (*App, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	logger := observability.NewLoggerWithOptions(observability.LogOptions{
		ServiceName: cfg.Telemetry.ServiceName,
		Level:       observability.ParseLevel(cfg.Logging.Level),
		Format:      cfg.Logging.Format,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Writer:      cmd.ErrOrStderr(),
	})
	observability.SetDefault(logger)

	return NewApp(cmd.Context(), cfg, logger)
}

// NewApp opens the stores and wires every service from cfg
func NewApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	app := &App{Config: cfg, Logger: logger}

	telemetry, err := observability.Initialize(ctx, observability.NewConfig(
		cfg.Telemetry.ServiceName,
		Version,
		cfg.Telemetry.Environment,
		cfg.Telemetry.Endpoint,
		cfg.Telemetry.Enabled,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	app.telemetry = telemetry

	if cfg.Database.UsePostgres() {
		logger.Debug("Using PostgreSQL database")
		app.DB, err = repository.NewPostgresDB(cfg.Database.URL)
	} else {
		logger.Debugf("Using SQLite database %s", cfg.Database.Path)
		app.DB, err = repository.NewSQLiteDB(cfg.Database.Path)
	}
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	app.AuditDB, err = repository.NewKeyValueDB(cfg.Database.AuditPath)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	metrics, err := observability.NewSyncMetrics()
	if err != nil {
		logger.Warnf("Sync metrics unavailable: %v", err)
		metrics = nil
	}

	var transport services.SyncTransport = offlineTransport{}
	if cfg.Remote.BaseURL != "" {
		transport, err = services.NewHTTPTransport(services.TransportConfig{
			BaseURL:      cfg.Remote.BaseURL,
			AccessToken:  cfg.Remote.AccessToken,
			TokenURL:     cfg.Remote.TokenURL,
			ClientID:     cfg.Remote.ClientID,
			ClientSecret: cfg.Remote.ClientSecret,
			Scopes:       cfg.Remote.Scopes,
			Timeout:      cfg.Remote.Timeout,
		}, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
	}

	app.Store = repository.NewStore(app.DB)
	app.Hub = services.NewEventHub(logger)
	audit := repository.NewConflictAuditRepository(repository.NewKeyValueRepository(app.AuditDB))
	actor := services.NewStoreActor()

	app.Outbox = services.NewOutboxService(app.Store, actor, logger, metrics)
	app.Push = services.NewPushService(app.Store, actor, transport, app.Hub, logger, metrics, cfg.Sync.AttemptWarningCeiling)
	app.Pull = services.NewPullService(app.Store, actor, transport, logger, metrics, cfg.Sync.PullPageSize)
	app.Conflicts = services.NewConflictService(app.Store, actor, audit, app.Hub, logger, metrics, cfg.Sync.DeviceID, cfg.Sync.ClearlyNewerThreshold())
	app.Bootstrap = services.NewBootstrapService(app.Store, actor, app.Outbox, app.Hub, logger)
	app.Edits = services.NewLocalEditService(app.Store, actor, app.Outbox, logger)
	app.Coordinator = services.NewSyncCoordinator(app.Store, actor, app.Push, app.Pull, app.Bootstrap, app.Conflicts, app.Hub, logger, services.SyncOptions{
		DeviceID:             cfg.Sync.DeviceID,
		BatchSize:            cfg.Sync.BatchSize,
		MaxPushBatches:       cfg.Sync.MaxPushBatches,
		JitterSeconds:        cfg.Sync.JitterSeconds,
		MaxRetryDelaySeconds: cfg.Sync.MaxRetryDelaySeconds,
		AutoResolveLowRisk:   cfg.Sync.AutoResolveLowRisk,
	})
	return app, nil
}
