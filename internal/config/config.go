package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CLIMBSYNC_SYNC_BATCH_SIZE
const EnvPrefix = "CLIMBSYNC"

// Config holds all application configuration
type Config struct {
	Database  Database  `mapstructure:"database"`
	Server    Server    `mapstructure:"server"`
	Remote    Remote    `mapstructure:"remote"`
	Sync      Sync      `mapstructure:"sync"`
	Security  Security  `mapstructure:"security"`
	Logging   Logging   `mapstructure:"logging"`
	Telemetry Telemetry `mapstructure:"telemetry"`
}

// Database configuration
type Database struct {
	Path string `mapstructure:"path"`
	// URL selects PostgreSQL instead of the SQLite file at Path
	URL string `mapstructure:"url"`
	// AuditPath is the separate SQLite file holding the conflict audit log
	AuditPath string `mapstructure:"audit_path"`
}

// UsePostgres returns true if PostgreSQL should be used
func (d Database) UsePostgres() bool {
	return d.URL != ""
}

// Server configuration for the local API
type Server struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Remote sync server configuration
type Remote struct {
	BaseURL      string        `mapstructure:"base_url"`
	AccessToken  string        `mapstructure:"access_token"`
	TokenURL     string        `mapstructure:"token_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Scopes       []string      `mapstructure:"scopes"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Sync engine configuration
type Sync struct {
	DeviceID                     string  `mapstructure:"device_id"`
	BatchSize                    int     `mapstructure:"batch_size"`
	PullPageSize                 int     `mapstructure:"pull_page_size"`
	MaxPushBatches               int     `mapstructure:"max_push_batches"`
	Schedule                     string  `mapstructure:"schedule"`
	MaxRetryDelaySeconds         float64 `mapstructure:"max_retry_delay_seconds"`
	JitterSeconds                float64 `mapstructure:"jitter_seconds"`
	AttemptWarningCeiling        int     `mapstructure:"attempt_warning_ceiling"`
	ClearlyNewerThresholdSeconds float64 `mapstructure:"clearly_newer_threshold_seconds"`
	AutoResolveLowRisk           bool    `mapstructure:"auto_resolve_low_risk"`
}

// ClearlyNewerThreshold returns the keep-mine suggestion margin
func (s Sync) ClearlyNewerThreshold() time.Duration {
	return time.Duration(s.ClearlyNewerThresholdSeconds * float64(time.Second))
}

// Security configuration
type Security struct {
	APIKey string `mapstructure:"api_key"`
	// APIKeyHash is a bcrypt hash; it takes precedence over APIKey
	APIKeyHash   string `mapstructure:"api_key_hash"`
	APIKeyHeader string `mapstructure:"api_key_header"`
}

// Logging configuration
type Logging struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Telemetry configuration
type Telemetry struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Environment string `mapstructure:"environment"`
	ServiceName string `mapstructure:"service_name"`
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		Database: Database{
			Path:      "climbsync.db",
			AuditPath: "climbsync-audit.db",
		},
		Server: Server{
			Address:      "127.0.0.1:5080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Remote: Remote{
			Timeout: 30 * time.Second,
		},
		Sync: Sync{
			BatchSize:                    50,
			PullPageSize:                 200,
			MaxPushBatches:               10,
			Schedule:                     "@every 1m",
			MaxRetryDelaySeconds:         300,
			JitterSeconds:                1,
			AttemptWarningCeiling:        5,
			ClearlyNewerThresholdSeconds: 60,
		},
		Security: Security{
			APIKeyHeader: "X-API-Key",
		},
		Logging: Logging{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: Telemetry{
			Endpoint:    "localhost:4317",
			Environment: "development",
			ServiceName: "climbsync",
		},
	}
}

// setDefaults registers every key so environment overrides are picked up
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("database.audit_path", cfg.Database.AuditPath)

	v.SetDefault("server.address", cfg.Server.Address)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)

	v.SetDefault("remote.base_url", cfg.Remote.BaseURL)
	v.SetDefault("remote.access_token", cfg.Remote.AccessToken)
	v.SetDefault("remote.token_url", cfg.Remote.TokenURL)
	v.SetDefault("remote.client_id", cfg.Remote.ClientID)
	v.SetDefault("remote.client_secret", cfg.Remote.ClientSecret)
	v.SetDefault("remote.scopes", cfg.Remote.Scopes)
	v.SetDefault("remote.timeout", cfg.Remote.Timeout)

	v.SetDefault("sync.device_id", cfg.Sync.DeviceID)
	v.SetDefault("sync.batch_size", cfg.Sync.BatchSize)
	v.SetDefault("sync.pull_page_size", cfg.Sync.PullPageSize)
	v.SetDefault("sync.max_push_batches", cfg.Sync.MaxPushBatches)
	v.SetDefault("sync.schedule", cfg.Sync.Schedule)
	v.SetDefault("sync.max_retry_delay_seconds", cfg.Sync.MaxRetryDelaySeconds)
	v.SetDefault("sync.jitter_seconds", cfg.Sync.JitterSeconds)
	v.SetDefault("sync.attempt_warning_ceiling", cfg.Sync.AttemptWarningCeiling)
	v.SetDefault("sync.clearly_newer_threshold_seconds", cfg.Sync.ClearlyNewerThresholdSeconds)
	v.SetDefault("sync.auto_resolve_low_risk", cfg.Sync.AutoResolveLowRisk)

	v.SetDefault("security.api_key", cfg.Security.APIKey)
	v.SetDefault("security.api_key_hash", cfg.Security.APIKeyHash)
	v.SetDefault("security.api_key_header", cfg.Security.APIKeyHeader)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.max_size_mb", cfg.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", cfg.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", cfg.Logging.MaxAgeDays)

	v.SetDefault("telemetry.enabled", cfg.Telemetry.Enabled)
	v.SetDefault("telemetry.endpoint", cfg.Telemetry.Endpoint)
	v.SetDefault("telemetry.environment", cfg.Telemetry.Environment)
	v.SetDefault("telemetry.service_name", cfg.Telemetry.ServiceName)
}

// Load loads configuration with precedence: environment, .env.local/.env,
// the YAML file at configPath (or $CLIMBSYNC_CONFIG), defaults
func Load(configPath string) (*Config, error) {
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", f, err)
			}
		}
	}

	cfg := defaultConfig()
	v := viper.New()
	setDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		configPath = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Sync.DeviceID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Sync.DeviceID = strings.ToLower(host)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the sync engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Sync.DeviceID == "" {
		errs = append(errs, errors.New("sync.device_id is required"))
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, errors.New("sync.batch_size must be positive"))
	}
	if c.Sync.PullPageSize <= 0 {
		errs = append(errs, errors.New("sync.pull_page_size must be positive"))
	}
	if c.Sync.MaxPushBatches <= 0 {
		errs = append(errs, errors.New("sync.max_push_batches must be positive"))
	}
	if c.Database.Path == "" && !c.Database.UsePostgres() {
		errs = append(errs, errors.New("database.path or database.url is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
