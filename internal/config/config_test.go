package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("CLIMBSYNC_SYNC_DEVICE_ID", "device-1")
		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, "climbsync.db", cfg.Database.Path)
		assert.False(t, cfg.Database.UsePostgres())
		assert.Equal(t, 50, cfg.Sync.BatchSize)
		assert.Equal(t, "device-1", cfg.Sync.DeviceID)
		assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, time.Minute, cfg.Sync.ClearlyNewerThreshold())
	})

	t.Run("yaml file and env overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "climbsync.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
database:
  url: postgres://localhost/climb
remote:
  base_url: https://sync.example.com
  timeout: 5s
sync:
  device_id: tablet
  batch_size: 20
  auto_resolve_low_risk: true
`), 0o600))
		t.Setenv("CLIMBSYNC_SYNC_BATCH_SIZE", "25")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.True(t, cfg.Database.UsePostgres())
		assert.Equal(t, "https://sync.example.com", cfg.Remote.BaseURL)
		assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
		assert.Equal(t, "tablet", cfg.Sync.DeviceID)
		assert.Equal(t, 25, cfg.Sync.BatchSize)
		assert.True(t, cfg.Sync.AutoResolveLowRisk)
	})

	t.Run("missing file fails", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"valid", func(c *Config) { c.Sync.DeviceID = "d" }, true},
		{"empty device id", func(c *Config) {}, false},
		{"zero batch size", func(c *Config) { c.Sync.DeviceID = "d"; c.Sync.BatchSize = 0 }, false},
		{"negative page size", func(c *Config) { c.Sync.DeviceID = "d"; c.Sync.PullPageSize = -1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
