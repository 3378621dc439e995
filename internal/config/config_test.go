package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Engine.WindowSeconds, cfg.Engine.WindowSeconds)
	assert.Equal(t, def.Writer.BatchSize, cfg.Writer.BatchSize)
	assert.Equal(t, def.Storage.Path, cfg.Storage.Path)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
capture:
  interface: eth0
  bpf: "tcp port 443"
  poll_interval: 250ms
engine:
  window_seconds: 120
  queue_size: 5000
  anomaly_rules:
    - 'length > 1500'
writer:
  batch_size: 200
  flush_interval: 2s
storage:
  path: /var/lib/netlens/netlens.db
  retention_days: 7
  auto_cleanup: true
api:
  listen_addr: 0.0.0.0:9000
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "eth0", cfg.Capture.Interface)
	assert.Equal(t, "tcp port 443", cfg.Capture.BPF)
	assert.Equal(t, 250*time.Millisecond, cfg.Capture.PollInterval.Std())
	assert.Equal(t, 120, cfg.Engine.WindowSeconds)
	assert.Equal(t, 5000, cfg.Engine.QueueSize)
	assert.Equal(t, []string{`length > 1500`}, cfg.Engine.AnomalyRules)
	assert.Equal(t, 200, cfg.Writer.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Writer.FlushInterval.Std())
	assert.Equal(t, "/var/lib/netlens/netlens.db", cfg.Storage.Path)
	assert.Equal(t, 7, cfg.Storage.RetentionDays)
	assert.True(t, cfg.Storage.AutoCleanup)
	assert.Equal(t, "0.0.0.0:9000", cfg.API.ListenAddr)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched values keep their defaults.
	assert.Equal(t, Default().Engine.ConnectionTimeout, cfg.Engine.ConnectionTimeout)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("writer:\n  flush_interval: soon\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid duration")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero window", func(c *Config) { c.Engine.WindowSeconds = 0 }},
		{"zero queue", func(c *Config) { c.Engine.QueueSize = 0 }},
		{"zero batch", func(c *Config) { c.Writer.BatchSize = 0 }},
		{"zero flush interval", func(c *Config) { c.Writer.FlushInterval = 0 }},
		{"negative retention", func(c *Config) { c.Storage.RetentionDays = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}
