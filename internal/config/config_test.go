package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablet/internal/engine"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "tablet.db", cfg.Journal.Path)
	assert.Equal(t, 100*time.Millisecond, cfg.Scheduler.Tick)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 3, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, engine.RedactNone, cfg.Redaction())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tablet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
journal:
  path: /var/lib/tablet/journal.db
scheduler:
  tick: 250ms
  workers: 2
log:
  level: debug
  format: json
views:
  redaction: private
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/tablet/journal.db", cfg.Journal.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.Tick)
	assert.Equal(t, 2, cfg.Scheduler.Workers)
	assert.Equal(t, 3, cfg.Scheduler.MaxAttempts, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, engine.RedactPrivate, cfg.Redaction())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tablet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  workers: 2\n"), 0o644))

	t.Setenv("TABLET_SCHEDULER_WORKERS", "8")
	t.Setenv("TABLET_SCHEDULER_TICK", "1s")
	t.Setenv("TABLET_JOURNAL_PATH", "env.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, time.Second, cfg.Scheduler.Tick)
	assert.Equal(t, "env.db", cfg.Journal.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("TABLET_SCHEDULER_WORKERS", "0")
	t.Setenv("TABLET_LOG_FORMAT", "xml")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.workers must be at least 1")
	assert.Contains(t, err.Error(), "log.format")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty journal", func(c *Config) { c.Journal.Path = "" }, "journal.path"},
		{"zero tick", func(c *Config) { c.Scheduler.Tick = 0 }, "scheduler.tick must be positive"},
		{"zero attempts", func(c *Config) { c.Scheduler.MaxAttempts = 0 }, "scheduler.max_attempts"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad redaction", func(c *Config) { c.Views.Redaction = "all" }, "views.redaction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.NoError(t, Default().Validate())
}
