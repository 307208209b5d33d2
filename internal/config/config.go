// Package config loads host configuration from defaults, an optional
// config file and TABLET_ environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/tablet/internal/engine"
	"github.com/roach88/tablet/internal/logging"
)

// EnvPrefix prefixes every environment variable the host reads:
// TABLET_JOURNAL_PATH overrides journal.path.
const EnvPrefix = "TABLET"

// Config is the host configuration.
type Config struct {
	Journal   JournalConfig   `mapstructure:"journal"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
	Views     ViewsConfig     `mapstructure:"views"`
}

// JournalConfig locates the SQLite commit journal.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig tunes the scheduler loop and commit retries.
type SchedulerConfig struct {
	Tick        time.Duration `mapstructure:"tick"`
	Workers     int           `mapstructure:"workers"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ViewsConfig holds the private table policy for anonymous views.
type ViewsConfig struct {
	Redaction string `mapstructure:"redaction"`
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("scheduler.tick", d.Scheduler.Tick)
	v.SetDefault("scheduler.workers", d.Scheduler.Workers)
	v.SetDefault("scheduler.max_attempts", d.Scheduler.MaxAttempts)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("views.redaction", d.Views.Redaction)
}

// Default returns the built-in configuration, ignoring files and the
// environment.
func Default() *Config {
	return &Config{
		Journal: JournalConfig{Path: "tablet.db"},
		Scheduler: SchedulerConfig{
			Tick:        engine.DefaultTick,
			Workers:     engine.DefaultWorkers,
			MaxAttempts: engine.DefaultMaxAttempts,
		},
		Log:   LogConfig{Level: "info", Format: "text"},
		Views: ViewsConfig{Redaction: string(engine.RedactNone)},
	}
}

// Load reads configuration. path names an optional YAML, TOML or JSON file;
// an empty path skips the file. Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error
	if c.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path must not be empty"))
	}
	if c.Scheduler.Tick <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.tick must be positive, got %s", c.Scheduler.Tick))
	}
	if c.Scheduler.Workers < 1 {
		errs = append(errs, fmt.Errorf("scheduler.workers must be at least 1, got %d", c.Scheduler.Workers))
	}
	if c.Scheduler.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("scheduler.max_attempts must be at least 1, got %d", c.Scheduler.MaxAttempts))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, fmt.Errorf("log.format: %w", err))
	}
	if _, err := engine.ParseRedaction(c.Views.Redaction); err != nil {
		errs = append(errs, fmt.Errorf("views.redaction: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Redaction returns the parsed view redaction policy.
func (c *Config) Redaction() engine.Redaction {
	r, _ := engine.ParseRedaction(c.Views.Redaction)
	return r
}
