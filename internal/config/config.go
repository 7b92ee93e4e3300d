// Package config loads runtime configuration for assasdb.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. ASSAS_WORKERS.
const EnvPrefix = "ASSAS"

// ErrNoArchiveRoot is returned by RequireArchiveRoot when no root is set.
var ErrNoArchiveRoot = errors.New("config: archive_root is not set (use --archive-root, ASSAS_ARCHIVE_ROOT or LSDF_ARCHIVE)")

// Config holds all runtime configuration for an assasdb session.
// Values are populated from .assasdb.yaml, ASSAS_* env vars, and CLI flags.
type Config struct {
	ArchiveRoot   string        `mapstructure:"archive_root"`
	CatalogPath   string        `mapstructure:"catalog_path"`
	Workers       int           `mapstructure:"workers"`
	SignatureMode string        `mapstructure:"signature_mode"`
	RetryFailed   bool          `mapstructure:"retry_failed"`
	TelemetryPath string        `mapstructure:"telemetry_path"`
	MetricsFile   string        `mapstructure:"metrics_file"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFormat     string        `mapstructure:"log_format"`
	Verbose       bool          `mapstructure:"verbose"`
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load() (Config, error) {
	viper.SetDefault("archive_root", "")
	viper.SetDefault("catalog_path", ".assas/catalog.db")
	viper.SetDefault("workers", 4)
	viper.SetDefault("signature_mode", "stat")
	viper.SetDefault("retry_failed", false)
	viper.SetDefault("telemetry_path", "")
	viper.SetDefault("metrics_file", "")
	viper.SetDefault("watch_debounce", 2*time.Second)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "console")
	viper.SetDefault("verbose", false)

	// The archive root keeps the name the upload service has always used.
	if err := viper.BindEnv("archive_root", EnvPrefix+"_ARCHIVE_ROOT", "LSDF_ARCHIVE"); err != nil {
		return Config{}, fmt.Errorf("config: bind archive_root: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that have no usable interpretation.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Workers)
	}
	if c.WatchDebounce < 0 {
		return fmt.Errorf("config: watch_debounce must not be negative, got %s", c.WatchDebounce)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("config: log_format must be console or json, got %q", c.LogFormat)
	}
	return nil
}

// RequireArchiveRoot returns the archive root or ErrNoArchiveRoot.
func (c Config) RequireArchiveRoot() (string, error) {
	if c.ArchiveRoot == "" {
		return "", ErrNoArchiveRoot
	}
	return c.ArchiveRoot, nil
}
