package config

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// resetViper clears all viper state between tests to avoid cross-contamination.
func resetViper() {
	viper.Reset()
}

func TestLoad_Defaults(t *testing.T) {
	resetViper()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"CatalogPath", cfg.CatalogPath, ".assas/catalog.db"},
		{"Workers", cfg.Workers, 4},
		{"SignatureMode", cfg.SignatureMode, "stat"},
		{"RetryFailed", cfg.RetryFailed, false},
		{"TelemetryPath", cfg.TelemetryPath, ""},
		{"MetricsFile", cfg.MetricsFile, ""},
		{"WatchDebounce", cfg.WatchDebounce, 2 * time.Second},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "console"},
		{"Verbose", cfg.Verbose, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
		field  func(Config) any
		want   any
	}{
		{
			name:   "archive_root",
			envKey: "ASSAS_ARCHIVE_ROOT",
			envVal: "/lsdf/assas",
			field:  func(c Config) any { return c.ArchiveRoot },
			want:   "/lsdf/assas",
		},
		{
			name:   "archive_root legacy name",
			envKey: "LSDF_ARCHIVE",
			envVal: "/mnt/lsdf/ASSAS",
			field:  func(c Config) any { return c.ArchiveRoot },
			want:   "/mnt/lsdf/ASSAS",
		},
		{
			name:   "catalog_path",
			envKey: "ASSAS_CATALOG_PATH",
			envVal: "/var/lib/assas/catalog.db",
			field:  func(c Config) any { return c.CatalogPath },
			want:   "/var/lib/assas/catalog.db",
		},
		{
			name:   "workers",
			envKey: "ASSAS_WORKERS",
			envVal: "9",
			field:  func(c Config) any { return c.Workers },
			want:   9,
		},
		{
			name:   "signature_mode",
			envKey: "ASSAS_SIGNATURE_MODE",
			envVal: "content",
			field:  func(c Config) any { return c.SignatureMode },
			want:   "content",
		},
		{
			name:   "watch_debounce",
			envKey: "ASSAS_WATCH_DEBOUNCE",
			envVal: "750ms",
			field:  func(c Config) any { return c.WatchDebounce },
			want:   750 * time.Millisecond,
		},
		{
			name:   "retry_failed",
			envKey: "ASSAS_RETRY_FAILED",
			envVal: "true",
			field:  func(c Config) any { return c.RetryFailed },
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper()
			// Set env prefix so ASSAS_* env vars map to config keys.
			viper.SetEnvPrefix(EnvPrefix)
			viper.AutomaticEnv()

			os.Setenv(tt.envKey, tt.envVal)
			defer os.Unsetenv(tt.envKey)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() returned unexpected error: %v", err)
			}
			got := tt.field(cfg)
			if got != tt.want {
				t.Errorf("%s: got %v (%T), want %v (%T)", tt.name, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		key string
		val any
	}{
		{"workers", 0},
		{"watch_debounce", -time.Second},
		{"log_format", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			resetViper()
			viper.Set(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%v: expected error", tt.key, tt.val)
			}
		})
	}
}

func TestRequireArchiveRoot(t *testing.T) {
	if _, err := (Config{}).RequireArchiveRoot(); !errors.Is(err, ErrNoArchiveRoot) {
		t.Errorf("err = %v, want ErrNoArchiveRoot", err)
	}
	root, err := Config{ArchiveRoot: "/data"}.RequireArchiveRoot()
	if err != nil || root != "/data" {
		t.Errorf("RequireArchiveRoot = (%q, %v)", root, err)
	}
}
