// Package config loads flagfile process configuration from environment
// variables, optionally seeded from a .env file.
//
// Optional variables:
//   - FLAGFILE_CONFIG: path to the flag file (default: search the standard
//     locations).
//   - LOG_LEVEL: debug, info, warn or error (default "info").
//   - LOG_FORMAT: json or text (default "json").
//   - FLAGFILE_STRICT: fail evaluations of unknown flags (default false).
//   - FLAGFILE_AUTO_RELOAD: watch the flag file for changes (default true).
//   - FLAGFILE_RELOAD_DEBOUNCE: quiet period before a reload (default
//     "100ms", must be > 0 if set).
//   - FLAGFILE_TRACE_SAMPLE_RATIO: fraction of root spans sampled when
//     tracing is enabled (default 1, between 0 and 1).
//   - METRICS_ADDR: listen address for /metrics and /healthz (default
//     ":9464"; set to an empty string to disable).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultMetricsAddr    = ":9464"
	defaultReloadDebounce = 100 * time.Millisecond
)

// Config holds the runtime configuration for the flagfile CLI.
type Config struct {
	ConfigPath     string        `env:"FLAGFILE_CONFIG"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"LOG_FORMAT" envDefault:"json"`
	Strict         bool          `env:"FLAGFILE_STRICT" envDefault:"false"`
	AutoReload     bool          `env:"FLAGFILE_AUTO_RELOAD" envDefault:"true"`
	ReloadDebounce time.Duration `env:"FLAGFILE_RELOAD_DEBOUNCE" envDefault:"100ms"`
	MetricsAddr    string        `env:"METRICS_ADDR"`

	TraceSampleRatio float64 `env:"FLAGFILE_TRACE_SAMPLE_RATIO" envDefault:"1"`
}

// Load reads configuration from environment variables, applying defaults where
// appropriate. Variables from dotenvFiles (or ./.env when none are given and
// it exists) fill in anything the environment does not already set. It
// returns an error if values fail validation.
func Load(dotenvFiles ...string) (Config, error) {
	if err := loadDotenv(dotenvFiles); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.ConfigPath = strings.TrimSpace(cfg.ConfigPath)
	cfg.LogLevel = strings.TrimSpace(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}
	if cfg.ReloadDebounce <= 0 {
		return Config{}, errors.New("FLAGFILE_RELOAD_DEBOUNCE must be > 0")
	}
	if cfg.TraceSampleRatio < 0 || cfg.TraceSampleRatio > 1 {
		return Config{}, fmt.Errorf("FLAGFILE_TRACE_SAMPLE_RATIO must be between 0 and 1, got %v", cfg.TraceSampleRatio)
	}

	if value, set := os.LookupEnv("METRICS_ADDR"); set {
		cfg.MetricsAddr = strings.TrimSpace(value)
	} else {
		cfg.MetricsAddr = defaultMetricsAddr
	}

	return cfg, nil
}

func loadDotenv(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load %s: %w", strings.Join(files, ", "), err)
	}
	return nil
}
