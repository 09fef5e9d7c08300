// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/rcliao/symbol-predict/internal/predict"
)

// Config holds every tunable of the CLI and server.
type Config struct {
	DBPath  string `env:"SYMBOL_PREDICT_DB"`
	Backend string `env:"SYMBOL_PREDICT_BACKEND" envDefault:"sqlite" validate:"oneof=sqlite badger"`

	MaxOrder     int           `env:"SYMBOL_PREDICT_MAX_ORDER"     envDefault:"2"  validate:"min=2,max=8"`
	QueryTimeout time.Duration `env:"SYMBOL_PREDICT_QUERY_TIMEOUT" envDefault:"2s" validate:"gt=0"`
	TopN         int           `env:"SYMBOL_PREDICT_TOP_N"         envDefault:"0"  validate:"gte=0"`

	RetryMaxTries uint          `env:"SYMBOL_PREDICT_RETRY_MAX_TRIES" envDefault:"4"    validate:"min=1"`
	RetryInitial  time.Duration `env:"SYMBOL_PREDICT_RETRY_INITIAL"   envDefault:"50ms" validate:"gt=0"`
	RetryMax      time.Duration `env:"SYMBOL_PREDICT_RETRY_MAX"       envDefault:"1s"   validate:"gtefield=RetryInitial"`

	ListenAddr string `env:"SYMBOL_PREDICT_LISTEN"    envDefault:":8089" validate:"required"`
	LogLevel   string `env:"SYMBOL_PREDICT_LOG_LEVEL" envDefault:"info"  validate:"oneof=debug info warn error"`
}

var validate = validator.New()

// Load parses the environment and validates the result. An unset DBPath
// becomes ~/.symbol-predict/predict.db.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DefaultDBPath returns the database location used when none is configured.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".symbol-predict", "predict.db")
}

// Service returns the prediction service settings.
func (c Config) Service() predict.Config {
	return predict.Config{
		MaxOrder:     c.MaxOrder,
		QueryTimeout: c.QueryTimeout,
		TopN:         c.TopN,
		Retry: predict.RetryConfig{
			MaxTries:        c.RetryMaxTries,
			InitialInterval: c.RetryInitial,
			MaxInterval:     c.RetryMax,
		},
	}
}

// Level maps LogLevel to a slog level.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
