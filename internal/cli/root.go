// Package cli implements the symbol-predict CLI commands.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rcliao/symbol-predict/internal/config"
	"github.com/rcliao/symbol-predict/internal/metrics"
	"github.com/rcliao/symbol-predict/internal/predict"
	"github.com/rcliao/symbol-predict/internal/store"
	"github.com/spf13/cobra"
)

var (
	dbPath      string
	backendFlag string
	scopeFlag   string
	formatFlag  string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "symbol-predict",
	Short: "Next-symbol prediction for symbol-based communication",
	Long:  "Records symbol selections and predicts the next symbol from how often sequences were seen before. SQLite- or Badger-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $SYMBOL_PREDICT_DB or ~/.symbol-predict/predict.db)")
	RootCmd.PersistentFlags().StringVarP(&backendFlag, "backend", "b", "", "Storage backend: sqlite or badger (default: $SYMBOL_PREDICT_BACKEND or sqlite)")
	RootCmd.PersistentFlags().StringVarP(&scopeFlag, "scope", "s", "default", "Scope (user or session) the command acts on")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig() config.Config {
	cfg, err := config.Load()
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	if err := cfg.Validate(); err != nil {
		exitErr("load config", err)
	}
	return cfg
}

func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
}

func openStore(cfg config.Config, logger *slog.Logger) (store.Backend, error) {
	return store.Open(cfg.Backend, cfg.DBPath, logger)
}

// newService opens the configured backend and wires a service on top of it.
// The caller closes the returned backend.
func newService(cfg config.Config, m *metrics.Metrics) (*predict.Service, store.Backend) {
	logger := newLogger(cfg)
	s, err := openStore(cfg, logger)
	if err != nil {
		exitErr("open store", err)
	}
	return predict.NewService(s, s, cfg.Service(), m, logger), s
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
