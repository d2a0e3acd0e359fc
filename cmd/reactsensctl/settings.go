package main

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"reactsens/internal/config"
	"reactsens/internal/logging"
	"reactsens/pkg/reactsens"
)

// loadSettings resolves defaults, the --config file, REACTSENS_* variables and
// finally the global flags that were set explicitly.
func loadSettings(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		flag   string
		target *string
	}{
		{"root", &cfg.Root},
		{"store", &cfg.Store.Kind},
		{"db-path", &cfg.Store.DBPath},
		{"cache-backend", &cfg.Cache.Backend},
		{"log-level", &cfg.Logging.Level},
		{"log-format", &cfg.Logging.Format},
	}
	for _, o := range overrides {
		if cmd.Flags().Changed(o.flag) {
			*o.target, _ = cmd.Flags().GetString(o.flag)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
}

func newClient(cfg *config.Config, logger *slog.Logger) (*reactsens.Client, error) {
	return reactsens.New(reactsens.Options{
		Root:             cfg.Root,
		StoreKind:        cfg.Store.Kind,
		DBPath:           cfg.Store.DBPath,
		CacheBackend:     cfg.Cache.Backend,
		Workers:          cfg.Analysis.Workers,
		Step:             cfg.Simulation.Step,
		Visualization:    cfg.Visualization.Options,
		HeatmapNormalize: cfg.Visualization.HeatmapNormalize,
		Logger:           logger,
	})
}

// withClient loads settings, opens a client for the duration of fn and closes it.
func withClient(cmd *cobra.Command, fn func(*reactsens.Client, *config.Config, *slog.Logger) error) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	return fn(client, cfg, logger)
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
