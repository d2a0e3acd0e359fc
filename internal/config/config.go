// Package config loads reactsens configuration.
// Order: defaults -> YAML file -> REACTSENS_* environment variables -> CLI flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"reactsens/internal/report"
)

// Config is the top-level reactsens configuration.
type Config struct {
	// Root holds one directory per model: <root>/<model>/out, figure/ and the file cache.
	Root          string              `json:"root" yaml:"root"`
	Store         StoreConfig         `json:"store" yaml:"store"`
	Cache         CacheConfig         `json:"cache" yaml:"cache"`
	Analysis      AnalysisConfig      `json:"analysis" yaml:"analysis"`
	Simulation    SimulationConfig    `json:"simulation" yaml:"simulation"`
	Visualization VisualizationConfig `json:"visualization" yaml:"visualization"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
}

type StoreConfig struct {
	// Kind is "memory" or "sqlite". Empty selects the build default.
	Kind   string `json:"kind" yaml:"kind"`
	DBPath string `json:"db_path" yaml:"db_path"`
}

type CacheConfig struct {
	// Backend is "file" (coefficient files under Root) or "store".
	Backend string `json:"backend" yaml:"backend"`
}

type AnalysisConfig struct {
	Workers int `json:"workers" yaml:"workers"`
	// Progress is "bar", "log" or "none".
	Progress string `json:"progress" yaml:"progress"`
}

type SimulationConfig struct {
	// Step overrides the integrator step of built-in models when positive.
	Step float64 `json:"step" yaml:"step"`
}

// VisualizationConfig overrides the per-model chart options. Zero fields keep the
// model's value.
type VisualizationConfig struct {
	report.Options   `json:",inline" yaml:",inline"`
	HeatmapNormalize bool `json:"heatmap_normalize" yaml:"heatmap_normalize"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

func Default() *Config {
	return &Config{
		Root:     ".",
		Store:    StoreConfig{DBPath: "reactsens.db"},
		Cache:    CacheConfig{Backend: "file"},
		Analysis: AnalysisConfig{Workers: 1, Progress: "bar"},
		Logging:  LoggingConfig{Level: "info", Format: "tint"},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Root = expandEnvVars(cfg.Root)
	cfg.Store.DBPath = expandEnvVars(cfg.Store.DBPath)
	return cfg, nil
}

// Load returns the defaults, or path when set, with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv applies REACTSENS_* environment overrides. Malformed numbers are ignored.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("REACTSENS_ROOT"); v != "" {
		c.Root = v
	}
	if v := os.Getenv("REACTSENS_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Analysis.Workers = n
		}
	}
	if v := os.Getenv("REACTSENS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("REACTSENS_STORE"); v != "" {
		c.Store.Kind = v
	}
	if v := os.Getenv("REACTSENS_DB_PATH"); v != "" {
		c.Store.DBPath = v
	}
	if v := os.Getenv("REACTSENS_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("root directory is required")
	}
	if c.Analysis.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Analysis.Workers)
	}
	validProgress := map[string]bool{"": true, "bar": true, "log": true, "none": true}
	if !validProgress[c.Analysis.Progress] {
		return fmt.Errorf("invalid progress mode: %s (valid: bar, log, none)", c.Analysis.Progress)
	}
	validStores := map[string]bool{"": true, "memory": true, "sqlite": true}
	if !validStores[c.Store.Kind] {
		return fmt.Errorf("invalid store kind: %s (valid: memory, sqlite, or empty for default)", c.Store.Kind)
	}
	validBackends := map[string]bool{"file": true, "store": true}
	if !validBackends[c.Cache.Backend] {
		return fmt.Errorf("invalid cache backend: %s (valid: file, store)", c.Cache.Backend)
	}
	if c.Simulation.Step < 0 {
		return fmt.Errorf("simulation step must be non-negative, got %g", c.Simulation.Step)
	}
	if c.Visualization.Width < 0 || c.Visualization.FigureWidth < 0 || c.Visualization.FigureHeight < 0 || c.Visualization.BarWidth < 0 {
		return fmt.Errorf("visualization sizes must be non-negative")
	}
	validLevels := map[string]bool{"": true, "trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: trace, debug, info, warn, error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"": true, "tint": true, "text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: tint, text, json)", c.Logging.Format)
	}
	return nil
}

func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
