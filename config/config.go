// Package config loads the ambient run configuration for cmd/gcmrun: world
// size, the zone map, logging level, and the coupling schedule. Grounded on
// orbas1-Synnergy's pkg/config (YAML-backed, environment-overridable
// settings struct) adapted to gopkg.in/yaml.v3 directly rather than viper,
// since this module's own zone.LoadMap already establishes that convention
// for this module.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Run is the unified configuration for one cmd/gcmrun invocation.
type Run struct {
	WorldSize  int      `yaml:"world_size"`
	ZoneMap    string   `yaml:"zone_map"`
	Steps      int      `yaml:"steps"`
	Couple     bool     `yaml:"couple"`
	LogLevel   string   `yaml:"log_level"`
	RunLogPath string   `yaml:"run_log_path"`
	Peers      []string `yaml:"peers"`
}

// Default returns the baseline configuration Load starts from; fields a
// file leaves unset keep these values.
func Default() Run {
	return Run{
		WorldSize: 1,
		Steps:     10,
		Couple:    false,
		LogLevel:  "info",
	}
}

// Load reads a Run configuration from a YAML file at path, starting from
// Default() so a partial file only overrides what it sets.
func Load(path string) (Run, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Run{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Run{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects a configuration that cmd/gcmrun cannot run with.
func (r Run) Validate() error {
	if r.WorldSize <= 0 {
		return fmt.Errorf("config: world_size must be positive, got %d", r.WorldSize)
	}
	if r.ZoneMap == "" {
		return fmt.Errorf("config: zone_map path is required")
	}
	if r.Steps <= 0 {
		return fmt.Errorf("config: steps must be positive, got %d", r.Steps)
	}
	if len(r.Peers) != 0 && len(r.Peers) != r.WorldSize {
		return fmt.Errorf("config: peers has %d entries, want world_size %d", len(r.Peers), r.WorldSize)
	}
	return nil
}
