// Package config provides configuration loading and defaults for the
// fitscube tools. It handles loading configuration from YAML files and
// provides default values for anything the file leaves unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the tool configuration loaded from YAML.
type Config struct {
	// Processing parameters
	Processing struct {
		// MaxWorkers bounds how many plane writes run concurrently.
		MaxWorkers int `yaml:"maxWorkers"`

		// DefaultStep is the stacking-axis step used when a cube has a
		// single channel and no step can be derived from the data.
		DefaultStep float64 `yaml:"defaultStep"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Verbosity is the default -v count: 0 warnings, 1 info, 2 debug.
		Verbosity int `yaml:"verbosity"`

		// WriteAxisFile controls whether assembly writes the resolved axis
		// values to a sidecar text file next to the cube.
		WriteAxisFile bool `yaml:"writeAxisFile"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Processing.MaxWorkers = runtime.NumCPU()
	cfg.Processing.DefaultStep = 1.0
	cfg.Output.Verbosity = 0
	cfg.Output.WriteAxisFile = true
	return cfg
}

// LoadConfig loads configuration from a YAML file. If the file doesn't
// exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if cfg.Processing.MaxWorkers < 1 {
		cfg.Processing.MaxWorkers = runtime.NumCPU()
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
