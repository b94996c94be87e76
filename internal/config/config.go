// Package config holds the application settings, the flat correlation
// parameter surface, and the per-point run definition.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/dicengine/config.json"
	defaultWorkers    = 1
)

// Config holds user-editable application settings.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Monitor    Monitor    `json:"monitor"`
}

// Processing captures execution preferences.
type Processing struct {
	// Workers is the number of worker processes the point set is
	// partitioned across. 1 runs the serial (all-owned) case.
	Workers int `json:"workers"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default output locations.
type Paths struct {
	DefaultOutput string `json:"default_output"`
	DatabasePath  string `json:"database_path"`
}

// Monitor configures the progress monitoring server.
type Monitor struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("DICENGINE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			Workers: defaultWorkers,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "dicengine.db"),
		},
		Monitor: Monitor{
			Enabled: false,
			Port:    8750,
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
