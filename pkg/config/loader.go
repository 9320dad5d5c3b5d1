package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the configuration file expected in the runtime directory.
const ConfigFileName = "config.yaml"

// Load reads config.yaml from runtimeDir, expands environment variables,
// unmarshals over the built-in defaults, and validates the result. A missing
// file is not an error: the defaults are returned so a fresh install works
// without any configuration.
func Load(runtimeDir string) (*Config, error) {
	path := filepath.Join(runtimeDir, ConfigFileName)

	cfg, err := loadFile(path)
	if err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	slog.Debug("Configuration loaded",
		"path", path,
		"provider", cfg.Provider.Default,
		"connectors", len(cfg.Enabled.Connectors))

	return cfg, nil
}

// Parse unmarshals raw YAML over the built-in defaults without touching the
// filesystem. Used by Load and by tests.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes through original data on parse/execution errors,
	// letting the YAML parser produce the clearer error message.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return Parse(data)
}
