package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates the configuration.
//
// Steps performed:
//  1. Read the YAML file (a missing file means "defaults only")
//  2. Expand {{.ENV_VAR}} references
//  3. Parse YAML into the Config struct
//  4. Fill unset fields from built-in defaults
//  5. Validate
func Initialize(path string) (*Config, error) {
	log := slog.With("config_file", path)

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(ExpandEnv(data), cfg); err != nil {
			return nil, &LoadError{File: path, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
		}
	case os.IsNotExist(err):
		log.Info("Configuration file not found, using built-in defaults")
	default:
		return nil, &LoadError{File: path, Err: err}
	}

	if err := mergo.Merge(cfg, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"provider", cfg.Provider.Name,
		"model", cfg.Provider.Model,
		"workers", cfg.Queue.WorkerCount,
		"max_iters", cfg.Engine.MaxIters)

	return cfg, nil
}
