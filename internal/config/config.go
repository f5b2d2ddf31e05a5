// Package config handles reading and writing .construct/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level structure for .construct/config.yaml.
type Config struct {
	Version      int         `yaml:"version"`
	Project      string      `yaml:"project"`
	DatabasePath string      `yaml:"database_path"`
	TemplatesDir string      `yaml:"templates_dir"`
	Ports        PortsConfig `yaml:"ports"`
	Agent        AgentConfig `yaml:"agent"`
	Relay        RelayConfig `yaml:"relay"`
}

// PortsConfig controls port allocation behaviour.
type PortsConfig struct {
	Base int `yaml:"base"` // scan start for unpreferred requests
}

// AgentConfig identifies the remote coding-agent endpoint.
type AgentConfig struct {
	Provider string `yaml:"provider"`
	Endpoint string `yaml:"endpoint"` // base URL of the agent API
}

// RelayConfig controls the event relay's reconnect backoff.
type RelayConfig struct {
	BackoffBaseMs int     `yaml:"backoff_base_ms"`
	BackoffMaxMs  int     `yaml:"backoff_max_ms"`
	BackoffFactor float64 `yaml:"backoff_factor"`
}

// configFileName is the path relative to the project root.
const configDir = ".construct"
const configFile = "config.yaml"

// ReadConfig reads .construct/config.yaml from the given project directory.
// dir is the project root (not .construct/ itself).
// Returns an error if the file is not found or YAML is malformed.
func ReadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, configDir, configFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// WriteConfig writes cfg to .construct/config.yaml in the given project directory.
// Creates the .construct/ directory if it does not exist.
func WriteConfig(dir string, cfg *Config) error {
	dirPath := filepath.Join(dir, configDir)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	path := filepath.Join(dirPath, configFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() *Config {
	cfg := &Config{Version: 1}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero-valued fields with working defaults.
func applyDefaults(cfg *Config) {
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(configDir, "construct.db")
	}
	if cfg.TemplatesDir == "" {
		cfg.TemplatesDir = filepath.Join(configDir, "templates")
	}
	if cfg.Ports.Base == 0 {
		cfg.Ports.Base = 50000
	}
	if cfg.Agent.Provider == "" {
		cfg.Agent.Provider = "agentd"
	}
	if cfg.Agent.Endpoint == "" {
		cfg.Agent.Endpoint = "http://127.0.0.1:4096"
	}
	if cfg.Relay.BackoffBaseMs == 0 {
		cfg.Relay.BackoffBaseMs = 500
	}
	if cfg.Relay.BackoffMaxMs == 0 {
		cfg.Relay.BackoffMaxMs = 30000
	}
	if cfg.Relay.BackoffFactor == 0 {
		cfg.Relay.BackoffFactor = 2
	}
}

// CellsDir returns the directory holding per-construct state under the
// project root.
func CellsDir(projectRoot string) string {
	return filepath.Join(projectRoot, configDir, "cells")
}

// CellDir returns the state directory for one construct.
func CellDir(projectRoot, constructID string) string {
	return filepath.Join(CellsDir(projectRoot), constructID)
}
