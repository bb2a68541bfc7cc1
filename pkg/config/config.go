// Package config resolves termc's tunables: struct-tag defaults,
// overridden by an optional YAML file, overridden by environment
// variables. The CLI itself takes no arguments — invocation stays
// `termc` with no flags — so this is the only configuration surface.
package config

import (
	"fmt"
	"os"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the multiplexed I/O engine.
type Config struct {
	// RingCapacity is the byte capacity of the shared ring broadcaster.
	RingCapacity int `yaml:"ring_capacity" default:"65536"`
	// Port is the TCP port viewers connect to.
	Port int `yaml:"port" default:"8080"`
	// ScratchBufferSize bounds a single stdin/PTY read.
	ScratchBufferSize int `yaml:"scratch_buffer_size" default:"4096"`
	// MaxFDs bounds the FD registry's indexed table.
	MaxFDs int `yaml:"max_fds" default:"1024"`
	// ListenBacklog is the backlog passed to listen(2).
	ListenBacklog int `yaml:"listen_backlog" default:"16"`
	// Shell is the program exec'd under the PTY slave.
	Shell string `yaml:"shell" default:"bash"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" default:"warn"`
}

// Environment variables: EnvConfigPath selects the YAML file; EnvShell
// and EnvLogLevel are consulted after the YAML file is applied.
const (
	EnvConfigPath = "TERMC_CONFIG"
	EnvShell      = "SHELL"
	EnvLogLevel   = "TERMC_LOG_LEVEL"
)

// defaultConfigPath is used when EnvConfigPath is unset and the file
// exists relative to the working directory.
const defaultConfigPath = "termc.yaml"

// Load resolves a Config from defaults, an optional YAML file, and
// environment variables, in that precedence order (later wins).
func Load() (*Config, error) {
	cfg := &Config{}
	defaults.SetDefaults(cfg)

	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = defaultConfigPath
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if shell := os.Getenv(EnvShell); shell != "" {
		cfg.Shell = shell
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.LogLevel = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.RingCapacity < 2 {
		return fmt.Errorf("ring_capacity must be at least 2, got %d", c.RingCapacity)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Port)
	}
	if c.ScratchBufferSize <= 0 {
		return fmt.Errorf("scratch_buffer_size must be positive, got %d", c.ScratchBufferSize)
	}
	if c.MaxFDs <= 0 {
		return fmt.Errorf("max_fds must be positive, got %d", c.MaxFDs)
	}
	if c.Shell == "" {
		return fmt.Errorf("shell must not be empty")
	}
	return nil
}
