// Package config provides configuration management for the provcat CLI.
//
// It layers defaults, provcat.yaml, PROVCAT_ environment variables and
// explicitly set flags, then resolves the selected environment's index
// settings on top of the base ones.
package config

import (
	sharedcfg "github.com/leapstack-labs/provcat/internal/config"
)

// IndexConfig is an alias for the shared index configuration.
type IndexConfig = sharedcfg.IndexConfig

// LogConfig controls the CLI's slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text, json
}

// ServerConfig holds settings for provcat serve.
type ServerConfig struct {
	Addr  string `koanf:"addr"`
	Watch string `koanf:"watch"`
}

// Config holds all CLI configuration options.
type Config struct {
	Environment  string               `koanf:"environment"`
	Verbose      bool                 `koanf:"verbose"`
	OutputFormat string               `koanf:"output"`
	Index        *IndexConfig         `koanf:"index"`
	Log          LogConfig            `koanf:"log"`
	Server       ServerConfig         `koanf:"server"`
	Environments map[string]EnvConfig `koanf:"environments"`

	// ConfigFile is the file the config was read from, empty when none.
	ConfigFile string `koanf:"-"`

	// base is the index section before environment overrides.
	base *IndexConfig
}

// EnvConfig holds environment-specific overrides.
type EnvConfig struct {
	Index *IndexConfig `koanf:"index"`
}

// Default configuration values - uses shared defaults from internal/config
const (
	DefaultEnv       = sharedcfg.DefaultEnv
	DefaultOutput    = sharedcfg.DefaultOutput
	DefaultLogLevel  = sharedcfg.DefaultLogLevel
	DefaultLogFormat = sharedcfg.DefaultLogFormat
	DefaultAddr      = sharedcfg.DefaultAddr
)
