// Package config provides the shared configuration types for provcat.
// It is decoupled from CLI concerns so the HTTP server and tests can load
// index settings without cobra.
package config

import (
	"fmt"
	"maps"
	"strings"

	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/index"
)

// IndexConfig holds the settings of one index.
type IndexConfig struct {
	Backend string `koanf:"backend"` // postgres, postgis, sqlite, duckdb, memory, null

	// File-based databases (SQLite, DuckDB) use Database as the path.
	Database string `koanf:"database"`

	// Network databases
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`

	// Backend-specific options, e.g. sslmode or busy_timeout.
	Options map[string]string `koanf:"options"`

	BatchSize int `koanf:"batch_size"`
}

// ToCore converts the settings to the form backends are opened with.
func (c *IndexConfig) ToCore(name string) core.IndexConfig {
	return core.IndexConfig{
		Backend:   strings.ToLower(c.Backend),
		Name:      name,
		Database:  c.Database,
		Host:      c.Host,
		Port:      c.Port,
		Username:  c.User,
		Password:  c.Password,
		Options:   maps.Clone(c.Options),
		BatchSize: c.BatchSize,
	}
}

// Validate checks the backend is registered and the settings it needs are present.
func (c *IndexConfig) Validate() error {
	if c.Backend == "" {
		return fmt.Errorf("index backend is required")
	}
	backend := strings.ToLower(c.Backend)
	if !index.IsRegistered(backend) {
		return &index.UnknownBackendError{
			Backend:   c.Backend,
			Available: index.ListBackends(),
		}
	}
	switch backend {
	case "sqlite", "postgres", "postgis":
		if c.Database == "" {
			return fmt.Errorf("index backend %s requires database", backend)
		}
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("index batch_size must not be negative, got %d", c.BatchSize)
	}
	return nil
}

// Merge returns base with the non-zero fields of override applied.
// Options are merged key by key.
func Merge(base, override *IndexConfig) *IndexConfig {
	if base == nil {
		return override
	}
	if override == nil {
		return base
	}

	merged := *base
	merged.Options = make(map[string]string, len(base.Options)+len(override.Options))
	maps.Copy(merged.Options, base.Options)

	if override.Backend != "" {
		merged.Backend = override.Backend
	}
	if override.Database != "" {
		merged.Database = override.Database
	}
	if override.Host != "" {
		merged.Host = override.Host
	}
	if override.Port != 0 {
		merged.Port = override.Port
	}
	if override.User != "" {
		merged.User = override.User
	}
	if override.Password != "" {
		merged.Password = override.Password
	}
	if override.BatchSize != 0 {
		merged.BatchSize = override.BatchSize
	}
	maps.Copy(merged.Options, override.Options)

	return &merged
}
