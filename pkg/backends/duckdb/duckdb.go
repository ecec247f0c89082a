// Package duckdb provides the embedded DuckDB index backend.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver

	"github.com/leapstack-labs/provcat/internal/state"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/index"
)

// Params holds DuckDB-specific options, decoded from IndexConfig.Options.
type Params struct {
	// Threads limits DuckDB's worker threads; 0 keeps the default.
	Threads int `mapstructure:"threads"`
	// MemoryLimit is a DuckDB size such as "2GB"; empty keeps the default.
	MemoryLimit string `mapstructure:"memory_limit"`
	// AccessMode is "automatic", "read_only" or "read_write".
	AccessMode string `mapstructure:"access_mode"`
}

// buildDSN appends the params to path as DuckDB config query parameters.
func buildDSN(path string, p Params) string {
	settings := map[string]string{}
	if p.Threads > 0 {
		settings["threads"] = fmt.Sprint(p.Threads)
	}
	if p.MemoryLimit != "" {
		settings["memory_limit"] = p.MemoryLimit
	}
	if p.AccessMode != "" {
		settings["access_mode"] = p.AccessMode
	}
	if len(settings) == 0 {
		return path
	}
	parts := make([]string, 0, len(settings))
	for _, k := range slices.Sorted(maps.Keys(settings)) {
		parts = append(parts, k+"="+settings[k])
	}
	return path + "?" + strings.Join(parts, "&")
}

// Open opens the DuckDB file named by cfg.Database, or an in-memory
// database when it is empty or ":memory:". The schema is not created; call
// Init.
func Open(ctx context.Context, cfg core.IndexConfig, logger *slog.Logger) (core.Index, error) {
	var p Params
	if err := index.DecodeOptions(cfg.Options, &p); err != nil {
		return nil, err
	}

	path := cfg.Database
	if path == ":memory:" {
		path = ""
	}

	logger.Debug("opening duckdb index", slog.String("path", path))
	db, err := sql.Open("duckdb", buildDSN(path, p))
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	// An in-memory database lives only as long as its connection.
	if path == "" {
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetMaxIdleConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}
	return index.New(cfg.Name, state.New(db, state.DuckDB, logger),
		index.WithLogger(logger), index.WithBatchSize(cfg.BatchSize)), nil
}

func init() {
	index.Register("duckdb", Open)
}
