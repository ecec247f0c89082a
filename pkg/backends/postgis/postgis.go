// Package postgis provides the PostgreSQL index backend that also keeps a
// spatially indexed footprint for every dataset with an extent.
package postgis

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/provcat/internal/state"
	"github.com/leapstack-labs/provcat/pkg/backends/postgres"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/index"
)

// Open connects to a PostGIS-enabled PostgreSQL database. Connection
// settings and options are the postgres backend's. Init creates the
// postgis extension if it is missing, which needs sufficient privileges.
func Open(ctx context.Context, cfg core.IndexConfig, logger *slog.Logger) (core.Index, error) {
	db, err := postgres.OpenDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return index.New(cfg.Name, state.New(db, state.PostGIS, logger),
		index.WithLogger(logger), index.WithBatchSize(cfg.BatchSize)), nil
}

func init() {
	index.Register("postgis", Open)
}
