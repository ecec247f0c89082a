// Package memory provides the in-process index backend. Its contents live
// as long as the index and are lost on Close.
package memory

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/provcat/internal/memstore"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/index"
)

// Open creates an empty in-memory index. Connection settings are ignored.
func Open(_ context.Context, cfg core.IndexConfig, logger *slog.Logger) (core.Index, error) {
	return index.New(cfg.Name, memstore.New(logger),
		index.WithLogger(logger), index.WithBatchSize(cfg.BatchSize)), nil
}

func init() {
	index.Register("memory", Open)
}
