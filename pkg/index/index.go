// Package index implements the catalog façade over any store.Backend: the
// generic metadata type, product, dataset and lineage resources, the backend
// registry, and whole-index cloning.
package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/provcat/pkg/batch"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/store"
	"github.com/leapstack-labs/provcat/pkg/txn"
)

// Index implements core.Index over a store.Backend.
type Index struct {
	name      string
	backend   store.Backend
	logger    *slog.Logger
	batchSize int

	metadataTypes *metadataTypeResource
	products      *productResource
	datasets      *datasetResource
	lineage       *lineageResource
}

var _ core.Index = (*Index)(nil)

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// WithBatchSize sets the default bulk-add batch size.
func WithBatchSize(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// New creates an index named name over backend.
func New(name string, backend store.Backend, opts ...Option) *Index {
	ix := &Index{
		name:      name,
		backend:   backend,
		logger:    slog.New(slog.DiscardHandler),
		batchSize: batch.DefaultSize,
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.metadataTypes = &metadataTypeResource{ix: ix}
	ix.products = &productResource{ix: ix}
	ix.datasets = &datasetResource{ix: ix}
	ix.lineage = &lineageResource{ix: ix}
	return ix
}

// Name returns the index name.
func (ix *Index) Name() string { return ix.name }

// MetadataTypes returns the metadata type resource.
func (ix *Index) MetadataTypes() core.MetadataTypeResource { return ix.metadataTypes }

// Products returns the product resource.
func (ix *Index) Products() core.ProductResource { return ix.products }

// Datasets returns the dataset resource.
func (ix *Index) Datasets() core.DatasetResource { return ix.datasets }

// Lineage returns the lineage resource.
func (ix *Index) Lineage() core.LineageResource { return ix.lineage }

// Transaction runs fn in a transaction scope.
func (ix *Index) Transaction(ctx context.Context, fn func(ctx context.Context) (txn.Outcome, error)) (txn.Outcome, error) {
	return txn.Run(ctx, ix.backend, ix.logger, fn)
}

// Begin starts an explicit transaction.
func (ix *Index) Begin(ctx context.Context) (context.Context, *txn.Transaction, error) {
	t := txn.New(ix.backend, ix.logger)
	ctx, err := t.Begin(ctx)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, t, nil
}

// Init creates or migrates the backend schema.
func (ix *Index) Init(ctx context.Context) error {
	ix.logger.Info("initialising index", slog.String("index", ix.name))
	return ix.backend.Init(ctx)
}

// Close releases the backend.
func (ix *Index) Close() error {
	return ix.backend.Close()
}

func (ix *Index) size(n int) int {
	if n > 0 {
		return n
	}
	return ix.batchSize
}

// withConn runs fn with the store connection of a transaction scope,
// joining the transaction already active in ctx if there is one.
func (ix *Index) withConn(ctx context.Context, fn func(ctx context.Context, conn store.Conn) error) error {
	_, err := txn.Run(ctx, ix.backend, ix.logger, func(ctx context.Context) (txn.Outcome, error) {
		c, ok := txn.FromContext(ctx, ix.backend)
		if !ok {
			return txn.Complete, fmt.Errorf("no active transaction for index %s", ix.name)
		}
		conn, ok := c.(store.Conn)
		if !ok {
			return txn.Complete, fmt.Errorf("backend connection %T does not implement store.Conn", c)
		}
		return txn.Complete, fn(ctx, conn)
	})
	return err
}
