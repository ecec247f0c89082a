// Package null provides an index that stores nothing. Reads find nothing,
// writes fail with core.ErrReadOnly and bulk adds skip every item.
package null

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/index"
	"github.com/leapstack-labs/provcat/pkg/lineage"
	"github.com/leapstack-labs/provcat/pkg/txn"
)

// Index is the null core.Index.
type Index struct {
	name   string
	logger *slog.Logger
}

var _ core.Index = (*Index)(nil)

// New creates a null index.
func New(name string, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Index{name: name, logger: logger}
}

// Open is the registry factory.
func Open(_ context.Context, cfg core.IndexConfig, logger *slog.Logger) (core.Index, error) {
	return New(cfg.Name, logger), nil
}

func init() {
	index.Register("null", Open)
}

func (ix *Index) Name() string                             { return ix.name }
func (ix *Index) MetadataTypes() core.MetadataTypeResource { return metadataTypes{} }
func (ix *Index) Products() core.ProductResource           { return products{} }
func (ix *Index) Datasets() core.DatasetResource           { return datasets{} }
func (ix *Index) Lineage() core.LineageResource            { return lineageResource{} }
func (ix *Index) Init(context.Context) error               { return nil }
func (ix *Index) Close() error                             { return nil }

// Transaction runs fn against a connection whose commit and rollback do nothing.
func (ix *Index) Transaction(ctx context.Context, fn func(ctx context.Context) (txn.Outcome, error)) (txn.Outcome, error) {
	return txn.Run(ctx, connector{}, ix.logger, fn)
}

// Begin starts a transaction that has nothing to commit.
func (ix *Index) Begin(ctx context.Context) (context.Context, *txn.Transaction, error) {
	t := txn.New(connector{}, ix.logger)
	ctx, err := t.Begin(ctx)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, t, nil
}

type connector struct{}

func (connector) Begin(context.Context) (txn.Conn, error) { return conn{}, nil }

type conn struct{}

func (conn) Commit(context.Context) error   { return nil }
func (conn) Rollback(context.Context) error { return nil }

func empty[T any]() iter.Seq2[T, error] {
	return func(func(T, error) bool) {}
}

// skipAll drains items, reporting each as skipped.
func skipAll[T any](items iter.Seq[T]) core.BatchStatus {
	start := time.Now()
	n := 0
	for range items {
		n++
	}
	return core.BatchStatus{Skipped: n, Elapsed: time.Since(start), Safe: []string{}}
}

type metadataTypes struct{}

func (metadataTypes) Add(context.Context, *core.MetadataType) (*core.MetadataType, error) {
	return nil, core.ErrReadOnly
}

func (metadataTypes) Get(_ context.Context, name string) (*core.MetadataType, error) {
	return nil, core.ErrNotFound("metadata type", name)
}

func (metadataTypes) GetAll(context.Context) iter.Seq2[*core.MetadataType, error] {
	return empty[*core.MetadataType]()
}

func (metadataTypes) BulkAdd(_ context.Context, items iter.Seq[*core.MetadataType], _ int) (core.BatchStatus, error) {
	return skipAll(items), nil
}

type products struct{}

func (products) Add(context.Context, *core.Product) (*core.Product, error) {
	return nil, core.ErrReadOnly
}

func (products) Get(_ context.Context, name string) (*core.Product, error) {
	return nil, core.ErrNotFound("product", name)
}

func (products) GetAll(context.Context) iter.Seq2[*core.Product, error] {
	return empty[*core.Product]()
}

func (products) BulkAdd(_ context.Context, items iter.Seq[*core.Product], _ int) (core.BatchStatus, error) {
	return skipAll(items), nil
}

type datasets struct{}

func (datasets) Add(context.Context, *core.Dataset, bool) (*core.Dataset, error) {
	return nil, core.ErrReadOnly
}

func (datasets) Ingest(context.Context, *core.Dataset, bool) (bool, error) {
	return false, core.ErrReadOnly
}

func (datasets) Get(_ context.Context, id uuid.UUID) (*core.Dataset, error) {
	return nil, core.ErrNotFound("dataset", id.String())
}

func (datasets) Has(context.Context, uuid.UUID) (bool, error) { return false, nil }

func (datasets) Archive(context.Context, ...uuid.UUID) (int, error) { return 0, core.ErrReadOnly }
func (datasets) Restore(context.Context, ...uuid.UUID) (int, error) { return 0, core.ErrReadOnly }
func (datasets) Purge(context.Context, ...uuid.UUID) (int, error)   { return 0, core.ErrReadOnly }

func (datasets) GetAll(context.Context) iter.Seq2[*core.Dataset, error] {
	return empty[*core.Dataset]()
}

func (datasets) BulkAdd(_ context.Context, items iter.Seq[*core.Dataset], _ int) (core.BatchStatus, error) {
	return skipAll(items), nil
}

type lineageResource struct{}

func (lineageResource) GetDerivedTree(_ context.Context, id uuid.UUID, _ int) (*lineage.Tree, error) {
	return lineage.FromData(id, map[string][]uuid.UUID{}, lineage.Derived, "", ""), nil
}

func (lineageResource) GetSourceTree(_ context.Context, id uuid.UUID, _ int) (*lineage.Tree, error) {
	return lineage.FromData(id, map[string][]uuid.UUID{}, lineage.Sources, "", ""), nil
}

func (lineageResource) Add(context.Context, *lineage.Tree, int, bool) error { return core.ErrReadOnly }

func (lineageResource) Merge(context.Context, *lineage.Relations, bool, bool) error {
	return core.ErrReadOnly
}

func (lineageResource) Remove(context.Context, uuid.UUID, lineage.Direction, int) error {
	return core.ErrReadOnly
}

func (lineageResource) SetHome(context.Context, string, []uuid.UUID, bool) (int, error) {
	return 0, core.ErrReadOnly
}

func (lineageResource) ClearHome(context.Context, []uuid.UUID, string) (int, error) {
	return 0, core.ErrReadOnly
}

func (lineageResource) GetHomes(context.Context, ...uuid.UUID) (map[uuid.UUID]string, error) {
	return map[uuid.UUID]string{}, nil
}

func (lineageResource) GetAllLineage(context.Context, int) iter.Seq2[lineage.Relation, error] {
	return empty[lineage.Relation]()
}

func (lineageResource) BulkAdd(_ context.Context, rels iter.Seq[lineage.Relation], _ int) (core.BatchStatus, error) {
	return skipAll(rels), nil
}
