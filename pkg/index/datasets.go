package index

import (
	"context"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/provcat/pkg/batch"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/lineage"
	"github.com/leapstack-labs/provcat/pkg/store"
)

type datasetResource struct {
	ix *Index
}

func datasetKey(ds *core.Dataset) string { return ds.Key() }

// addDataset stores ds after its inline sources, depth first. path holds
// the datasets currently being added further up the recursion.
func (r *datasetResource) addDataset(ctx context.Context, conn store.Conn, ds *core.Dataset, withLineage bool, path map[uuid.UUID]struct{}) (*core.Dataset, batch.ItemOutcome, error) {
	if ds.ID == uuid.Nil {
		return nil, batch.Added, core.ErrValidation("dataset has no id")
	}
	if _, ok := path[ds.ID]; ok {
		return nil, batch.Added, &lineage.InconsistentLineageError{ID: ds.ID, Reason: "dataset is listed among its own sources"}
	}
	path[ds.ID] = struct{}{}
	defer delete(path, ds.ID)

	for _, classifier := range slices.Sorted(maps.Keys(ds.Sources)) {
		for _, src := range ds.Sources[classifier] {
			if _, _, err := r.addDataset(ctx, conn, src, withLineage, path); err != nil {
				return nil, batch.Added, err
			}
		}
	}

	existing, err := conn.GetDataset(ctx, ds.ID)
	switch {
	case err == nil:
		if diff := ds.Diff(existing); len(diff) > 0 {
			return nil, batch.Existing, &core.DocumentMismatchError{Kind: "dataset", Key: ds.Key(), Fields: diff}
		}
		return existing, batch.Existing, nil
	case !core.IsNotFound(err):
		return nil, batch.Added, err
	}

	if _, err := conn.GetProduct(ctx, ds.Product); err != nil {
		return nil, batch.Added, err
	}
	if ds.Extent != nil {
		if err := ds.Extent.Validate(); err != nil {
			return nil, batch.Added, err
		}
	}
	var tree *lineage.Tree
	if withLineage {
		if tree, err = ds.LineageTree(); err != nil {
			return nil, batch.Added, err
		}
	}
	stored := *ds
	if stored.IndexedAt.IsZero() {
		stored.IndexedAt = time.Now().UTC()
	}
	inserted, err := conn.InsertDataset(ctx, &stored)
	if err != nil {
		return nil, batch.Added, err
	}
	if !inserted {
		return &stored, batch.Existing, nil
	}
	r.ix.logger.Debug("added dataset", slog.String("id", ds.Key()), slog.String("product", ds.Product))

	if tree != nil {
		if tree.Children.Populated() || tree.Home != "" {
			if err := r.ix.lineage.merge(ctx, conn, tree, 1, false); err != nil {
				return nil, batch.Added, err
			}
		}
	}
	return &stored, batch.Added, nil
}

func (r *datasetResource) Add(ctx context.Context, ds *core.Dataset, withLineage bool) (*core.Dataset, error) {
	var out *core.Dataset
	err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		var err error
		out, _, err = r.addDataset(ctx, conn, ds, withLineage, make(map[uuid.UUID]struct{}))
		return err
	})
	return out, err
}

func (r *datasetResource) Ingest(ctx context.Context, ds *core.Dataset, withLineage bool) (bool, error) {
	var outcome batch.ItemOutcome
	err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		var err error
		_, outcome, err = r.addDataset(ctx, conn, ds, withLineage, make(map[uuid.UUID]struct{}))
		return err
	})
	return err == nil && outcome == batch.Added, err
}

func (r *datasetResource) Get(ctx context.Context, id uuid.UUID) (*core.Dataset, error) {
	var out *core.Dataset
	err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		var err error
		out, err = conn.GetDataset(ctx, id)
		return err
	})
	return out, err
}

func (r *datasetResource) Has(ctx context.Context, id uuid.UUID) (bool, error) {
	var found bool
	err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		has, err := conn.HasDatasets(ctx, []uuid.UUID{id})
		found = has[id]
		return err
	})
	return found, err
}

func (r *datasetResource) Archive(ctx context.Context, ids ...uuid.UUID) (int, error) {
	var n int
	err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		var err error
		n, err = conn.ArchiveDatasets(ctx, ids, time.Now().UTC())
		return err
	})
	return n, err
}

func (r *datasetResource) Restore(ctx context.Context, ids ...uuid.UUID) (int, error) {
	var n int
	err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		var err error
		n, err = conn.RestoreDatasets(ctx, ids)
		return err
	})
	return n, err
}

// Purge deletes the datasets and every relation and home that names them.
func (r *datasetResource) Purge(ctx context.Context, ids ...uuid.UUID) (int, error) {
	var n int
	err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		rels, err := batch.Collect(conn.GetAllRelations(ctx, ids))
		if err != nil {
			return err
		}
		if len(rels) > 0 {
			if _, err := conn.RemoveRelations(ctx, rels); err != nil {
				return err
			}
		}
		if _, err := conn.DeleteHome(ctx, ids, ""); err != nil {
			return err
		}
		n, err = conn.DeleteDatasets(ctx, ids)
		return err
	})
	if err == nil {
		r.ix.logger.Info("purged datasets", slog.Int("count", n))
	}
	return n, err
}

// GetAll yields every dataset ordered by id. Each page is read in its own
// transaction so no connection is held while the caller consumes it.
func (r *datasetResource) GetAll(ctx context.Context) iter.Seq2[*core.Dataset, error] {
	return func(yield func(*core.Dataset, error) bool) {
		after := uuid.Nil
		for {
			var page []*core.Dataset
			err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
				var err error
				page, err = conn.ListDatasets(ctx, after, r.ix.batchSize)
				return err
			})
			if err != nil {
				yield(nil, err)
				return
			}
			for _, ds := range page {
				if !yield(ds, nil) {
					return
				}
			}
			if len(page) < r.ix.batchSize {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}

// BulkAdd adds datasets in batches without recording their lineage; use
// the lineage resource's BulkAdd for relations.
func (r *datasetResource) BulkAdd(ctx context.Context, items iter.Seq[*core.Dataset], batchSize int) (core.BatchStatus, error) {
	return batch.Ingest(ctx, items, r.ix.size(batchSize), func(ctx context.Context, b []*core.Dataset) (batch.Result, error) {
		var res batch.Result
		err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
			var err error
			res, err = batch.AddEach(ctx, b, datasetKey, func(ctx context.Context, ds *core.Dataset) (batch.ItemOutcome, error) {
				_, outcome, err := r.addDataset(ctx, conn, ds, false, make(map[uuid.UUID]struct{}))
				return outcome, err
			}, r.ix.logger)
			return err
		})
		return res, err
	})
}
