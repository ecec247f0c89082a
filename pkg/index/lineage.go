package index

import (
	"context"
	"iter"
	"log/slog"

	"github.com/google/uuid"

	"github.com/leapstack-labs/provcat/pkg/batch"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/lineage"
	"github.com/leapstack-labs/provcat/pkg/store"
)

type lineageResource struct {
	ix *Index
}

// loadRelations reads the relations reachable from ids in direction,
// together with the homes of every dataset they mention.
func loadRelations(ctx context.Context, conn store.Conn, ids []uuid.UUID, direction lineage.Direction, maxDepth int) (*lineage.Relations, error) {
	rels, err := lineage.NewRelations(lineage.WithRelationSeq(conn.LoadLineageRelations(ctx, ids, direction, maxDepth)))
	if err != nil {
		return nil, err
	}
	if err := mergeHomes(ctx, conn, rels, append(rels.DatasetIDs(), ids...)); err != nil {
		return nil, err
	}
	return rels, nil
}

func mergeHomes(ctx context.Context, conn store.Conn, rels *lineage.Relations, ids []uuid.UUID) error {
	homes, err := conn.SelectHomes(ctx, ids)
	if err != nil {
		return err
	}
	for id, home := range homes {
		if err := rels.MergeHome(id, home); err != nil {
			return err
		}
	}
	return nil
}

func (r *lineageResource) getTree(ctx context.Context, id uuid.UUID, direction lineage.Direction, maxDepth int) (*lineage.Tree, error) {
	var tree *lineage.Tree
	err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		rels, err := loadRelations(ctx, conn, []uuid.UUID{id}, direction, maxDepth)
		if err != nil {
			return err
		}
		tree, err = rels.ExtractTree(id, direction)
		return err
	})
	return tree, err
}

func (r *lineageResource) GetDerivedTree(ctx context.Context, id uuid.UUID, maxDepth int) (*lineage.Tree, error) {
	return r.getTree(ctx, id, lineage.Derived, maxDepth)
}

func (r *lineageResource) GetSourceTree(ctx context.Context, id uuid.UUID, maxDepth int) (*lineage.Tree, error) {
	return r.getTree(ctx, id, lineage.Sources, maxDepth)
}

func (r *lineageResource) Add(ctx context.Context, tree *lineage.Tree, maxDepth int, allowUpdates bool) error {
	return r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		return r.merge(ctx, conn, tree, maxDepth, allowUpdates)
	})
}

func (r *lineageResource) merge(ctx context.Context, conn store.Conn, tree *lineage.Tree, maxDepth int, allowUpdates bool) error {
	rels, err := lineage.NewRelations(lineage.WithTree(tree, maxDepth))
	if err != nil {
		return err
	}
	return r.mergeRelations(ctx, conn, rels, allowUpdates, false)
}

func (r *lineageResource) Merge(ctx context.Context, rels *lineage.Relations, allowUpdates, validateOnly bool) error {
	return r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		return r.mergeRelations(ctx, conn, rels, allowUpdates, validateOnly)
	})
}

// mergeRelations reconciles rels with the stored neighbourhood of every
// dataset it mentions. Nothing is written unless the combined graph stays
// consistent.
func (r *lineageResource) mergeRelations(ctx context.Context, conn store.Conn, rels *lineage.Relations, allowUpdates, validateOnly bool) error {
	ids := rels.DatasetIDs()
	if len(ids) == 0 {
		return nil
	}

	existing, err := lineage.NewRelations(
		lineage.WithRelationSeq(conn.LoadLineageRelations(ctx, ids, lineage.Sources, 0)),
		lineage.WithRelationSeq(conn.LoadLineageRelations(ctx, ids, lineage.Derived, 0)),
	)
	if err != nil {
		return err
	}
	if err := mergeHomes(ctx, conn, existing, ids); err != nil {
		return err
	}

	diff, err := rels.RelationsDiff(existing, allowUpdates)
	if err != nil {
		return err
	}
	if diff.Empty() {
		return nil
	}
	if err := existing.Clone().Apply(diff); err != nil {
		return err
	}
	if validateOnly {
		return nil
	}

	if toWrite := diff.Relations(); len(toWrite) > 0 {
		if err := conn.WriteRelations(ctx, toWrite, allowUpdates); err != nil {
			return err
		}
	}
	for home, homeIDs := range diff.Homes() {
		if _, err := conn.InsertHome(ctx, home, homeIDs, allowUpdates); err != nil {
			return err
		}
	}
	r.ix.logger.Debug("merged lineage",
		slog.Int("added_relations", len(diff.AddedRelations)),
		slog.Int("updated_relations", len(diff.UpdatedRelations)),
		slog.Int("added_homes", len(diff.AddedHomes)),
		slog.Int("updated_homes", len(diff.UpdatedHomes)))
	return nil
}

func (r *lineageResource) Remove(ctx context.Context, id uuid.UUID, direction lineage.Direction, maxDepth int) error {
	return r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		rels, err := lineage.NewRelations(lineage.WithRelationSeq(conn.LoadLineageRelations(ctx, []uuid.UUID{id}, direction, maxDepth)))
		if err != nil {
			return err
		}
		if rels.Len() == 0 {
			return nil
		}
		n, err := conn.RemoveRelations(ctx, rels.Relations())
		if err != nil {
			return err
		}
		r.ix.logger.Debug("removed lineage", slog.String("id", id.String()), slog.Int("relations", n))
		return nil
	})
}

func (r *lineageResource) SetHome(ctx context.Context, home string, ids []uuid.UUID, allowUpdates bool) (int, error) {
	if home == "" {
		return 0, core.ErrValidation("home must not be empty")
	}
	var n int
	err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		var err error
		n, err = conn.InsertHome(ctx, home, ids, allowUpdates)
		return err
	})
	return n, err
}

func (r *lineageResource) ClearHome(ctx context.Context, ids []uuid.UUID, home string) (int, error) {
	var n int
	err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		var err error
		n, err = conn.DeleteHome(ctx, ids, home)
		return err
	})
	return n, err
}

func (r *lineageResource) GetHomes(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]string, error) {
	var homes map[uuid.UUID]string
	err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		var err error
		homes, err = conn.SelectHomes(ctx, ids)
		return err
	})
	return homes, err
}

// GetAllLineage yields every stored relation, reading batchSize relations
// per transaction.
func (r *lineageResource) GetAllLineage(ctx context.Context, batchSize int) iter.Seq2[lineage.Relation, error] {
	size := r.ix.size(batchSize)
	return func(yield func(lineage.Relation, error) bool) {
		var after lineage.IDPair
		for {
			var page []lineage.Relation
			err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
				var err error
				page, err = conn.ListLineage(ctx, after, size)
				return err
			})
			if err != nil {
				yield(lineage.Relation{}, err)
				return
			}
			for _, rel := range page {
				if !yield(rel, nil) {
					return
				}
			}
			if len(page) < size {
				return
			}
			after = page[len(page)-1].Pair()
		}
	}
}

// BulkAdd inserts relations without consistency checks; pairs that already
// exist are counted as skipped.
func (r *lineageResource) BulkAdd(ctx context.Context, rels iter.Seq[lineage.Relation], batchSize int) (core.BatchStatus, error) {
	return batch.Ingest(ctx, rels, r.ix.size(batchSize), func(ctx context.Context, b []lineage.Relation) (batch.Result, error) {
		var res batch.Result
		err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
			added, skipped, err := conn.InsertLineageBulk(ctx, b)
			res = batch.Result{Added: added, Skipped: skipped}
			return err
		})
		return res, err
	})
}
