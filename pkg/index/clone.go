package index

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/lineage"
)

// CloneResult reports one clone stage per resource type.
type CloneResult struct {
	MetadataTypes core.BatchStatus
	Products      core.BatchStatus
	Datasets      core.BatchStatus
	Lineage       core.BatchStatus
	Homes         int
}

// Clone copies the contents of src into dst: metadata types, then products
// whose metadata type was stored safely, then datasets whose product was,
// then the lineage of those datasets and their homes. Reading from src and
// writing to dst run concurrently within each stage.
func Clone(ctx context.Context, dst, src core.Index, batchSize int, logger *slog.Logger) (CloneResult, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var res CloneResult
	var err error

	res.MetadataTypes, err = cloneStage(ctx, src.MetadataTypes().GetAll, keepAll[*core.MetadataType],
		func(ctx context.Context, items iter.Seq[*core.MetadataType]) (core.BatchStatus, error) {
			return dst.MetadataTypes().BulkAdd(ctx, items, batchSize)
		})
	if err != nil {
		return res, fmt.Errorf("failed to clone metadata types: %w", err)
	}
	logger.Info("cloned metadata types", slog.String("status", res.MetadataTypes.String()))

	safeTypes := res.MetadataTypes.SafeSet()
	res.Products, err = cloneStage(ctx, src.Products().GetAll,
		func(p *core.Product) bool { return inSafeSet(safeTypes, p.MetadataType) },
		func(ctx context.Context, items iter.Seq[*core.Product]) (core.BatchStatus, error) {
			return dst.Products().BulkAdd(ctx, items, batchSize)
		})
	if err != nil {
		return res, fmt.Errorf("failed to clone products: %w", err)
	}
	logger.Info("cloned products", slog.String("status", res.Products.String()))

	safeProducts := res.Products.SafeSet()
	res.Datasets, err = cloneStage(ctx, src.Datasets().GetAll,
		func(ds *core.Dataset) bool { return inSafeSet(safeProducts, ds.Product) },
		func(ctx context.Context, items iter.Seq[*core.Dataset]) (core.BatchStatus, error) {
			return dst.Datasets().BulkAdd(ctx, items, batchSize)
		})
	if err != nil {
		return res, fmt.Errorf("failed to clone datasets: %w", err)
	}
	logger.Info("cloned datasets", slog.String("status", res.Datasets.String()))

	safeDatasets := res.Datasets.SafeSet()
	seen := make(map[uuid.UUID]struct{})
	res.Lineage, err = cloneStage(ctx,
		func(ctx context.Context) iter.Seq2[lineage.Relation, error] {
			return src.Lineage().GetAllLineage(ctx, batchSize)
		},
		func(rel lineage.Relation) bool {
			if !inSafeSet(safeDatasets, rel.DerivedID.String()) {
				return false
			}
			seen[rel.DerivedID] = struct{}{}
			seen[rel.SourceID] = struct{}{}
			return true
		},
		func(ctx context.Context, items iter.Seq[lineage.Relation]) (core.BatchStatus, error) {
			return dst.Lineage().BulkAdd(ctx, items, batchSize)
		})
	if err != nil {
		return res, fmt.Errorf("failed to clone lineage: %w", err)
	}
	logger.Info("cloned lineage", slog.String("status", res.Lineage.String()))

	res.Homes, err = cloneHomes(ctx, dst, src, slices.Collect(maps.Keys(seen)))
	if err != nil {
		return res, fmt.Errorf("failed to clone homes: %w", err)
	}
	return res, nil
}

func cloneHomes(ctx context.Context, dst, src core.Index, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	homes, err := src.Lineage().GetHomes(ctx, ids...)
	if err != nil {
		return 0, err
	}
	byHome := make(map[string][]uuid.UUID)
	for id, home := range homes {
		byHome[home] = append(byHome[home], id)
	}
	total := 0
	for home, homeIDs := range byHome {
		n, err := dst.Lineage().SetHome(ctx, home, homeIDs, false)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func keepAll[T any](T) bool { return true }

func inSafeSet(safe map[string]struct{}, key string) bool {
	if safe == nil {
		return true
	}
	_, ok := safe[key]
	return ok
}

// cloneStage streams the items read from one index through keep into the
// writer of another. The reader and writer run in separate goroutines
// joined by a channel; the first error cancels both.
func cloneStage[T any](
	ctx context.Context,
	read func(context.Context) iter.Seq2[T, error],
	keep func(T) bool,
	write func(context.Context, iter.Seq[T]) (core.BatchStatus, error),
) (core.BatchStatus, error) {
	g, gctx := errgroup.WithContext(ctx)
	items := make(chan T, 64)

	g.Go(func() error {
		defer close(items)
		for item, err := range read(gctx) {
			if err != nil {
				return err
			}
			if !keep(item) {
				continue
			}
			select {
			case items <- item:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var status core.BatchStatus
	g.Go(func() error {
		var err error
		status, err = write(gctx, func(yield func(T) bool) {
			for item := range items {
				if !yield(item) {
					return
				}
			}
		})
		return err
	})

	err := g.Wait()
	return status, err
}
