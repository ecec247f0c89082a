package index

import (
	"context"
	"iter"
	"log/slog"

	"github.com/leapstack-labs/provcat/pkg/batch"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/store"
)

type productResource struct {
	ix *Index
}

func productKey(p *core.Product) string { return p.Name }

// addProduct stores p unless an identical copy exists. With autoAdd a
// missing metadata type embedded in p is added first.
func (r *productResource) addProduct(ctx context.Context, conn store.Conn, p *core.Product, autoAdd bool) (*core.Product, batch.ItemOutcome, error) {
	if p.Name == "" {
		return nil, batch.Added, core.ErrValidation("product has no name")
	}
	if p.MetadataType == "" {
		return nil, batch.Added, core.ErrValidation("product %s has no metadata type", p.Name)
	}

	existing, err := conn.GetProduct(ctx, p.Name)
	switch {
	case err == nil:
		if diff := p.Diff(existing); len(diff) > 0 {
			return nil, batch.Existing, &core.DocumentMismatchError{Kind: "product", Key: p.Name, Fields: diff}
		}
		return existing, batch.Existing, nil
	case !core.IsNotFound(err):
		return nil, batch.Added, err
	}

	if _, err := conn.GetMetadataType(ctx, p.MetadataType); err != nil {
		if !core.IsNotFound(err) || !autoAdd || p.MetadataTypeDefinition == nil {
			return nil, batch.Added, err
		}
		r.ix.logger.Warn("metadata type missing, adding it from the product definition",
			slog.String("product", p.Name),
			slog.String("metadata_type", p.MetadataType))
		if _, _, err := addMetadataType(ctx, conn, p.MetadataTypeDefinition); err != nil {
			return nil, batch.Added, err
		}
	}

	inserted, err := conn.InsertProduct(ctx, p)
	if err != nil {
		return nil, batch.Added, err
	}
	if !inserted {
		return p, batch.Existing, nil
	}
	return p, batch.Added, nil
}

func (r *productResource) Add(ctx context.Context, p *core.Product) (*core.Product, error) {
	var out *core.Product
	err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		var err error
		out, _, err = r.addProduct(ctx, conn, p, true)
		return err
	})
	return out, err
}

func (r *productResource) Get(ctx context.Context, name string) (*core.Product, error) {
	var out *core.Product
	err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		var err error
		out, err = conn.GetProduct(ctx, name)
		return err
	})
	return out, err
}

func (r *productResource) GetAll(ctx context.Context) iter.Seq2[*core.Product, error] {
	return func(yield func(*core.Product, error) bool) {
		var all []*core.Product
		err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
			var err error
			all, err = conn.ListProducts(ctx)
			return err
		})
		if err != nil {
			yield(nil, err)
			return
		}
		for _, p := range all {
			if !yield(p, nil) {
				return
			}
		}
	}
}

// BulkAdd adds products in batches. Metadata types are never added
// implicitly here; a product whose metadata type is missing is skipped.
func (r *productResource) BulkAdd(ctx context.Context, items iter.Seq[*core.Product], batchSize int) (core.BatchStatus, error) {
	return batch.Ingest(ctx, items, r.ix.size(batchSize), func(ctx context.Context, b []*core.Product) (batch.Result, error) {
		var res batch.Result
		err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
			var err error
			res, err = batch.AddEach(ctx, b, productKey, func(ctx context.Context, p *core.Product) (batch.ItemOutcome, error) {
				_, outcome, err := r.addProduct(ctx, conn, p, false)
				return outcome, err
			}, r.ix.logger)
			return err
		})
		return res, err
	})
}
