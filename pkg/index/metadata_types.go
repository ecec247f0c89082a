package index

import (
	"context"
	"iter"

	"github.com/leapstack-labs/provcat/pkg/batch"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/store"
)

type metadataTypeResource struct {
	ix *Index
}

func metadataTypeKey(mt *core.MetadataType) string { return mt.Name }

// addMetadataType stores mt unless an identical copy exists.
func addMetadataType(ctx context.Context, conn store.Conn, mt *core.MetadataType) (*core.MetadataType, batch.ItemOutcome, error) {
	if mt.Name == "" {
		return nil, batch.Added, core.ErrValidation("metadata type has no name")
	}
	existing, err := conn.GetMetadataType(ctx, mt.Name)
	switch {
	case err == nil:
		if diff := mt.Diff(existing); len(diff) > 0 {
			return nil, batch.Existing, &core.DocumentMismatchError{Kind: "metadata type", Key: mt.Name, Fields: diff}
		}
		return existing, batch.Existing, nil
	case !core.IsNotFound(err):
		return nil, batch.Added, err
	}

	inserted, err := conn.InsertMetadataType(ctx, mt)
	if err != nil {
		return nil, batch.Added, err
	}
	if !inserted {
		return mt, batch.Existing, nil
	}
	return mt, batch.Added, nil
}

func (r *metadataTypeResource) Add(ctx context.Context, mt *core.MetadataType) (*core.MetadataType, error) {
	var out *core.MetadataType
	err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		var err error
		out, _, err = addMetadataType(ctx, conn, mt)
		return err
	})
	return out, err
}

func (r *metadataTypeResource) Get(ctx context.Context, name string) (*core.MetadataType, error) {
	var out *core.MetadataType
	err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
		var err error
		out, err = conn.GetMetadataType(ctx, name)
		return err
	})
	return out, err
}

func (r *metadataTypeResource) GetAll(ctx context.Context) iter.Seq2[*core.MetadataType, error] {
	return func(yield func(*core.MetadataType, error) bool) {
		var all []*core.MetadataType
		err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
			var err error
			all, err = conn.ListMetadataTypes(ctx)
			return err
		})
		if err != nil {
			yield(nil, err)
			return
		}
		for _, mt := range all {
			if !yield(mt, nil) {
				return
			}
		}
	}
}

func (r *metadataTypeResource) BulkAdd(ctx context.Context, items iter.Seq[*core.MetadataType], batchSize int) (core.BatchStatus, error) {
	return batch.Ingest(ctx, items, r.ix.size(batchSize), func(ctx context.Context, b []*core.MetadataType) (batch.Result, error) {
		var res batch.Result
		err := r.ix.withConn(ctx, func(ctx context.Context, conn store.Conn) error {
			var err error
			res, err = batch.AddEach(ctx, b, metadataTypeKey, func(ctx context.Context, mt *core.MetadataType) (batch.ItemOutcome, error) {
				_, outcome, err := addMetadataType(ctx, conn, mt)
				return outcome, err
			}, r.ix.logger)
			return err
		})
		return res, err
	})
}
