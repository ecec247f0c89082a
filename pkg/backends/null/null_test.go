package null

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/provcat/internal/testutil"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/index"
	"github.com/leapstack-labs/provcat/pkg/lineage"
	"github.com/leapstack-labs/provcat/pkg/txn"
)

func TestNull_Reads(t *testing.T) {
	ctx := context.Background()
	ix, err := index.Open(ctx, core.IndexConfig{Backend: "null", Name: "void"}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	require.NoError(t, ix.Init(ctx))
	assert.Equal(t, "void", ix.Name())

	_, err = ix.Products().Get(ctx, "ls8")
	assert.True(t, core.IsNotFound(err))
	has, err := ix.Datasets().Has(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, has)

	for range ix.Datasets().GetAll(ctx) {
		t.Fatal("null index yielded a dataset")
	}

	id := uuid.New()
	tree, err := ix.Lineage().GetSourceTree(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, id, tree.DatasetID)
	assert.True(t, tree.Children.Fetched())
	assert.Zero(t, tree.Children.Len())

	homes, err := ix.Lineage().GetHomes(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, homes)
}

func TestNull_WritesAreReadOnly(t *testing.T) {
	ctx := context.Background()
	ix := New("void", nil)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"metadata type add", func() error { _, err := ix.MetadataTypes().Add(ctx, &core.MetadataType{Name: "eo3"}); return err }},
		{"product add", func() error { _, err := ix.Products().Add(ctx, &core.Product{Name: "ls8"}); return err }},
		{"dataset add", func() error { _, err := ix.Datasets().Add(ctx, &core.Dataset{ID: uuid.New()}, true); return err }},
		{"dataset ingest", func() error { _, err := ix.Datasets().Ingest(ctx, &core.Dataset{ID: uuid.New()}, false); return err }},
		{"archive", func() error { _, err := ix.Datasets().Archive(ctx, uuid.New()); return err }},
		{"purge", func() error { _, err := ix.Datasets().Purge(ctx, uuid.New()); return err }},
		{"lineage add", func() error { return ix.Lineage().Add(ctx, &lineage.Tree{DatasetID: uuid.New()}, 0, false) }},
		{"set home", func() error { _, err := ix.Lineage().SetHome(ctx, "x", []uuid.UUID{uuid.New()}, false); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.fn(), core.ErrReadOnly))
		})
	}
}

func TestNull_BulkAddSkipsEverything(t *testing.T) {
	ctx := context.Background()
	ix := New("void", nil)

	items := []*core.Product{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	status, err := ix.Products().BulkAdd(ctx, slices.Values(items), 2)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Completed)
	assert.Equal(t, 3, status.Skipped)
	assert.Empty(t, status.SafeSet())
}

func TestNull_Transaction(t *testing.T) {
	ctx := context.Background()
	ix := New("void", nil)

	outcome, err := ix.Transaction(ctx, func(ctx context.Context) (txn.Outcome, error) {
		return txn.RequestRollback, nil
	})
	require.NoError(t, err)
	assert.Equal(t, txn.RequestRollback, outcome)

	tctx, tx, err := ix.Begin(ctx)
	require.NoError(t, err)
	assert.NotNil(t, tctx)
	require.NoError(t, tx.Commit(tctx))
}
