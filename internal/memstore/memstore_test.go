package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/provcat/internal/testutil"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/lineage"
	"github.com/leapstack-labs/provcat/pkg/txn"
)

func id(n byte) uuid.UUID { return uuid.UUID{15: n} }

func begin(t *testing.T, b *Backend) *Conn {
	t.Helper()
	c, err := b.Begin(context.Background())
	require.NoError(t, err)
	return c.(*Conn)
}

func TestConn_CommitPublishes(t *testing.T) {
	ctx := context.Background()
	b := New(testutil.NewTestLogger(t))

	c := begin(t, b)
	ok, err := c.InsertMetadataType(ctx, &core.MetadataType{Name: "eo3"})
	require.NoError(t, err)
	assert.True(t, ok)

	other := begin(t, b)
	_, err = other.GetMetadataType(ctx, "eo3")
	assert.True(t, core.IsNotFound(err), "uncommitted write must not be visible")
	require.NoError(t, other.Rollback(ctx))

	require.NoError(t, c.Commit(ctx))

	after := begin(t, b)
	mt, err := after.GetMetadataType(ctx, "eo3")
	require.NoError(t, err)
	assert.Equal(t, "eo3", mt.Name)
	require.NoError(t, after.Commit(ctx))
}

func TestConn_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	b := New(nil)

	c := begin(t, b)
	_, err := c.InsertProduct(ctx, &core.Product{Name: "ls8", MetadataType: "eo3"})
	require.NoError(t, err)
	require.NoError(t, c.Rollback(ctx))

	assert.ErrorIs(t, c.Commit(ctx), txn.ErrNotActive)

	after := begin(t, b)
	_, err = after.GetProduct(ctx, "ls8")
	assert.True(t, core.IsNotFound(err))
}

func TestConn_StaleWriteConflicts(t *testing.T) {
	ctx := context.Background()
	b := New(nil)

	first := begin(t, b)
	second := begin(t, b)
	reader := begin(t, b)

	_, err := first.InsertMetadataType(ctx, &core.MetadataType{Name: "a"})
	require.NoError(t, err)
	_, err = second.InsertMetadataType(ctx, &core.MetadataType{Name: "b"})
	require.NoError(t, err)

	require.NoError(t, first.Commit(ctx))
	err = second.Commit(ctx)
	var conflict *core.ConflictError
	assert.ErrorAs(t, err, &conflict)

	assert.NoError(t, reader.Commit(ctx), "read-only transactions never conflict")
}

func TestConn_Datasets(t *testing.T) {
	ctx := context.Background()
	b := New(nil)
	c := begin(t, b)

	for i := byte(1); i <= 5; i++ {
		ok, err := c.InsertDataset(ctx, &core.Dataset{ID: id(i), Product: "ls8"})
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := c.InsertDataset(ctx, &core.Dataset{ID: id(1), Product: "ls8"})
	require.NoError(t, err)
	assert.False(t, ok, "duplicate insert")

	has, err := c.HasDatasets(ctx, []uuid.UUID{id(1), id(9)})
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]bool{id(1): true, id(9): false}, has)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	n, err := c.ArchiveDatasets(ctx, []uuid.UUID{id(1), id(2), id(2), id(9)}, at)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = c.ArchiveDatasets(ctx, []uuid.UUID{id(1)}, at)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "already archived")

	ds, err := c.GetDataset(ctx, id(1))
	require.NoError(t, err)
	require.NotNil(t, ds.ArchivedAt)
	assert.Equal(t, at, *ds.ArchivedAt)

	n, err = c.RestoreDatasets(ctx, []uuid.UUID{id(1), id(3)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	page, err := c.ListDatasets(ctx, uuid.Nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, id(1), page[0].ID)
	page, err = c.ListDatasets(ctx, page[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, id(3), page[0].ID)

	n, err = c.DeleteDatasets(ctx, []uuid.UUID{id(4), id(5), id(6)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func collectRelations(t *testing.T, seq func(yield func(lineage.Relation, error) bool)) []lineage.Relation {
	t.Helper()
	var out []lineage.Relation
	for rel, err := range seq {
		require.NoError(t, err)
		out = append(out, rel)
	}
	return out
}

func TestConn_LoadLineageRelations(t *testing.T) {
	ctx := context.Background()
	b := New(nil)
	c := begin(t, b)

	// 1 <- 2 <- 3, 1 <- 4
	rels := []lineage.Relation{
		{Classifier: "ard", DerivedID: id(1), SourceID: id(2)},
		{Classifier: "l1", DerivedID: id(2), SourceID: id(3)},
		{Classifier: "aux", DerivedID: id(1), SourceID: id(4)},
	}
	require.NoError(t, c.WriteRelations(ctx, rels, false))

	tests := []struct {
		name      string
		root      uuid.UUID
		direction lineage.Direction
		maxDepth  int
		want      int
	}{
		{"sources unlimited", id(1), lineage.Sources, 0, 3},
		{"sources depth 1", id(1), lineage.Sources, 1, 2},
		{"derived from leaf", id(3), lineage.Derived, 0, 2},
		{"derived depth 1", id(3), lineage.Derived, 1, 1},
		{"unknown root", id(9), lineage.Sources, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collectRelations(t, c.LoadLineageRelations(ctx, []uuid.UUID{tt.root}, tt.direction, tt.maxDepth))
			assert.Len(t, got, tt.want)
		})
	}

	all := collectRelations(t, c.GetAllRelations(ctx, []uuid.UUID{id(3)}))
	assert.Equal(t, []lineage.Relation{rels[1]}, all)
}

func TestConn_WriteRelationsUpdates(t *testing.T) {
	ctx := context.Background()
	c := begin(t, New(nil))

	rel := lineage.Relation{Classifier: "ard", DerivedID: id(1), SourceID: id(2)}
	require.NoError(t, c.WriteRelations(ctx, []lineage.Relation{rel}, false))

	rel.Classifier = "l1"
	require.NoError(t, c.WriteRelations(ctx, []lineage.Relation{rel}, false))
	page, err := c.ListLineage(ctx, lineage.IDPair{}, 10)
	require.NoError(t, err)
	assert.Equal(t, "ard", page[0].Classifier, "not overwritten without allowUpdates")

	require.NoError(t, c.WriteRelations(ctx, []lineage.Relation{rel}, true))
	page, err = c.ListLineage(ctx, lineage.IDPair{}, 10)
	require.NoError(t, err)
	assert.Equal(t, "l1", page[0].Classifier)
}

func TestConn_BulkAndPaging(t *testing.T) {
	ctx := context.Background()
	c := begin(t, New(nil))

	batch := []lineage.Relation{
		{Classifier: "a", DerivedID: id(3), SourceID: id(1)},
		{Classifier: "a", DerivedID: id(2), SourceID: id(1)},
		{Classifier: "a", DerivedID: id(3), SourceID: id(2)},
	}
	added, skipped, err := c.InsertLineageBulk(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.Equal(t, 0, skipped)

	added, skipped, err = c.InsertLineageBulk(ctx, batch[:2])
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 2, skipped)

	page, err := c.ListLineage(ctx, lineage.IDPair{}, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, lineage.IDPair{DerivedID: id(2), SourceID: id(1)}, page[0].Pair())
	assert.Equal(t, lineage.IDPair{DerivedID: id(3), SourceID: id(1)}, page[1].Pair())

	page, err = c.ListLineage(ctx, page[1].Pair(), 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, lineage.IDPair{DerivedID: id(3), SourceID: id(2)}, page[0].Pair())

	n, err := c.RemoveRelations(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestConn_Homes(t *testing.T) {
	ctx := context.Background()
	c := begin(t, New(nil))

	n, err := c.InsertHome(ctx, "a", []uuid.UUID{id(1), id(2)}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.InsertHome(ctx, "b", []uuid.UUID{id(1), id(3)}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "existing home kept without allowUpdates")

	n, err = c.InsertHome(ctx, "b", []uuid.UUID{id(1)}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	homes, err := c.SelectHomes(ctx, []uuid.UUID{id(1), id(2), id(3), id(4)})
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]string{id(1): "b", id(2): "a", id(3): "b"}, homes)

	n, err = c.DeleteHome(ctx, []uuid.UUID{id(1), id(2)}, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only ids recorded with the given home")

	n, err = c.DeleteHome(ctx, []uuid.UUID{id(1), id(3)}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBackend_Closed(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.Close())
	_, err := b.Begin(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
