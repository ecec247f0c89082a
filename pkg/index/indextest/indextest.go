// Package indextest is a conformance suite every writable backend must pass.
package indextest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/lineage"
	"github.com/leapstack-labs/provcat/pkg/txn"
)

// Opener returns a fresh, initialised, empty index. The suite closes it.
type Opener func(t *testing.T) core.Index

// Run runs the whole suite against indexes produced by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, ix core.Index)
	}{
		{"MetadataTypes", testMetadataTypes},
		{"ProductAutoAddsMetadataType", testProductAutoAdd},
		{"DatasetWithInlineSources", testDatasetInlineSources},
		{"DatasetMismatch", testDatasetMismatch},
		{"DatasetIngestOutcome", testDatasetIngestOutcome},
		{"DatasetClassifierConflict", testDatasetClassifierConflict},
		{"ArchiveRestorePurge", testArchiveRestorePurge},
		{"SourceTreeDepth", testSourceTreeDepth},
		{"DerivedTree", testDerivedTree},
		{"ClassifierConflict", testClassifierConflict},
		{"CycleAcrossCalls", testCycleAcrossCalls},
		{"ValidateOnly", testValidateOnly},
		{"RemoveLineage", testRemoveLineage},
		{"Homes", testHomes},
		{"BulkAddWithMismatches", testBulkAddWithMismatches},
		{"LineageBulkAndExport", testLineageBulkAndExport},
		{"NestedTransactionError", testNestedTransactionError},
		{"NestedCommitDeferred", testNestedCommitDeferred},
		{"RequestRollback", testRequestRollback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix := open(t)
			t.Cleanup(func() { _ = ix.Close() })
			tt.fn(t, ix)
		})
	}
}

// ID returns a deterministic dataset id; ids sort by n.
func ID(n int) uuid.UUID {
	return uuid.UUID{14: byte(n >> 8), 15: byte(n)}
}

// Seed adds the eo3 metadata type and the ls8 product.
func Seed(t *testing.T, ix core.Index) {
	t.Helper()
	ctx := context.Background()
	_, err := ix.MetadataTypes().Add(ctx, metadataType())
	require.NoError(t, err)
	_, err = ix.Products().Add(ctx, product())
	require.NoError(t, err)
}

func metadataType() *core.MetadataType {
	return &core.MetadataType{
		Name:        "eo3",
		Description: "EO3 datasets",
		Definition:  core.Document{"dataset": map[string]any{"id": []any{"id"}}},
	}
}

func product() *core.Product {
	return &core.Product{
		Name:         "ls8",
		Description:  "Landsat 8",
		MetadataType: "eo3",
		Definition:   core.Document{"name": "ls8", "metadata_type": "eo3"},
	}
}

// Dataset returns an ls8 dataset with the given id and sources.
func Dataset(id uuid.UUID, sources map[string][]*core.Dataset) *core.Dataset {
	return &core.Dataset{
		ID:       id,
		Product:  "ls8",
		Metadata: core.Document{"id": id.String(), "product": map[string]any{"name": "ls8"}},
		Sources:  sources,
	}
}

// Leaf returns a known-empty tree node.
func Leaf(id uuid.UUID, dir lineage.Direction) *lineage.Tree {
	return &lineage.Tree{DatasetID: id, Direction: dir, Children: lineage.Known(nil)}
}

// Node returns a tree node with known children.
func Node(id uuid.UUID, dir lineage.Direction, children map[string][]*lineage.Tree) *lineage.Tree {
	return &lineage.Tree{DatasetID: id, Direction: dir, Children: lineage.Known(children)}
}

func assertTree(t *testing.T, want, got *lineage.Tree) {
	t.Helper()
	if !want.Equal(got) {
		assert.Fail(t, "trees differ", "want %v\n got %v", want.Serialise(true), got.Serialise(true))
	}
}

func testMetadataTypes(t *testing.T, ix core.Index) {
	ctx := context.Background()

	_, err := ix.MetadataTypes().Get(ctx, "eo3")
	assert.True(t, core.IsNotFound(err))

	added, err := ix.MetadataTypes().Add(ctx, metadataType())
	require.NoError(t, err)
	assert.Equal(t, "eo3", added.Name)

	again, err := ix.MetadataTypes().Add(ctx, metadataType())
	require.NoError(t, err, "identical re-add is accepted")
	assert.Equal(t, added.Definition, again.Definition)

	changed := metadataType()
	changed.Definition = core.Document{"dataset": map[string]any{"id": []any{"other"}}}
	_, err = ix.MetadataTypes().Add(ctx, changed)
	var mismatch *core.DocumentMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, []string{"dataset"}, mismatch.Fields)

	var names []string
	for mt, err := range ix.MetadataTypes().GetAll(ctx) {
		require.NoError(t, err)
		names = append(names, mt.Name)
	}
	assert.Equal(t, []string{"eo3"}, names)
}

func testProductAutoAdd(t *testing.T, ix core.Index) {
	ctx := context.Background()

	p := product()
	_, err := ix.Products().Add(ctx, p)
	assert.True(t, core.IsNotFound(err), "metadata type missing and not embedded")

	p.MetadataTypeDefinition = metadataType()
	_, err = ix.Products().Add(ctx, p)
	require.NoError(t, err)

	mt, err := ix.MetadataTypes().Get(ctx, "eo3")
	require.NoError(t, err)
	assert.Equal(t, "EO3 datasets", mt.Description)

	got, err := ix.Products().Get(ctx, "ls8")
	require.NoError(t, err)
	assert.Equal(t, "eo3", got.MetadataType)
	assert.Empty(t, got.Diff(product()))
}

func testDatasetInlineSources(t *testing.T, ix core.Index) {
	ctx := context.Background()
	Seed(t, ix)

	l1a, l1b, ard := Dataset(ID(1), nil), Dataset(ID(2), nil), Dataset(ID(3), nil)
	ard.Sources = map[string][]*core.Dataset{"l1": {l1a, l1b}}
	root := Dataset(ID(4), map[string][]*core.Dataset{"ard": {ard}})
	root.Home = "archive"

	_, err := ix.Datasets().Add(ctx, root, true)
	require.NoError(t, err)

	for _, id := range []uuid.UUID{ID(1), ID(2), ID(3), ID(4)} {
		has, err := ix.Datasets().Has(ctx, id)
		require.NoError(t, err)
		assert.True(t, has, "dataset %s", id)
	}

	tree, err := ix.Lineage().GetSourceTree(ctx, ID(4), 0)
	require.NoError(t, err)
	want := Node(ID(4), lineage.Sources, map[string][]*lineage.Tree{
		"ard": {Node(ID(3), lineage.Sources, map[string][]*lineage.Tree{
			"l1": {Leaf(ID(1), lineage.Sources), Leaf(ID(2), lineage.Sources)},
		})},
	})
	want.Home = "archive"
	assertTree(t, want, tree)

	got, err := ix.Datasets().Get(ctx, ID(4))
	require.NoError(t, err)
	assert.False(t, got.IndexedAt.IsZero())
	assert.False(t, got.IsArchived())

	_, err = ix.Datasets().Add(ctx, Dataset(ID(9), map[string][]*core.Dataset{"x": {Dataset(ID(9), nil)}}), true)
	assert.ErrorIs(t, err, lineage.ErrInconsistentLineage, "dataset listed among its own sources")
}

func testDatasetMismatch(t *testing.T, ix core.Index) {
	ctx := context.Background()
	Seed(t, ix)

	_, err := ix.Datasets().Add(ctx, Dataset(ID(1), nil), false)
	require.NoError(t, err)
	_, err = ix.Datasets().Add(ctx, Dataset(ID(1), nil), false)
	require.NoError(t, err)

	changed := Dataset(ID(1), nil)
	changed.Metadata["properties"] = map[string]any{"cloud_cover": 12.5}
	_, err = ix.Datasets().Add(ctx, changed, false)
	var mismatch *core.DocumentMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Contains(t, mismatch.Fields, "properties")

	orphan := Dataset(ID(2), nil)
	orphan.Product = "missing"
	_, err = ix.Datasets().Add(ctx, orphan, false)
	assert.True(t, core.IsNotFound(err))
}

func testDatasetIngestOutcome(t *testing.T, ix core.Index) {
	ctx := context.Background()
	Seed(t, ix)

	added, err := ix.Datasets().Ingest(ctx, Dataset(ID(1), nil), true)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = ix.Datasets().Ingest(ctx, Dataset(ID(1), nil), true)
	require.NoError(t, err)
	assert.False(t, added, "identical dataset is already indexed")

	changed := Dataset(ID(1), nil)
	changed.Metadata["properties"] = map[string]any{"cloud_cover": 12.5}
	added, err = ix.Datasets().Ingest(ctx, changed, true)
	var mismatch *core.DocumentMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.False(t, added)
}

func testDatasetClassifierConflict(t *testing.T, ix core.Index) {
	ctx := context.Background()
	Seed(t, ix)
	_, err := ix.Datasets().Add(ctx, Dataset(ID(1), nil), false)
	require.NoError(t, err)

	ds := Dataset(ID(2), nil)
	ds.Metadata["lineage"] = map[string]any{
		"ard": []any{ID(1).String()},
		"l1":  []any{ID(1).String()},
	}
	_, err = ix.Datasets().Add(ctx, ds, true)
	require.ErrorIs(t, err, lineage.ErrInconsistentLineage)

	has, err := ix.Datasets().Has(ctx, ID(2))
	require.NoError(t, err)
	assert.False(t, has, "nothing written on rejection")

	tree, err := ix.Lineage().GetDerivedTree(ctx, ID(1), 0)
	require.NoError(t, err)
	assert.Zero(t, tree.Children.Len())
}

func testArchiveRestorePurge(t *testing.T, ix core.Index) {
	ctx := context.Background()
	Seed(t, ix)

	src := Dataset(ID(1), nil)
	_, err := ix.Datasets().Add(ctx, Dataset(ID(2), map[string][]*core.Dataset{"l1": {src}}), true)
	require.NoError(t, err)

	n, err := ix.Datasets().Archive(ctx, ID(1), ID(2))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	got, err := ix.Datasets().Get(ctx, ID(1))
	require.NoError(t, err)
	assert.True(t, got.IsArchived())

	n, err = ix.Datasets().Restore(ctx, ID(1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var seen []uuid.UUID
	for ds, err := range ix.Datasets().GetAll(ctx) {
		require.NoError(t, err)
		seen = append(seen, ds.ID)
	}
	assert.Equal(t, []uuid.UUID{ID(1), ID(2)}, seen)

	n, err = ix.Datasets().Purge(ctx, ID(1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	has, err := ix.Datasets().Has(ctx, ID(1))
	require.NoError(t, err)
	assert.False(t, has)
	tree, err := ix.Lineage().GetSourceTree(ctx, ID(2), 0)
	require.NoError(t, err)
	assertTree(t, Leaf(ID(2), lineage.Sources), tree)
}

// e2eTree is root -ard-> ard1 -l1-> l1_1, l1_2, l1_3.
func e2eTree() *lineage.Tree {
	return Node(ID(1), lineage.Sources, map[string][]*lineage.Tree{
		"ard": {Node(ID(2), lineage.Sources, map[string][]*lineage.Tree{
			"l1": {Leaf(ID(3), lineage.Sources), Leaf(ID(4), lineage.Sources), Leaf(ID(5), lineage.Sources)},
		})},
	})
}

func testSourceTreeDepth(t *testing.T, ix core.Index) {
	ctx := context.Background()
	require.NoError(t, ix.Lineage().Add(ctx, e2eTree(), 0, false))

	tree, err := ix.Lineage().GetSourceTree(ctx, ID(1), 1)
	require.NoError(t, err)
	assertTree(t, Node(ID(1), lineage.Sources, map[string][]*lineage.Tree{
		"ard": {Leaf(ID(2), lineage.Sources)},
	}), tree)

	tree, err = ix.Lineage().GetSourceTree(ctx, ID(1), 2)
	require.NoError(t, err)
	assertTree(t, e2eTree(), tree)

	tree, err = ix.Lineage().GetSourceTree(ctx, ID(1), 0)
	require.NoError(t, err)
	assertTree(t, e2eTree(), tree)

	require.NoError(t, ix.Lineage().Add(ctx, e2eTree(), 0, false), "re-adding is idempotent")
}

func testDerivedTree(t *testing.T, ix core.Index) {
	ctx := context.Background()
	require.NoError(t, ix.Lineage().Add(ctx, e2eTree(), 0, false))

	tree, err := ix.Lineage().GetDerivedTree(ctx, ID(4), 0)
	require.NoError(t, err)
	assertTree(t, Node(ID(4), lineage.Derived, map[string][]*lineage.Tree{
		"l1": {Node(ID(2), lineage.Derived, map[string][]*lineage.Tree{
			"ard": {Leaf(ID(1), lineage.Derived)},
		})},
	}), tree)

	// A derived tree records the root as the source of each child.
	derived := Node(ID(5), lineage.Derived, map[string][]*lineage.Tree{
		"l1": {Leaf(ID(6), lineage.Derived)},
	})
	require.NoError(t, ix.Lineage().Add(ctx, derived, 0, false))
	tree, err = ix.Lineage().GetSourceTree(ctx, ID(6), 0)
	require.NoError(t, err)
	assertTree(t, Node(ID(6), lineage.Sources, map[string][]*lineage.Tree{
		"l1": {Leaf(ID(5), lineage.Sources)},
	}), tree)
}

func testClassifierConflict(t *testing.T, ix core.Index) {
	ctx := context.Background()
	require.NoError(t, ix.Lineage().Add(ctx, e2eTree(), 0, false))

	conflicting := Node(ID(2), lineage.Sources, map[string][]*lineage.Tree{
		"ard": {Leaf(ID(3), lineage.Sources)},
	})
	err := ix.Lineage().Add(ctx, conflicting, 0, false)
	require.ErrorIs(t, err, lineage.ErrInconsistentLineage)

	tree, err := ix.Lineage().GetSourceTree(ctx, ID(2), 0)
	require.NoError(t, err)
	assert.Len(t, tree.Children.Get("l1"), 3, "nothing written on rejection")

	require.NoError(t, ix.Lineage().Add(ctx, conflicting, 0, true))
	tree, err = ix.Lineage().GetSourceTree(ctx, ID(2), 0)
	require.NoError(t, err)
	assert.Len(t, tree.Children.Get("l1"), 2)
	assert.Len(t, tree.Children.Get("ard"), 1)
}

func testCycleAcrossCalls(t *testing.T, ix core.Index) {
	ctx := context.Background()
	require.NoError(t, ix.Lineage().Add(ctx, e2eTree(), 0, false))

	closing := Node(ID(3), lineage.Sources, map[string][]*lineage.Tree{
		"loop": {Leaf(ID(1), lineage.Sources)},
	})
	err := ix.Lineage().Add(ctx, closing, 0, true)
	require.ErrorIs(t, err, lineage.ErrInconsistentLineage)
	assert.Contains(t, err.Error(), "cycle")

	tree, err := ix.Lineage().GetSourceTree(ctx, ID(3), 0)
	require.NoError(t, err)
	assertTree(t, Leaf(ID(3), lineage.Sources), tree)
}

func testValidateOnly(t *testing.T, ix core.Index) {
	ctx := context.Background()
	rels, err := lineage.NewRelations(lineage.WithTree(e2eTree(), 0))
	require.NoError(t, err)

	require.NoError(t, ix.Lineage().Merge(ctx, rels, false, true))
	tree, err := ix.Lineage().GetSourceTree(ctx, ID(1), 0)
	require.NoError(t, err)
	assertTree(t, Leaf(ID(1), lineage.Sources), tree)

	require.NoError(t, ix.Lineage().Merge(ctx, rels, false, false))
	tree, err = ix.Lineage().GetSourceTree(ctx, ID(1), 0)
	require.NoError(t, err)
	assertTree(t, e2eTree(), tree)
}

func testRemoveLineage(t *testing.T, ix core.Index) {
	ctx := context.Background()
	require.NoError(t, ix.Lineage().Add(ctx, e2eTree(), 0, false))

	require.NoError(t, ix.Lineage().Remove(ctx, ID(2), lineage.Sources, 0))
	tree, err := ix.Lineage().GetSourceTree(ctx, ID(1), 0)
	require.NoError(t, err)
	assertTree(t, Node(ID(1), lineage.Sources, map[string][]*lineage.Tree{
		"ard": {Leaf(ID(2), lineage.Sources)},
	}), tree)

	require.NoError(t, ix.Lineage().Remove(ctx, ID(99), lineage.Sources, 0), "removing nothing is fine")
}

func testHomes(t *testing.T, ix core.Index) {
	ctx := context.Background()

	n, err := ix.Lineage().SetHome(ctx, "archive", []uuid.UUID{ID(1), ID(2)}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = ix.Lineage().SetHome(ctx, "other", []uuid.UUID{ID(2)}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = ix.Lineage().SetHome(ctx, "other", []uuid.UUID{ID(2)}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	homes, err := ix.Lineage().GetHomes(ctx, ID(1), ID(2), ID(3))
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]string{ID(1): "archive", ID(2): "other"}, homes)

	_, err = ix.Lineage().SetHome(ctx, "", []uuid.UUID{ID(3)}, false)
	var validation *core.ValidationError
	assert.ErrorAs(t, err, &validation)

	// A tree carrying a different home is rejected without allowUpdates.
	tree := Node(ID(1), lineage.Sources, map[string][]*lineage.Tree{"ard": {Leaf(ID(5), lineage.Sources)}})
	tree.Home = "elsewhere"
	require.ErrorIs(t, ix.Lineage().Add(ctx, tree, 0, false), lineage.ErrInconsistentLineage)
	require.NoError(t, ix.Lineage().Add(ctx, tree, 0, true))
	homes, err = ix.Lineage().GetHomes(ctx, ID(1))
	require.NoError(t, err)
	assert.Equal(t, "elsewhere", homes[ID(1)])

	n, err = ix.Lineage().ClearHome(ctx, []uuid.UUID{ID(1), ID(2)}, "other")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = ix.Lineage().ClearHome(ctx, []uuid.UUID{ID(1)}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	homes, err = ix.Lineage().GetHomes(ctx, ID(1), ID(2))
	require.NoError(t, err)
	assert.Empty(t, homes)
}

func datasets(n int) iter.Seq[*core.Dataset] {
	return func(yield func(*core.Dataset) bool) {
		for i := 1; i <= n; i++ {
			if !yield(Dataset(ID(i), nil)) {
				return
			}
		}
	}
}

func testBulkAddWithMismatches(t *testing.T, ix core.Index) {
	ctx := context.Background()
	Seed(t, ix)

	for _, n := range []int{7, 1500, 2400} {
		ds := Dataset(ID(n), nil)
		ds.Metadata["label"] = fmt.Sprintf("stored-%d", n)
		_, err := ix.Datasets().Add(ctx, ds, false)
		require.NoError(t, err)
	}

	status, err := ix.Datasets().BulkAdd(ctx, datasets(2500), 1000)
	require.NoError(t, err)
	assert.Equal(t, 2497, status.Completed)
	assert.Equal(t, 3, status.Skipped)
	assert.Len(t, status.Safe, 2497)
	assert.NotContains(t, status.Safe, ID(1500).String())

	status, err = ix.Datasets().BulkAdd(ctx, datasets(10), 4)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Completed)
	assert.Equal(t, 10, status.Skipped)
	assert.Len(t, status.Safe, 9, "identical datasets are safe")
}

func relationSeq(rels []lineage.Relation) iter.Seq[lineage.Relation] {
	return func(yield func(lineage.Relation) bool) {
		for _, rel := range rels {
			if !yield(rel) {
				return
			}
		}
	}
}

func testLineageBulkAndExport(t *testing.T, ix core.Index) {
	ctx := context.Background()

	var rels []lineage.Relation
	for i := 1; i <= 25; i++ {
		rels = append(rels, lineage.Relation{Classifier: "l1", DerivedID: ID(1000 + i), SourceID: ID(i)})
	}
	status, err := ix.Lineage().BulkAdd(ctx, relationSeq(rels), 10)
	require.NoError(t, err)
	assert.Equal(t, 25, status.Completed)
	assert.Equal(t, 0, status.Skipped)

	status, err = ix.Lineage().BulkAdd(ctx, relationSeq(rels[:5]), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Completed)
	assert.Equal(t, 5, status.Skipped)

	var exported []lineage.Relation
	for rel, err := range ix.Lineage().GetAllLineage(ctx, 7) {
		require.NoError(t, err)
		exported = append(exported, rel)
	}
	assert.Equal(t, rels, exported, "exported in (derived, source) order")
}

func testNestedTransactionError(t *testing.T, ix core.Index) {
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := ix.Transaction(ctx, func(ctx context.Context) (txn.Outcome, error) {
		if _, err := ix.MetadataTypes().Add(ctx, metadataType()); err != nil {
			return txn.Complete, err
		}
		return ix.Transaction(ctx, func(ctx context.Context) (txn.Outcome, error) {
			if _, err := ix.Products().Add(ctx, product()); err != nil {
				return txn.Complete, err
			}
			return txn.Complete, boom
		})
	})
	require.ErrorIs(t, err, boom)

	_, err = ix.MetadataTypes().Get(ctx, "eo3")
	assert.True(t, core.IsNotFound(err), "outer work rolled back")
	_, err = ix.Products().Get(ctx, "ls8")
	assert.True(t, core.IsNotFound(err), "inner work rolled back")
}

func testNestedCommitDeferred(t *testing.T, ix core.Index) {
	ctx := context.Background()

	outerCtx, outer, err := ix.Begin(ctx)
	require.NoError(t, err)
	_, err = ix.MetadataTypes().Add(outerCtx, metadataType())
	require.NoError(t, err)

	innerCtx, inner, err := ix.Begin(outerCtx)
	require.NoError(t, err)
	assert.True(t, inner.Nested())
	_, err = ix.Products().Add(innerCtx, product())
	require.NoError(t, err)
	require.NoError(t, inner.Commit(innerCtx))

	got, err := ix.Products().Get(outerCtx, "ls8")
	require.NoError(t, err, "visible inside the outer transaction")
	assert.Equal(t, "ls8", got.Name)

	require.NoError(t, outer.Rollback(outerCtx))

	_, err = ix.Products().Get(ctx, "ls8")
	assert.True(t, core.IsNotFound(err), "inner commit had no effect")
}

func testRequestRollback(t *testing.T, ix core.Index) {
	ctx := context.Background()

	outcome, err := ix.Transaction(ctx, func(ctx context.Context) (txn.Outcome, error) {
		if _, err := ix.MetadataTypes().Add(ctx, metadataType()); err != nil {
			return txn.Complete, err
		}
		return txn.RequestRollback, nil
	})
	require.NoError(t, err)
	assert.Equal(t, txn.RequestRollback, outcome)

	_, err = ix.MetadataTypes().Get(ctx, "eo3")
	assert.True(t, core.IsNotFound(err))

	_, err = ix.Transaction(ctx, func(ctx context.Context) (txn.Outcome, error) {
		_, err := ix.MetadataTypes().Add(ctx, metadataType())
		return txn.RequestCommit, err
	})
	require.NoError(t, err)
	_, err = ix.MetadataTypes().Get(ctx, "eo3")
	assert.NoError(t, err)
}
