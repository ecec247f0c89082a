package core

import (
	"context"
	"iter"

	"github.com/google/uuid"

	"github.com/leapstack-labs/provcat/pkg/lineage"
	"github.com/leapstack-labs/provcat/pkg/txn"
)

// MetadataTypeResource manages metadata types.
type MetadataTypeResource interface {
	// Add stores mt, or returns the stored copy when an identical one exists.
	// A differing stored copy yields a *DocumentMismatchError.
	Add(ctx context.Context, mt *MetadataType) (*MetadataType, error)
	Get(ctx context.Context, name string) (*MetadataType, error)
	GetAll(ctx context.Context) iter.Seq2[*MetadataType, error]
	BulkAdd(ctx context.Context, items iter.Seq[*MetadataType], batchSize int) (BatchStatus, error)
}

// ProductResource manages products.
type ProductResource interface {
	// Add stores p. A metadata type that is referenced but not stored is
	// added first when p embeds its definition.
	Add(ctx context.Context, p *Product) (*Product, error)
	Get(ctx context.Context, name string) (*Product, error)
	GetAll(ctx context.Context) iter.Seq2[*Product, error]
	BulkAdd(ctx context.Context, items iter.Seq[*Product], batchSize int) (BatchStatus, error)
}

// DatasetResource manages datasets.
type DatasetResource interface {
	// Add stores ds after its inline sources (depth first). With
	// withLineage the dataset's source relations are recorded too.
	Add(ctx context.Context, ds *Dataset, withLineage bool) (*Dataset, error)
	// Ingest is Add that reports whether ds was newly stored. An identical
	// dataset already in the index yields false and no error.
	Ingest(ctx context.Context, ds *Dataset, withLineage bool) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*Dataset, error)
	Has(ctx context.Context, id uuid.UUID) (bool, error)
	Archive(ctx context.Context, ids ...uuid.UUID) (int, error)
	Restore(ctx context.Context, ids ...uuid.UUID) (int, error)
	// Purge deletes datasets together with their lineage and homes.
	Purge(ctx context.Context, ids ...uuid.UUID) (int, error)
	// GetAll yields every dataset, archived ones included, ordered by id.
	GetAll(ctx context.Context) iter.Seq2[*Dataset, error]
	BulkAdd(ctx context.Context, items iter.Seq[*Dataset], batchSize int) (BatchStatus, error)
}

// LineageResource manages the provenance graph.
type LineageResource interface {
	GetDerivedTree(ctx context.Context, id uuid.UUID, maxDepth int) (*lineage.Tree, error)
	GetSourceTree(ctx context.Context, id uuid.UUID, maxDepth int) (*lineage.Tree, error)
	// Add merges tree down to maxDepth (0 = unlimited).
	Add(ctx context.Context, tree *lineage.Tree, maxDepth int, allowUpdates bool) error
	// Merge reconciles rels with the stored graph. Without allowUpdates any
	// classifier or home that would be overwritten is rejected; with
	// validateOnly nothing is written.
	Merge(ctx context.Context, rels *lineage.Relations, allowUpdates, validateOnly bool) error
	// Remove deletes the relations of the tree rooted at id.
	Remove(ctx context.Context, id uuid.UUID, direction lineage.Direction, maxDepth int) error
	SetHome(ctx context.Context, home string, ids []uuid.UUID, allowUpdates bool) (int, error)
	// ClearHome removes homes of ids; a non-empty home limits removal to that home.
	ClearHome(ctx context.Context, ids []uuid.UUID, home string) (int, error)
	GetHomes(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]string, error)
	GetAllLineage(ctx context.Context, batchSize int) iter.Seq2[lineage.Relation, error]
	BulkAdd(ctx context.Context, rels iter.Seq[lineage.Relation], batchSize int) (BatchStatus, error)
}

// Index is the entry point to one catalog backend.
type Index interface {
	Name() string
	MetadataTypes() MetadataTypeResource
	Products() ProductResource
	Datasets() DatasetResource
	Lineage() LineageResource
	// Transaction runs fn in a transaction scope; resource calls made with
	// the context passed to fn join it.
	Transaction(ctx context.Context, fn func(ctx context.Context) (txn.Outcome, error)) (txn.Outcome, error)
	// Begin starts an explicit transaction. Resource calls made with the
	// returned context join it until it is committed or rolled back.
	Begin(ctx context.Context) (context.Context, *txn.Transaction, error)
	// Init creates or migrates the backend schema.
	Init(ctx context.Context) error
	Close() error
}
