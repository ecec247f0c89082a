// Package store defines the connection-level persistence contract the
// generic catalog resources are written against. Each backend supplies a
// Backend that opens Conn values; every Conn holds one open transaction.
//
// Stores never enforce lineage consistency themselves; the resources load
// the affected neighbourhood into a lineage.Relations, validate there, and
// only then write.
package store

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/lineage"
	"github.com/leapstack-labs/provcat/pkg/txn"
)

// MetadataTypeStore persists metadata types.
type MetadataTypeStore interface {
	// InsertMetadataType stores mt, returning false if the name already exists.
	InsertMetadataType(ctx context.Context, mt *core.MetadataType) (bool, error)
	// GetMetadataType returns a *core.NotFoundError when absent.
	GetMetadataType(ctx context.Context, name string) (*core.MetadataType, error)
	ListMetadataTypes(ctx context.Context) ([]*core.MetadataType, error)
}

// ProductStore persists products.
type ProductStore interface {
	// InsertProduct stores p, returning false if the name already exists.
	InsertProduct(ctx context.Context, p *core.Product) (bool, error)
	// GetProduct returns a *core.NotFoundError when absent.
	GetProduct(ctx context.Context, name string) (*core.Product, error)
	ListProducts(ctx context.Context) ([]*core.Product, error)
}

// DatasetStore persists datasets.
type DatasetStore interface {
	// InsertDataset stores ds, returning false if the id already exists.
	InsertDataset(ctx context.Context, ds *core.Dataset) (bool, error)
	// GetDataset returns a *core.NotFoundError when absent.
	GetDataset(ctx context.Context, id uuid.UUID) (*core.Dataset, error)
	// HasDatasets reports which of ids exist, archived or not.
	HasDatasets(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error)
	ArchiveDatasets(ctx context.Context, ids []uuid.UUID, at time.Time) (int, error)
	RestoreDatasets(ctx context.Context, ids []uuid.UUID) (int, error)
	DeleteDatasets(ctx context.Context, ids []uuid.UUID) (int, error)
	// ListDatasets returns up to limit datasets with ids greater than after,
	// ordered by id.
	ListDatasets(ctx context.Context, after uuid.UUID, limit int) ([]*core.Dataset, error)
}

// LineageStore persists lineage relations and dataset homes.
type LineageStore interface {
	// LoadLineageRelations yields the relations reachable from roots in
	// direction, at most maxDepth edges away (0 = unlimited).
	LoadLineageRelations(ctx context.Context, roots []uuid.UUID, direction lineage.Direction, maxDepth int) iter.Seq2[lineage.Relation, error]
	// GetAllRelations yields every relation with either endpoint in ids.
	GetAllRelations(ctx context.Context, ids []uuid.UUID) iter.Seq2[lineage.Relation, error]
	SelectHomes(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
	// InsertHome records home for ids. Existing homes are overwritten only
	// when allowUpdates is set. Returns the number of rows written.
	InsertHome(ctx context.Context, home string, ids []uuid.UUID, allowUpdates bool) (int, error)
	// DeleteHome removes the homes of ids; a non-empty home limits removal
	// to ids recorded with that home.
	DeleteHome(ctx context.Context, ids []uuid.UUID, home string) (int, error)
	// WriteRelations inserts rels; existing pairs get their classifier
	// overwritten only when allowUpdates is set.
	WriteRelations(ctx context.Context, rels []lineage.Relation, allowUpdates bool) error
	RemoveRelations(ctx context.Context, rels []lineage.Relation) (int, error)
	// InsertLineageBulk inserts rels without consistency checks, skipping
	// pairs that already exist.
	InsertLineageBulk(ctx context.Context, rels []lineage.Relation) (added, skipped int, err error)
	// ListLineage returns up to limit relations ordered by (derived, source)
	// id, starting after the given pair. A zero pair starts at the beginning.
	ListLineage(ctx context.Context, after lineage.IDPair, limit int) ([]lineage.Relation, error)
}

// Conn is one backend connection holding an open transaction.
type Conn interface {
	txn.Conn
	MetadataTypeStore
	ProductStore
	DatasetStore
	LineageStore
}

// Backend opens connections. Begin must return a Conn.
type Backend interface {
	txn.Connector
	// Init creates or migrates the backend's schema.
	Init(ctx context.Context) error
	Close() error
}
