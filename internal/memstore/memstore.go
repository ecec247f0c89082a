// Package memstore is an in-process store.Backend. Each transaction works
// on a private copy of the catalog; a commit publishes the copy if no other
// write was committed since it began.
package memstore

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/lineage"
	"github.com/leapstack-labs/provcat/pkg/store"
	"github.com/leapstack-labs/provcat/pkg/txn"
)

// ErrClosed is returned when beginning a transaction on a closed backend.
var ErrClosed = errors.New("memory store closed")

type state struct {
	version       uint64
	metadataTypes map[string]*core.MetadataType
	products      map[string]*core.Product
	datasets      map[uuid.UUID]*core.Dataset
	relations     map[lineage.IDPair]string
	homes         map[uuid.UUID]string
}

func newState() *state {
	return &state{
		metadataTypes: make(map[string]*core.MetadataType),
		products:      make(map[string]*core.Product),
		datasets:      make(map[uuid.UUID]*core.Dataset),
		relations:     make(map[lineage.IDPair]string),
		homes:         make(map[uuid.UUID]string),
	}
}

// clone copies the maps. Stored values are never mutated in place, so the
// pointers can be shared.
func (s *state) clone() *state {
	return &state{
		version:       s.version,
		metadataTypes: maps.Clone(s.metadataTypes),
		products:      maps.Clone(s.products),
		datasets:      maps.Clone(s.datasets),
		relations:     maps.Clone(s.relations),
		homes:         maps.Clone(s.homes),
	}
}

// Backend holds the committed catalog.
type Backend struct {
	mu     sync.RWMutex
	state  *state
	closed bool
	logger *slog.Logger
}

var _ store.Backend = (*Backend)(nil)

// New returns an empty backend. A nil logger discards output.
func New(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{state: newState(), logger: logger}
}

// Init is a no-op; the catalog needs no schema.
func (b *Backend) Init(context.Context) error { return nil }

// Close discards the catalog.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.state = newState()
	return nil
}

// Begin opens a transaction on a snapshot of the committed catalog.
func (b *Backend) Begin(context.Context) (txn.Conn, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	return &Conn{backend: b, s: b.state.clone()}, nil
}

// Conn is one transaction over a private snapshot.
type Conn struct {
	backend *Backend
	s       *state
	dirty   bool
	done    bool
}

var _ store.Conn = (*Conn)(nil)

// Commit publishes the snapshot. It fails with a conflict when another
// transaction committed a write after this one began.
func (c *Conn) Commit(context.Context) error {
	if c.done {
		return txn.ErrNotActive
	}
	c.done = true
	if !c.dirty {
		return nil
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if c.backend.state.version != c.s.version {
		return core.ErrConflict("concurrent transaction committed first")
	}
	c.s.version++
	c.backend.state = c.s
	c.backend.logger.Debug("committed", slog.Uint64("version", c.s.version))
	return nil
}

// Rollback drops the snapshot.
func (c *Conn) Rollback(context.Context) error {
	if c.done {
		return txn.ErrNotActive
	}
	c.done = true
	c.s = nil
	return nil
}

func (c *Conn) InsertMetadataType(_ context.Context, mt *core.MetadataType) (bool, error) {
	if _, ok := c.s.metadataTypes[mt.Name]; ok {
		return false, nil
	}
	stored := *mt
	c.s.metadataTypes[mt.Name] = &stored
	c.dirty = true
	return true, nil
}

func (c *Conn) GetMetadataType(_ context.Context, name string) (*core.MetadataType, error) {
	mt, ok := c.s.metadataTypes[name]
	if !ok {
		return nil, core.ErrNotFound("metadata type", name)
	}
	out := *mt
	return &out, nil
}

func (c *Conn) ListMetadataTypes(context.Context) ([]*core.MetadataType, error) {
	out := make([]*core.MetadataType, 0, len(c.s.metadataTypes))
	for _, name := range slices.Sorted(maps.Keys(c.s.metadataTypes)) {
		mt := *c.s.metadataTypes[name]
		out = append(out, &mt)
	}
	return out, nil
}

func (c *Conn) InsertProduct(_ context.Context, p *core.Product) (bool, error) {
	if _, ok := c.s.products[p.Name]; ok {
		return false, nil
	}
	stored := *p
	stored.MetadataTypeDefinition = nil
	c.s.products[p.Name] = &stored
	c.dirty = true
	return true, nil
}

func (c *Conn) GetProduct(_ context.Context, name string) (*core.Product, error) {
	p, ok := c.s.products[name]
	if !ok {
		return nil, core.ErrNotFound("product", name)
	}
	out := *p
	return &out, nil
}

func (c *Conn) ListProducts(context.Context) ([]*core.Product, error) {
	out := make([]*core.Product, 0, len(c.s.products))
	for _, name := range slices.Sorted(maps.Keys(c.s.products)) {
		p := *c.s.products[name]
		out = append(out, &p)
	}
	return out, nil
}

func (c *Conn) InsertDataset(_ context.Context, ds *core.Dataset) (bool, error) {
	if _, ok := c.s.datasets[ds.ID]; ok {
		return false, nil
	}
	stored := *ds
	stored.Sources = nil
	stored.URIs = slices.Clone(ds.URIs)
	c.s.datasets[ds.ID] = &stored
	c.dirty = true
	return true, nil
}

func (c *Conn) GetDataset(_ context.Context, id uuid.UUID) (*core.Dataset, error) {
	ds, ok := c.s.datasets[id]
	if !ok {
		return nil, core.ErrNotFound("dataset", id.String())
	}
	return c.withHome(copyDataset(ds)), nil
}

func (c *Conn) withHome(ds *core.Dataset) *core.Dataset {
	ds.Home = c.s.homes[ds.ID]
	return ds
}

func copyDataset(ds *core.Dataset) *core.Dataset {
	out := *ds
	out.URIs = slices.Clone(ds.URIs)
	if ds.ArchivedAt != nil {
		at := *ds.ArchivedAt
		out.ArchivedAt = &at
	}
	return &out
}

func (c *Conn) HasDatasets(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		_, out[id] = c.s.datasets[id]
	}
	return out, nil
}

// updateDatasets replaces each dataset in ids for which fn reports a change.
func (c *Conn) updateDatasets(ids []uuid.UUID, fn func(*core.Dataset) bool) int {
	n := 0
	for _, id := range uniqueIDs(ids) {
		ds, ok := c.s.datasets[id]
		if !ok {
			continue
		}
		updated := copyDataset(ds)
		if !fn(updated) {
			continue
		}
		c.s.datasets[id] = updated
		c.dirty = true
		n++
	}
	return n
}

func (c *Conn) ArchiveDatasets(_ context.Context, ids []uuid.UUID, at time.Time) (int, error) {
	return c.updateDatasets(ids, func(ds *core.Dataset) bool {
		if ds.ArchivedAt != nil {
			return false
		}
		ds.ArchivedAt = &at
		return true
	}), nil
}

func (c *Conn) RestoreDatasets(_ context.Context, ids []uuid.UUID) (int, error) {
	return c.updateDatasets(ids, func(ds *core.Dataset) bool {
		if ds.ArchivedAt == nil {
			return false
		}
		ds.ArchivedAt = nil
		return true
	}), nil
}

func (c *Conn) DeleteDatasets(_ context.Context, ids []uuid.UUID) (int, error) {
	n := 0
	for _, id := range uniqueIDs(ids) {
		if _, ok := c.s.datasets[id]; ok {
			delete(c.s.datasets, id)
			c.dirty = true
			n++
		}
	}
	return n, nil
}

func (c *Conn) ListDatasets(_ context.Context, after uuid.UUID, limit int) ([]*core.Dataset, error) {
	ids := slices.SortedFunc(maps.Keys(c.s.datasets), compareIDs)
	start, _ := slices.BinarySearchFunc(ids, after, compareIDs)
	if start < len(ids) && ids[start] == after {
		start++
	}
	end := min(start+limit, len(ids))
	out := make([]*core.Dataset, 0, end-start)
	for _, id := range ids[start:end] {
		out = append(out, c.withHome(copyDataset(c.s.datasets[id])))
	}
	return out, nil
}

// LoadLineageRelations walks the relation graph breadth first from roots.
func (c *Conn) LoadLineageRelations(_ context.Context, roots []uuid.UUID, direction lineage.Direction, maxDepth int) iter.Seq2[lineage.Relation, error] {
	adj := c.adjacency(direction)
	return func(yield func(lineage.Relation, error) bool) {
		seen := make(map[uuid.UUID]struct{}, len(roots))
		frontier := uniqueIDs(roots)
		for _, id := range frontier {
			seen[id] = struct{}{}
		}
		for depth := 1; len(frontier) > 0 && (maxDepth <= 0 || depth <= maxDepth); depth++ {
			var next []uuid.UUID
			for _, id := range frontier {
				for _, rel := range adj[id] {
					if !yield(rel, nil) {
						return
					}
					other := rel.SourceID
					if direction == lineage.Derived {
						other = rel.DerivedID
					}
					if _, ok := seen[other]; !ok {
						seen[other] = struct{}{}
						next = append(next, other)
					}
				}
			}
			frontier = next
		}
	}
}

// adjacency indexes the relations by the endpoint a walk in direction
// starts from, each list ordered by the other endpoint.
func (c *Conn) adjacency(direction lineage.Direction) map[uuid.UUID][]lineage.Relation {
	adj := make(map[uuid.UUID][]lineage.Relation)
	for _, pair := range sortedPairs(c.s.relations) {
		rel := lineage.Relation{Classifier: c.s.relations[pair], SourceID: pair.SourceID, DerivedID: pair.DerivedID}
		from := pair.DerivedID
		if direction == lineage.Derived {
			from = pair.SourceID
		}
		adj[from] = append(adj[from], rel)
	}
	return adj
}

func (c *Conn) GetAllRelations(_ context.Context, ids []uuid.UUID) iter.Seq2[lineage.Relation, error] {
	want := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var rels []lineage.Relation
	for _, pair := range sortedPairs(c.s.relations) {
		_, d := want[pair.DerivedID]
		_, s := want[pair.SourceID]
		if d || s {
			rels = append(rels, lineage.Relation{Classifier: c.s.relations[pair], SourceID: pair.SourceID, DerivedID: pair.DerivedID})
		}
	}
	return func(yield func(lineage.Relation, error) bool) {
		for _, rel := range rels {
			if !yield(rel, nil) {
				return
			}
		}
	}
}

func (c *Conn) SelectHomes(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string)
	for _, id := range ids {
		if home, ok := c.s.homes[id]; ok {
			out[id] = home
		}
	}
	return out, nil
}

func (c *Conn) InsertHome(_ context.Context, home string, ids []uuid.UUID, allowUpdates bool) (int, error) {
	n := 0
	for _, id := range uniqueIDs(ids) {
		current, ok := c.s.homes[id]
		if ok && (!allowUpdates || current == home) {
			continue
		}
		c.s.homes[id] = home
		c.dirty = true
		n++
	}
	return n, nil
}

func (c *Conn) DeleteHome(_ context.Context, ids []uuid.UUID, home string) (int, error) {
	n := 0
	for _, id := range uniqueIDs(ids) {
		current, ok := c.s.homes[id]
		if !ok || (home != "" && current != home) {
			continue
		}
		delete(c.s.homes, id)
		c.dirty = true
		n++
	}
	return n, nil
}

func (c *Conn) WriteRelations(_ context.Context, rels []lineage.Relation, allowUpdates bool) error {
	for _, rel := range rels {
		pair := rel.Pair()
		if current, ok := c.s.relations[pair]; ok && (!allowUpdates || current == rel.Classifier) {
			continue
		}
		c.s.relations[pair] = rel.Classifier
		c.dirty = true
	}
	return nil
}

func (c *Conn) RemoveRelations(_ context.Context, rels []lineage.Relation) (int, error) {
	n := 0
	for _, rel := range rels {
		pair := rel.Pair()
		if _, ok := c.s.relations[pair]; ok {
			delete(c.s.relations, pair)
			c.dirty = true
			n++
		}
	}
	return n, nil
}

func (c *Conn) InsertLineageBulk(_ context.Context, rels []lineage.Relation) (added, skipped int, err error) {
	for _, rel := range rels {
		pair := rel.Pair()
		if _, ok := c.s.relations[pair]; ok {
			skipped++
			continue
		}
		c.s.relations[pair] = rel.Classifier
		c.dirty = true
		added++
	}
	return added, skipped, nil
}

func (c *Conn) ListLineage(_ context.Context, after lineage.IDPair, limit int) ([]lineage.Relation, error) {
	pairs := sortedPairs(c.s.relations)
	start, found := slices.BinarySearchFunc(pairs, after, comparePairs)
	if found {
		start++
	}
	end := min(start+limit, len(pairs))
	out := make([]lineage.Relation, 0, end-start)
	for _, pair := range pairs[start:end] {
		out = append(out, lineage.Relation{Classifier: c.s.relations[pair], SourceID: pair.SourceID, DerivedID: pair.DerivedID})
	}
	return out, nil
}
