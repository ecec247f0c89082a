package lineage

import (
	"bytes"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// IDPair identifies an edge independently of its classifier.
type IDPair struct {
	DerivedID uuid.UUID
	SourceID  uuid.UUID
}

func (p IDPair) String() string {
	return fmt.Sprintf("%s <- %s", p.DerivedID, p.SourceID)
}

// Relation is one directed provenance edge: DerivedID was derived from
// SourceID in the role named by Classifier.
type Relation struct {
	Classifier string
	SourceID   uuid.UUID
	DerivedID  uuid.UUID
}

// Pair returns the relation's endpoints.
func (r Relation) Pair() IDPair {
	return IDPair{DerivedID: r.DerivedID, SourceID: r.SourceID}
}

// Relations is an indexed, consistency-checked collection of lineage
// relations and dataset homes. It is scratch state for a single catalog
// operation and is not safe for concurrent use.
type Relations struct {
	relations  map[IDPair]string
	bySource   map[uuid.UUID]map[uuid.UUID]string // source -> derived -> classifier
	byDerived  map[uuid.UUID]map[uuid.UUID]string // derived -> source -> classifier
	homes      map[uuid.UUID]string
	datasetIDs map[uuid.UUID]struct{}
}

// Option configures NewRelations.
type Option func(*relationsOptions)

type relationsOptions struct {
	tree      *Tree
	maxDepth  int
	relations []Relation
	seqs      []iter.Seq2[Relation, error]
	homes     map[uuid.UUID]string
	clone     *Relations
}

// WithTree flattens tree into the collection down to maxDepth (0 = unlimited).
func WithTree(tree *Tree, maxDepth int) Option {
	return func(o *relationsOptions) {
		o.tree = tree
		o.maxDepth = maxDepth
	}
}

// WithRelations merges the given relations.
func WithRelations(rels ...Relation) Option {
	return func(o *relationsOptions) {
		o.relations = append(o.relations, rels...)
	}
}

// WithRelationSeq merges every relation yielded by seq.
func WithRelationSeq(seq iter.Seq2[Relation, error]) Option {
	return func(o *relationsOptions) {
		o.seqs = append(o.seqs, seq)
	}
}

// WithHomes merges dataset homes.
func WithHomes(homes map[uuid.UUID]string) Option {
	return func(o *relationsOptions) {
		if o.homes == nil {
			o.homes = make(map[uuid.UUID]string, len(homes))
		}
		maps.Copy(o.homes, homes)
	}
}

// CloneOf merges everything held by other.
func CloneOf(other *Relations) Option {
	return func(o *relationsOptions) {
		o.clone = other
	}
}

// NewRelations builds a collection. Sources are merged in a fixed order
// regardless of the order the options are given in: tree, relations,
// homes, clone.
func NewRelations(opts ...Option) (*Relations, error) {
	var o relationsOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := newRelations()
	if o.tree != nil {
		if err := r.MergeTree(o.tree, o.maxDepth); err != nil {
			return nil, err
		}
	}
	for _, rel := range o.relations {
		if err := r.MergeRelation(rel); err != nil {
			return nil, err
		}
	}
	for _, seq := range o.seqs {
		for rel, err := range seq {
			if err != nil {
				return nil, fmt.Errorf("failed to read lineage relations: %w", err)
			}
			if err := r.MergeRelation(rel); err != nil {
				return nil, err
			}
		}
	}
	for _, id := range sortedIDs(maps.Keys(o.homes)) {
		if err := r.MergeHome(id, o.homes[id]); err != nil {
			return nil, err
		}
	}
	if o.clone != nil {
		if err := r.Merge(o.clone); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func newRelations() *Relations {
	return &Relations{
		relations:  make(map[IDPair]string),
		bySource:   make(map[uuid.UUID]map[uuid.UUID]string),
		byDerived:  make(map[uuid.UUID]map[uuid.UUID]string),
		homes:      make(map[uuid.UUID]string),
		datasetIDs: make(map[uuid.UUID]struct{}),
	}
}

// Clone returns an independent copy.
func (r *Relations) Clone() *Relations {
	c := &Relations{
		relations:  maps.Clone(r.relations),
		bySource:   make(map[uuid.UUID]map[uuid.UUID]string, len(r.bySource)),
		byDerived:  make(map[uuid.UUID]map[uuid.UUID]string, len(r.byDerived)),
		homes:      maps.Clone(r.homes),
		datasetIDs: maps.Clone(r.datasetIDs),
	}
	for id, m := range r.bySource {
		c.bySource[id] = maps.Clone(m)
	}
	for id, m := range r.byDerived {
		c.byDerived[id] = maps.Clone(m)
	}
	return c
}

// stage runs fn against a copy and keeps the result only when fn succeeds.
func (r *Relations) stage(fn func(*Relations) error) error {
	staged := r.Clone()
	if err := fn(staged); err != nil {
		return err
	}
	*r = *staged
	return nil
}

// MergeHome records the home of id. An empty home is ignored; a different
// home for an id that already has one is an error.
func (r *Relations) MergeHome(id uuid.UUID, home string) error {
	if home == "" {
		return nil
	}
	if existing, ok := r.homes[id]; ok && existing != home {
		return inconsistent(id, "conflicting homes %q and %q", existing, home)
	}
	r.homes[id] = home
	r.datasetIDs[id] = struct{}{}
	return nil
}

// MergeRelation adds one relation. Re-adding a relation with the same
// classifier is a no-op. A different classifier for an existing pair, a
// self-reference or an edge that closes a cycle is rejected and leaves the
// collection unchanged.
func (r *Relations) MergeRelation(rel Relation) error {
	if rel.SourceID == rel.DerivedID {
		return inconsistent(rel.DerivedID, "dataset cannot be derived from itself (classifier %q)", rel.Classifier)
	}
	pair := rel.Pair()
	if existing, ok := r.relations[pair]; ok {
		if existing != rel.Classifier {
			return inconsistent(rel.DerivedID, "source %s already recorded with classifier %q, not %q",
				rel.SourceID, existing, rel.Classifier)
		}
		return nil
	}

	_, sourceKnown := r.datasetIDs[rel.SourceID]
	_, derivedKnown := r.datasetIDs[rel.DerivedID]

	r.insert(rel)

	if !sourceKnown && !derivedKnown {
		return nil
	}
	// The new edge closes a cycle iff the derived dataset is already
	// upstream of the source.
	path := r.findPath(rel.SourceID, rel.DerivedID, Sources)
	if path == nil {
		return nil
	}
	r.remove(pair)
	if !sourceKnown {
		delete(r.datasetIDs, rel.SourceID)
	}
	if !derivedKnown {
		delete(r.datasetIDs, rel.DerivedID)
	}
	return inconsistent(rel.DerivedID, "relation to %s (classifier %q) would create a cycle: %s; lineage must be acyclic",
		rel.SourceID, rel.Classifier, formatPath(append([]uuid.UUID{rel.DerivedID}, path...)))
}

func (r *Relations) insert(rel Relation) {
	r.relations[rel.Pair()] = rel.Classifier
	if r.bySource[rel.SourceID] == nil {
		r.bySource[rel.SourceID] = make(map[uuid.UUID]string)
	}
	r.bySource[rel.SourceID][rel.DerivedID] = rel.Classifier
	if r.byDerived[rel.DerivedID] == nil {
		r.byDerived[rel.DerivedID] = make(map[uuid.UUID]string)
	}
	r.byDerived[rel.DerivedID][rel.SourceID] = rel.Classifier
	r.datasetIDs[rel.SourceID] = struct{}{}
	r.datasetIDs[rel.DerivedID] = struct{}{}
}

func (r *Relations) remove(pair IDPair) {
	delete(r.relations, pair)
	delete(r.bySource[pair.SourceID], pair.DerivedID)
	if len(r.bySource[pair.SourceID]) == 0 {
		delete(r.bySource, pair.SourceID)
	}
	delete(r.byDerived[pair.DerivedID], pair.SourceID)
	if len(r.byDerived[pair.DerivedID]) == 0 {
		delete(r.byDerived, pair.DerivedID)
	}
}

// neighbours returns the adjacent ids of id in the given direction.
func (r *Relations) neighbours(id uuid.UUID, dir Direction) map[uuid.UUID]string {
	if dir == Sources {
		return r.byDerived[id]
	}
	return r.bySource[id]
}

// findPath returns the ids on a walk from "from" to "to" following dir, or
// nil when "to" is unreachable.
func (r *Relations) findPath(from, to uuid.UUID, dir Direction) []uuid.UUID {
	visited := make(map[uuid.UUID]struct{})
	var path []uuid.UUID
	var walk func(id uuid.UUID) bool
	walk = func(id uuid.UUID) bool {
		path = append(path, id)
		if id == to {
			return true
		}
		visited[id] = struct{}{}
		for _, next := range sortedIDs(maps.Keys(r.neighbours(id, dir))) {
			if _, seen := visited[next]; seen {
				continue
			}
			if walk(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	if walk(from) {
		return path
	}
	return nil
}

// checkAcyclicFrom walks every path from root in dir and fails if any id
// is revisited on its own path.
func (r *Relations) checkAcyclicFrom(root uuid.UUID, dir Direction) error {
	onPath := make(map[uuid.UUID]struct{})
	done := make(map[uuid.UUID]struct{})
	var walk func(id uuid.UUID) error
	walk = func(id uuid.UUID) error {
		if _, ok := onPath[id]; ok {
			return inconsistent(id, "dataset reaches itself through its %s: lineage must be acyclic", dir)
		}
		if _, ok := done[id]; ok {
			return nil
		}
		onPath[id] = struct{}{}
		for next := range r.neighbours(id, dir) {
			if err := walk(next); err != nil {
				return err
			}
		}
		delete(onPath, id)
		done[id] = struct{}{}
		return nil
	}
	return walk(root)
}

// Merge merges the homes and relations of other. On error the collection
// is left unchanged.
func (r *Relations) Merge(other *Relations) error {
	if other == r {
		return nil
	}
	return r.stage(func(s *Relations) error {
		for _, id := range sortedIDs(maps.Keys(other.homes)) {
			if err := s.MergeHome(id, other.homes[id]); err != nil {
				return err
			}
		}
		for _, rel := range other.Relations() {
			if err := s.MergeRelation(rel); err != nil {
				return err
			}
		}
		return nil
	})
}

// MergeTree flattens tree into the collection down to maxDepth levels
// (0 = unlimited). The tree must itself be acyclic, and a dataset may carry
// populated children at most once within it. On error the collection is
// left unchanged.
func (r *Relations) MergeTree(tree *Tree, maxDepth int) error {
	if _, err := tree.ChildDatasets(); err != nil {
		return err
	}
	return r.stage(func(s *Relations) error {
		return s.mergeTree(tree, maxDepth, make(map[uuid.UUID]*Tree))
	})
}

func (r *Relations) mergeTree(node *Tree, depth int, nodes map[uuid.UUID]*Tree) error {
	if prev, seen := nodes[node.DatasetID]; seen && prev != node {
		if prev.Children.Populated() && node.Children.Populated() {
			return inconsistent(node.DatasetID, "tree declares the %s of this dataset more than once", node.Direction)
		}
	}
	if _, seen := nodes[node.DatasetID]; !seen || node.Children.Populated() {
		nodes[node.DatasetID] = node
	}

	if err := r.MergeHome(node.DatasetID, node.Home); err != nil {
		return err
	}

	if !node.Children.Fetched() {
		// Not a confirmed leaf: whatever already lies beyond it must not
		// lead back into this tree.
		return r.checkAcyclicFrom(node.DatasetID, node.Direction.Opposite())
	}

	for classifier, child := range node.Children.All() {
		rel := Relation{Classifier: classifier, SourceID: child.DatasetID, DerivedID: node.DatasetID}
		if node.Direction == Derived {
			rel.SourceID, rel.DerivedID = node.DatasetID, child.DatasetID
		}
		if err := r.MergeRelation(rel); err != nil {
			return err
		}
		if depth == 1 {
			if err := r.MergeHome(child.DatasetID, child.Home); err != nil {
				return err
			}
			continue
		}
		next := depth
		if depth > 1 {
			next = depth - 1
		}
		if err := r.mergeTree(child, next, nodes); err != nil {
			return err
		}
	}
	return nil
}

// ExtractTree rebuilds the tree rooted at root by walking the collection in
// direction. A dataset reached a second time (a diamond) is returned as an
// unfetched stub rather than expanded again. Children are ordered by id.
func (r *Relations) ExtractTree(root uuid.UUID, direction Direction) (*Tree, error) {
	return r.extractTree(root, direction, map[uuid.UUID]struct{}{}, map[uuid.UUID]struct{}{})
}

func (r *Relations) extractTree(id uuid.UUID, dir Direction, parents, soFar map[uuid.UUID]struct{}) (*Tree, error) {
	if _, ok := parents[id]; ok {
		return nil, inconsistent(id, "dataset is its own %s ancestor: lineage must be acyclic", dir)
	}
	if _, ok := soFar[id]; ok {
		return &Tree{DatasetID: id, Direction: dir, Home: r.homes[id]}, nil
	}
	soFar[id] = struct{}{}

	tree := &Tree{DatasetID: id, Direction: dir, Home: r.homes[id]}
	adjacent := r.neighbours(id, dir)
	if len(adjacent) == 0 {
		tree.Children = Known(nil)
		return tree, nil
	}

	childParents := maps.Clone(parents)
	childParents[id] = struct{}{}
	byClassifier := make(map[string][]*Tree)
	for _, childID := range sortedIDs(maps.Keys(adjacent)) {
		child, err := r.extractTree(childID, dir, childParents, soFar)
		if err != nil {
			return nil, err
		}
		classifier := adjacent[childID]
		byClassifier[classifier] = append(byClassifier[classifier], child)
	}
	tree.Children = Known(byClassifier)
	return tree, nil
}

// Relations returns every relation ordered by derived id, then source id.
func (r *Relations) Relations() []Relation {
	pairs := slices.Collect(maps.Keys(r.relations))
	slices.SortFunc(pairs, comparePairs)
	out := make([]Relation, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, Relation{Classifier: r.relations[p], SourceID: p.SourceID, DerivedID: p.DerivedID})
	}
	return out
}

// All yields every relation in the order of Relations.
func (r *Relations) All() iter.Seq[Relation] {
	return slices.Values(r.Relations())
}

// Homes returns a copy of the recorded homes.
func (r *Relations) Homes() map[uuid.UUID]string {
	return maps.Clone(r.homes)
}

// DatasetIDs returns every id seen, sorted.
func (r *Relations) DatasetIDs() []uuid.UUID {
	return sortedIDs(maps.Keys(r.datasetIDs))
}

// Len returns the number of relations.
func (r *Relations) Len() int { return len(r.relations) }

// Has reports whether id appears in any relation or home.
func (r *Relations) Has(id uuid.UUID) bool {
	_, ok := r.datasetIDs[id]
	return ok
}

// Classifier returns the classifier recorded for pair.
func (r *Relations) Classifier(pair IDPair) (string, bool) {
	c, ok := r.relations[pair]
	return c, ok
}

// SourcesOf returns the direct sources of id keyed by source id.
func (r *Relations) SourcesOf(id uuid.UUID) map[uuid.UUID]string {
	return maps.Clone(r.byDerived[id])
}

// DerivedOf returns the datasets directly derived from id.
func (r *Relations) DerivedOf(id uuid.UUID) map[uuid.UUID]string {
	return maps.Clone(r.bySource[id])
}

// Equal reports whether both collections hold the same relations and homes.
func (r *Relations) Equal(other *Relations) bool {
	return maps.Equal(r.relations, other.relations) && maps.Equal(r.homes, other.homes)
}

func compareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

func comparePairs(a, b IDPair) int {
	if c := compareIDs(a.DerivedID, b.DerivedID); c != 0 {
		return c
	}
	return compareIDs(a.SourceID, b.SourceID)
}

func sortedIDs(seq iter.Seq[uuid.UUID]) []uuid.UUID {
	return slices.SortedFunc(seq, compareIDs)
}

func formatPath(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, " -> ")
}
