package lineage

import (
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/google/uuid"
)

// Children holds the children of a tree node. A node either has not had its
// children fetched (Unfetched) or has a known, possibly empty, set of
// children grouped by classifier (Known).
type Children struct {
	fetched      bool
	byClassifier map[string][]*Tree
}

// Unfetched returns children that were never looked up.
func Unfetched() Children {
	return Children{}
}

// Known returns fetched children. Classifiers with no children are dropped;
// a nil or empty map yields a known-empty set.
func Known(byClassifier map[string][]*Tree) Children {
	c := Children{fetched: true, byClassifier: make(map[string][]*Tree, len(byClassifier))}
	for classifier, trees := range byClassifier {
		if len(trees) > 0 {
			c.byClassifier[classifier] = trees
		}
	}
	return c
}

// Fetched reports whether the children are known.
func (c Children) Fetched() bool { return c.fetched }

// Populated reports whether the children are known and non-empty.
func (c Children) Populated() bool { return c.fetched && len(c.byClassifier) > 0 }

// Classifiers returns the classifiers in sorted order.
func (c Children) Classifiers() []string {
	return slices.Sorted(maps.Keys(c.byClassifier))
}

// Get returns the children recorded under a classifier.
func (c Children) Get(classifier string) []*Tree {
	return c.byClassifier[classifier]
}

// All yields (classifier, child) pairs, classifiers in sorted order and
// children in their recorded order.
func (c Children) All() iter.Seq2[string, *Tree] {
	return func(yield func(string, *Tree) bool) {
		for _, classifier := range c.Classifiers() {
			for _, child := range c.byClassifier[classifier] {
				if !yield(classifier, child) {
					return
				}
			}
		}
	}
}

// Len returns the total number of children across all classifiers.
func (c Children) Len() int {
	n := 0
	for _, trees := range c.byClassifier {
		n += len(trees)
	}
	return n
}

// Tree is one dataset's upstream or downstream lineage.
type Tree struct {
	DatasetID uuid.UUID
	Direction Direction
	Children  Children
	// Home names the index that is authoritative for the dataset; empty when unknown.
	Home string
}

// Serialise converts the tree to its document form:
//
//	{"id": "...", "home": "...", "sources"|"derivations": {classifier: [child, ...]}}
//
// The direction key is written for every node whose children are known,
// including known-empty nodes. A root with unfetched children gets an empty
// direction key only when specifyDirectionIfEmpty is set.
func (t *Tree) Serialise(specifyDirectionIfEmpty bool) map[string]any {
	return t.serialise(specifyDirectionIfEmpty)
}

func (t *Tree) serialise(specifyDirection bool) map[string]any {
	out := map[string]any{"id": t.DatasetID.String()}
	if t.Home != "" {
		out["home"] = t.Home
	}
	switch {
	case t.Children.Fetched():
		children := make(map[string]any, len(t.Children.byClassifier))
		for _, classifier := range t.Children.Classifiers() {
			trees := t.Children.byClassifier[classifier]
			list := make([]any, 0, len(trees))
			for _, child := range trees {
				list = append(list, child.serialise(false))
			}
			children[classifier] = list
		}
		out[t.Direction.Label()] = children
	case specifyDirection:
		out[t.Direction.Label()] = map[string]any{}
	}
	return out
}

// Deserialise parses the document form of a tree. When direction is nil it
// is inferred from the direction key at the root; exactly one of "sources"
// and "derivations" must then be present.
func Deserialise(data map[string]any, direction *Direction) (*Tree, error) {
	var dir Direction
	if direction != nil {
		dir = *direction
	} else {
		_, hasSources := data[labelSources]
		_, hasDerived := data[labelDerivations]
		switch {
		case hasSources && hasDerived:
			return nil, inconsistent(uuid.Nil, "tree declares both %q and %q", labelSources, labelDerivations)
		case hasSources:
			dir = Sources
		case hasDerived:
			dir = Derived
		default:
			return nil, inconsistent(uuid.Nil, "cannot infer direction: tree has neither %q nor %q", labelSources, labelDerivations)
		}
	}
	return deserialise(data, dir)
}

func deserialise(data map[string]any, dir Direction) (*Tree, error) {
	id, err := parseID(data["id"])
	if err != nil {
		return nil, err
	}
	tree := &Tree{DatasetID: id, Direction: dir}

	switch home := data["home"].(type) {
	case nil:
	case string:
		tree.Home = home
	default:
		return nil, inconsistent(id, "home must be a string, got %T", home)
	}

	if _, ok := data[dir.Opposite().Label()]; ok {
		return nil, inconsistent(id, "node declares %q inside a %s tree", dir.Opposite().Label(), dir)
	}

	// A missing or null direction key leaves the children unfetched.
	raw, ok := data[dir.Label()]
	if !ok || raw == nil {
		return tree, nil
	}

	groups, err := toStringMap(raw)
	if err != nil {
		return nil, inconsistent(id, "%s: %v", dir.Label(), err)
	}
	byClassifier := make(map[string][]*Tree, len(groups))
	for classifier, list := range groups {
		items, err := toDocList(list)
		if err != nil {
			return nil, inconsistent(id, "%s.%s: %v", dir.Label(), classifier, err)
		}
		for _, item := range items {
			child, err := deserialise(item, dir)
			if err != nil {
				return nil, err
			}
			byClassifier[classifier] = append(byClassifier[classifier], child)
		}
	}
	tree.Children = Known(byClassifier)
	return tree, nil
}

// MarshalJSON encodes the tree in document form. The root always carries
// its direction key; it is null when the root's children are unfetched, so
// the tree decodes back unfetched rather than known-empty.
func (t *Tree) MarshalJSON() ([]byte, error) {
	doc := t.Serialise(false)
	if !t.Children.Fetched() {
		doc[t.Direction.Label()] = nil
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a document whose root declares its direction.
func (t *Tree) UnmarshalJSON(b []byte) error {
	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		return err
	}
	parsed, err := Deserialise(data, nil)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}

// FindSubtree returns the shallowest node for id whose children are known,
// falling back to the shallowest unfetched node for id, or nil.
func (t *Tree) FindSubtree(id uuid.UUID) *Tree {
	var fallback *Tree
	queue := []*Tree{t}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node.DatasetID == id {
			if node.Children.Fetched() {
				return node
			}
			if fallback == nil {
				fallback = node
			}
		}
		for _, child := range node.Children.All() {
			queue = append(queue, child)
		}
	}
	return fallback
}

// ChildDatasets returns every descendant id of the tree, excluding the root
// unless it is its own descendant, in which case the tree is cyclic and an
// InconsistentLineageError is returned.
func (t *Tree) ChildDatasets() (map[uuid.UUID]struct{}, error) {
	out := make(map[uuid.UUID]struct{})
	path := map[uuid.UUID]struct{}{t.DatasetID: {}}
	if err := t.collectChildren(path, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tree) collectChildren(path, out map[uuid.UUID]struct{}) error {
	for _, child := range t.Children.All() {
		if _, onPath := path[child.DatasetID]; onPath {
			return inconsistent(child.DatasetID, "dataset is its own %s ancestor: lineage must be acyclic", t.Direction)
		}
		out[child.DatasetID] = struct{}{}
		path[child.DatasetID] = struct{}{}
		err := child.collectChildren(path, out)
		delete(path, child.DatasetID)
		if err != nil {
			return err
		}
	}
	return nil
}

// Equal reports structural equality: ids, directions, homes, the fetched
// state of every node and the order of children under each classifier.
func (t *Tree) Equal(other *Tree) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.DatasetID != other.DatasetID || t.Direction != other.Direction || t.Home != other.Home {
		return false
	}
	if t.Children.fetched != other.Children.fetched {
		return false
	}
	if len(t.Children.byClassifier) != len(other.Children.byClassifier) {
		return false
	}
	for classifier, trees := range t.Children.byClassifier {
		others, ok := other.Children.byClassifier[classifier]
		if !ok || len(others) != len(trees) {
			return false
		}
		for i := range trees {
			if !trees[i].Equal(others[i]) {
				return false
			}
		}
	}
	return true
}

// FromData builds a depth-one tree: one edge per (classifier, child id).
// Children are unfetched leaves with home homeDerived. A nil sources map
// leaves the root itself unfetched.
func FromData(id uuid.UUID, sources map[string][]uuid.UUID, direction Direction, home, homeDerived string) *Tree {
	tree := &Tree{DatasetID: id, Direction: direction, Home: home}
	if sources == nil {
		return tree
	}
	byClassifier := make(map[string][]*Tree, len(sources))
	for classifier, ids := range sources {
		for _, childID := range ids {
			byClassifier[classifier] = append(byClassifier[classifier], &Tree{
				DatasetID: childID,
				Direction: direction,
				Home:      homeDerived,
			})
		}
	}
	tree.Children = Known(byClassifier)
	return tree
}

// FromEO3Doc builds a sources tree from the "lineage" section of an eo3
// dataset document, where each classifier maps to a list of ids or a single id.
func FromEO3Doc(id uuid.UUID, doc map[string]any, home, homeDerived string) (*Tree, error) {
	raw, ok := doc["lineage"]
	if !ok || raw == nil {
		return FromData(id, map[string][]uuid.UUID{}, Sources, home, homeDerived), nil
	}
	groups, err := toStringMap(raw)
	if err != nil {
		return nil, inconsistent(id, "lineage: %v", err)
	}
	sources := make(map[string][]uuid.UUID, len(groups))
	for classifier, value := range groups {
		values, ok := value.([]any)
		if !ok {
			if strs, isStrs := value.([]string); isStrs {
				for _, s := range strs {
					values = append(values, s)
				}
			} else {
				values = []any{value}
			}
		}
		for _, v := range values {
			sourceID, err := parseID(v)
			if err != nil {
				return nil, inconsistent(id, "lineage.%s: %v", classifier, err)
			}
			sources[classifier] = append(sources[classifier], sourceID)
		}
	}
	return FromData(id, sources, Sources, home, homeDerived), nil
}

func parseID(v any) (uuid.UUID, error) {
	switch id := v.(type) {
	case nil:
		return uuid.Nil, inconsistent(uuid.Nil, "dataset id is required")
	case uuid.UUID:
		return id, nil
	case string:
		parsed, err := uuid.Parse(id)
		if err != nil {
			return uuid.Nil, inconsistent(uuid.Nil, "invalid dataset id %q: %v", id, err)
		}
		return parsed, nil
	default:
		return uuid.Nil, inconsistent(uuid.Nil, "dataset id must be a string, got %T", v)
	}
}

func toStringMap(v any) (map[string]any, error) {
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v", k)
			}
			out[key] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a mapping, got %T", v)
	}
}

func toDocList(v any) ([]map[string]any, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []map[string]any:
		return list, nil
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			m, err := toStringMap(item)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of trees, got %T", v)
	}
}
