package lineage

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// ids returns n deterministic, ascending ids.
func ids(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.UUID{15: byte(i + 1)}
	}
	return out
}

func leaf(id uuid.UUID) *Tree {
	return &Tree{DatasetID: id, Direction: Sources, Children: Known(nil)}
}

func node(id uuid.UUID, byClassifier map[string][]*Tree) *Tree {
	return &Tree{DatasetID: id, Direction: Sources, Children: Known(byClassifier)}
}

func TestDirection(t *testing.T) {
	assert.Equal(t, Derived, Sources.Opposite())
	assert.Equal(t, Sources, Derived.Opposite())
	assert.Equal(t, "sources", Sources.Label())
	assert.Equal(t, "derivations", Derived.Label())

	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{in: "sources", want: Sources},
		{in: "Upstream", want: Sources},
		{in: "derivations", want: Derived},
		{in: " downstream ", want: Derived},
		{in: "sideways", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDirection(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChildren_Variants(t *testing.T) {
	id := ids(1)[0]

	unfetched := Unfetched()
	assert.False(t, unfetched.Fetched())
	assert.False(t, unfetched.Populated())

	empty := Known(map[string][]*Tree{"ard": nil})
	assert.True(t, empty.Fetched())
	assert.False(t, empty.Populated())
	assert.Empty(t, empty.Classifiers())

	populated := Known(map[string][]*Tree{"b": {leaf(id)}, "a": {leaf(id), leaf(id)}})
	assert.True(t, populated.Populated())
	assert.Equal(t, []string{"a", "b"}, populated.Classifiers())
	assert.Equal(t, 3, populated.Len())

	var seen []string
	for classifier := range populated.All() {
		seen = append(seen, classifier)
	}
	assert.Equal(t, []string{"a", "a", "b"}, seen)
}

func TestTree_Serialise(t *testing.T) {
	id := ids(3)

	tree := &Tree{
		DatasetID: id[0],
		Direction: Sources,
		Home:      "main",
		Children: Known(map[string][]*Tree{
			"ard": {
				{DatasetID: id[1], Direction: Sources, Children: Unfetched()},
				leaf(id[2]),
			},
		}),
	}

	got := tree.Serialise(false)
	want := map[string]any{
		"id":   id[0].String(),
		"home": "main",
		"sources": map[string]any{
			"ard": []any{
				map[string]any{"id": id[1].String()},
				map[string]any{"id": id[2].String(), "sources": map[string]any{}},
			},
		},
	}
	assert.Equal(t, want, got)
}

func TestTree_Serialise_UnfetchedRoot(t *testing.T) {
	id := ids(1)[0]
	tree := &Tree{DatasetID: id, Direction: Derived}

	assert.Equal(t, map[string]any{"id": id.String()}, tree.Serialise(false))
	assert.Equal(t, map[string]any{"id": id.String(), "derivations": map[string]any{}}, tree.Serialise(true))
}

func TestTree_RoundTrip(t *testing.T) {
	id := ids(6)

	tests := []struct {
		name string
		tree *Tree
	}{
		{name: "known empty root", tree: leaf(id[0])},
		{
			name: "nested with homes",
			tree: &Tree{
				DatasetID: id[0],
				Direction: Sources,
				Home:      "main",
				Children: Known(map[string][]*Tree{
					"ard": {node(id[1], map[string][]*Tree{
						"l1": {leaf(id[2]), {DatasetID: id[3], Direction: Sources, Home: "archive"}},
					})},
					"dem": {{DatasetID: id[4], Direction: Sources}},
				}),
			},
		},
		{
			name: "diamond with stub",
			tree: node(id[0], map[string][]*Tree{
				"a": {node(id[1], map[string][]*Tree{"x": {leaf(id[5])}})},
				"b": {node(id[2], map[string][]*Tree{"x": {{DatasetID: id[5], Direction: Sources}}})},
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Deserialise(tt.tree.Serialise(false), nil)
			require.NoError(t, err)
			assert.True(t, tt.tree.Equal(got), "round trip changed the tree")

			b, err := json.Marshal(tt.tree)
			require.NoError(t, err)
			var decoded Tree
			require.NoError(t, json.Unmarshal(b, &decoded))
			assert.True(t, tt.tree.Equal(&decoded), "json round trip changed the tree")
		})
	}
}

func TestTree_JSON_UnfetchedRoot(t *testing.T) {
	id := ids(1)[0]
	tree := &Tree{DatasetID: id, Direction: Derived, Home: "main"}

	b, err := json.Marshal(tree)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": "`+id.String()+`", "home": "main", "derivations": null}`, string(b))

	var decoded Tree
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, Derived, decoded.Direction)
	assert.False(t, decoded.Children.Fetched(), "unfetched root must not decode as known-empty")
	assert.True(t, tree.Equal(&decoded))

	// A known-empty root keeps its empty mapping.
	b, err = json.Marshal(&Tree{DatasetID: id, Direction: Derived, Children: Known(nil)})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.True(t, decoded.Children.Fetched())
	assert.Zero(t, decoded.Children.Len())
}

func TestDeserialise_Errors(t *testing.T) {
	id := ids(2)
	sources := Sources

	tests := []struct {
		name      string
		data      map[string]any
		direction *Direction
	}{
		{name: "both labels", data: map[string]any{"id": id[0].String(), "sources": map[string]any{}, "derivations": map[string]any{}}},
		{name: "no label", data: map[string]any{"id": id[0].String()}},
		{name: "missing id", data: map[string]any{"sources": map[string]any{}}},
		{name: "invalid id", data: map[string]any{"id": "nope", "sources": map[string]any{}}},
		{
			name: "opposite label on child",
			data: map[string]any{"id": id[0].String(), "sources": map[string]any{
				"x": []any{map[string]any{"id": id[1].String(), "derivations": map[string]any{}}},
			}},
		},
		{name: "children not a mapping", data: map[string]any{"id": id[0].String(), "sources": []any{}}, direction: &sources},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Deserialise(tt.data, tt.direction)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInconsistentLineage)
		})
	}
}

func TestDeserialise_ExplicitDirection(t *testing.T) {
	id := ids(1)[0]
	derived := Derived

	tree, err := Deserialise(map[string]any{"id": id.String()}, &derived)
	require.NoError(t, err)
	assert.Equal(t, Derived, tree.Direction)
	assert.False(t, tree.Children.Fetched())
}

func TestDeserialise_YAML(t *testing.T) {
	id := ids(3)
	doc := `
id: ` + id[0].String() + `
home: main
derivations:
  ard:
    - id: ` + id[1].String() + `
      derivations: {}
    - id: ` + id[2].String() + `
`
	var data map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(doc), &data))

	tree, err := Deserialise(data, nil)
	require.NoError(t, err)
	assert.Equal(t, Derived, tree.Direction)
	assert.Equal(t, "main", tree.Home)
	children := tree.Children.Get("ard")
	require.Len(t, children, 2)
	assert.True(t, children[0].Children.Fetched())
	assert.False(t, children[1].Children.Fetched())
}

func TestTree_FindSubtree(t *testing.T) {
	id := ids(5)
	stub := &Tree{DatasetID: id[3], Direction: Sources}
	full := node(id[3], map[string][]*Tree{"x": {leaf(id[4])}})

	tree := node(id[0], map[string][]*Tree{
		"a": {node(id[1], map[string][]*Tree{"x": {stub}})},
		"b": {node(id[2], map[string][]*Tree{"x": {node(id[1], map[string][]*Tree{"y": {full}})}})},
	})

	assert.Same(t, full, tree.FindSubtree(id[3]), "should prefer a fetched match over a shallower stub")
	assert.Same(t, tree.Children.Get("a")[0], tree.FindSubtree(id[1]), "should prefer the shallower fetched match")
	assert.Nil(t, tree.FindSubtree(uuid.New()))

	onlyStub := node(id[0], map[string][]*Tree{"a": {stub}})
	assert.Same(t, stub, onlyStub.FindSubtree(id[3]))
}

func TestTree_ChildDatasets(t *testing.T) {
	id := ids(4)

	tree := node(id[0], map[string][]*Tree{
		"a": {node(id[1], map[string][]*Tree{"x": {leaf(id[3])}})},
		"b": {node(id[2], map[string][]*Tree{"x": {leaf(id[3])}})},
	})
	got, err := tree.ChildDatasets()
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.NotContains(t, got, id[0])

	cyclic := node(id[0], map[string][]*Tree{
		"a": {node(id[1], map[string][]*Tree{"x": {leaf(id[0])}})},
	})
	_, err = cyclic.ChildDatasets()
	require.Error(t, err)
	var inconsistentErr *InconsistentLineageError
	require.ErrorAs(t, err, &inconsistentErr)
	assert.Equal(t, id[0], inconsistentErr.ID)
}

func TestFromData(t *testing.T) {
	id := ids(4)

	tree := FromData(id[0], map[string][]uuid.UUID{"ard": {id[1], id[2]}, "dem": {id[3]}}, Sources, "main", "remote")
	assert.Equal(t, "main", tree.Home)
	assert.Equal(t, 3, tree.Children.Len())
	for _, child := range tree.Children.All() {
		assert.False(t, child.Children.Fetched())
		assert.Equal(t, "remote", child.Home)
		assert.Equal(t, Sources, child.Direction)
	}

	assert.False(t, FromData(id[0], nil, Sources, "", "").Children.Fetched())
}

func TestFromEO3Doc(t *testing.T) {
	id := ids(4)
	doc := map[string]any{
		"id": id[0].String(),
		"lineage": map[string]any{
			"ard": []any{id[1].String(), id[2].String()},
			"dem": id[3].String(),
		},
	}

	tree, err := FromEO3Doc(id[0], doc, "", "")
	require.NoError(t, err)
	require.Len(t, tree.Children.Get("ard"), 2)
	require.Len(t, tree.Children.Get("dem"), 1)
	assert.Equal(t, id[3], tree.Children.Get("dem")[0].DatasetID)

	noLineage, err := FromEO3Doc(id[0], map[string]any{}, "", "")
	require.NoError(t, err)
	assert.True(t, noLineage.Children.Fetched())
	assert.False(t, noLineage.Children.Populated())

	_, err = FromEO3Doc(id[0], map[string]any{"lineage": map[string]any{"ard": []any{"bogus"}}}, "", "")
	assert.ErrorIs(t, err, ErrInconsistentLineage)
}
