package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/provcat/pkg/lineage"
)

func TestSameDocument_YAMLAndJSON(t *testing.T) {
	yamlDoc := `
name: eo3
description: EO3 datasets
dataset:
  id: [id]
  bands: 4
  scale: 0.5
`
	jsonDoc := `{"description":"EO3 datasets","name":"eo3","dataset":{"scale":0.5,"bands":4,"id":["id"]}}`

	var fromYAML, fromJSON Document
	require.NoError(t, yaml.Unmarshal([]byte(yamlDoc), &fromYAML))
	require.NoError(t, json.Unmarshal([]byte(jsonDoc), &fromJSON))

	assert.True(t, SameDocument(fromYAML, fromJSON))

	fromJSON["description"] = "changed"
	fromJSON["extra"] = true
	assert.Equal(t, []string{"description", "extra"}, DocumentDiff(fromYAML, fromJSON))
}

func TestMetadataTypeFromDocument(t *testing.T) {
	mt, err := MetadataTypeFromDocument(Document{"name": "eo3", "description": "d", "dataset": Document{}})
	require.NoError(t, err)
	assert.Equal(t, "eo3", mt.Name)
	assert.Equal(t, "d", mt.Description)
	assert.Contains(t, mt.Definition, "dataset")

	_, err = MetadataTypeFromDocument(Document{"description": "nameless"})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestProductFromDocument(t *testing.T) {
	tests := []struct {
		name       string
		doc        Document
		wantType   string
		wantInline bool
		wantErr    bool
	}{
		{name: "named metadata type", doc: Document{"name": "ls8", "metadata_type": "eo3"}, wantType: "eo3"},
		{
			name:       "embedded metadata type",
			doc:        Document{"name": "ls8", "metadata_type": map[string]any{"name": "eo3", "dataset": Document{}}},
			wantType:   "eo3",
			wantInline: true,
		},
		{name: "missing metadata type", doc: Document{"name": "ls8"}, wantErr: true},
		{name: "missing name", doc: Document{"metadata_type": "eo3"}, wantErr: true},
		{name: "bad metadata type", doc: Document{"name": "ls8", "metadata_type": 42}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ProductFromDocument(tt.doc)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, p.MetadataType)
			assert.Equal(t, tt.wantInline, p.MetadataTypeDefinition != nil)
		})
	}
}

func TestDatasetFromDocument(t *testing.T) {
	id := uuid.New()
	src := uuid.New()
	doc := Document{
		"id":       id.String(),
		"product":  map[string]any{"name": "ls8_ard"},
		"location": "s3://bucket/ds.yaml",
		"extent": map[string]any{
			"lon": map[string]any{"begin": 148.5, "end": 149},
			"lat": map[string]any{"begin": -36, "end": -35.5},
		},
		"lineage": map[string]any{"level1": []any{src.String()}},
	}

	ds, err := DatasetFromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, id, ds.ID)
	assert.Equal(t, "ls8_ard", ds.Product)
	assert.Equal(t, []string{"s3://bucket/ds.yaml"}, ds.URIs)
	require.NotNil(t, ds.Extent)
	assert.Equal(t, Extent{West: 148.5, East: 149, South: -36, North: -35.5}, *ds.Extent)

	sources, err := ds.SourceIDs()
	require.NoError(t, err)
	assert.Equal(t, map[string][]uuid.UUID{"level1": {src}}, sources)
}

func TestDatasetFromDocument_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
	}{
		{name: "bad id", doc: Document{"id": "x", "product": "p"}},
		{name: "no product", doc: Document{"id": uuid.NewString()}},
		{name: "inverted extent", doc: Document{"id": uuid.NewString(), "product": "p", "extent": map[string]any{
			"lon": map[string]any{"begin": 10, "end": 5},
			"lat": map[string]any{"begin": 0, "end": 1},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DatasetFromDocument(tt.doc)
			var ve *ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestDataset_LineageTree(t *testing.T) {
	id, a, b := uuid.New(), uuid.New(), uuid.New()
	ds := &Dataset{
		ID:       id,
		Product:  "p",
		Home:     "main",
		Metadata: Document{"lineage": map[string]any{"ard": []any{a.String()}}},
		Sources: map[string][]*Dataset{
			"ard": {{ID: a}},
			"dem": {{ID: b}},
		},
	}

	tree, err := ds.LineageTree()
	require.NoError(t, err)
	assert.Equal(t, "main", tree.Home)
	assert.Equal(t, lineage.Sources, tree.Direction)
	assert.Len(t, tree.Children.Get("ard"), 1, "duplicate source is recorded once")
	assert.Len(t, tree.Children.Get("dem"), 1)
}

func TestDataset_SourceIDs_ClassifierConflict(t *testing.T) {
	id, src := uuid.New(), uuid.New()

	tests := []struct {
		name string
		ds   *Dataset
	}{
		{
			name: "two classifiers in the lineage section",
			ds: &Dataset{ID: id, Metadata: Document{"lineage": map[string]any{
				"ard": []any{src.String()},
				"l1":  []any{src.String()},
			}}},
		},
		{
			name: "inline source disagrees with the lineage section",
			ds: &Dataset{
				ID:       id,
				Metadata: Document{"lineage": map[string]any{"ard": []any{src.String()}}},
				Sources:  map[string][]*Dataset{"l1": {{ID: src}}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.ds.SourceIDs()
			require.ErrorIs(t, err, lineage.ErrInconsistentLineage)
			assert.ErrorContains(t, err, src.String())

			_, err = tt.ds.LineageTree()
			assert.ErrorIs(t, err, lineage.ErrInconsistentLineage)
		})
	}
}

func TestDataset_Diff(t *testing.T) {
	a := &Dataset{Product: "p", Metadata: Document{"id": "1", "x": 1}}
	b := &Dataset{Product: "q", Metadata: Document{"id": "1", "x": 2}}
	assert.Equal(t, []string{"product", "x"}, a.Diff(b))
	assert.Empty(t, a.Diff(a))
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: &DocumentMismatchError{Kind: "dataset", Key: "x"}, want: true},
		{err: fmt.Errorf("wrap: %w", ErrNotFound("product", "x")), want: true},
		{err: ErrConflict("busy"), want: true},
		{err: ErrValidation("bad"), want: true},
		{err: &lineage.InconsistentLineageError{Reason: "cycle"}, want: true},
		{err: ErrReadOnly, want: false},
		{err: errors.New("io"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, IsRecoverable(tt.err))
		})
	}
}

func TestBatchStatus_Add(t *testing.T) {
	a := BatchStatus{Completed: 2, Skipped: 1, Elapsed: time.Second, Safe: []string{"b", "a"}}
	b := BatchStatus{Completed: 3, Elapsed: time.Second, Safe: []string{"a", "c"}}

	sum := a.Add(b)
	assert.Equal(t, 5, sum.Completed)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 2*time.Second, sum.Elapsed)
	assert.Equal(t, []string{"a", "b", "c"}, sum.Safe)

	assert.Nil(t, BatchStatus{}.Add(BatchStatus{Completed: 1}).Safe)
	assert.NotNil(t, BatchStatus{}.Add(BatchStatus{Safe: []string{}}).Safe)
	assert.Contains(t, sum.String(), "5 completed")
}
