package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/provcat/pkg/lineage"
)

// Document is a loosely typed catalog document as decoded from YAML or JSON.
type Document = map[string]any

// MetadataType describes the schema family a product's datasets follow.
type MetadataType struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Definition  Document `json:"definition"`
}

// Diff returns the top-level definition keys that differ from other.
func (m *MetadataType) Diff(other *MetadataType) []string {
	return DocumentDiff(m.Definition, other.Definition)
}

// Product is a named collection of datasets sharing a metadata type.
type Product struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	MetadataType string `json:"metadata_type"`
	// MetadataTypeDefinition is set when the product document embeds its
	// metadata type, so it can be added alongside the product.
	MetadataTypeDefinition *MetadataType `json:"-"`
	Definition             Document      `json:"definition"`
}

// Diff returns the fields that differ from other.
func (p *Product) Diff(other *Product) []string {
	var fields []string
	if p.MetadataType != other.MetadataType {
		fields = append(fields, "metadata_type")
	}
	for _, k := range DocumentDiff(p.Definition, other.Definition) {
		if k != "metadata_type" {
			fields = append(fields, k)
		}
	}
	return fields
}

// Extent is a dataset's bounding box in EPSG:4326 degrees.
type Extent struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Validate checks the box is well formed.
func (e *Extent) Validate() error {
	if e.West > e.East || e.South > e.North {
		return ErrValidation("invalid extent: west=%g east=%g south=%g north=%g", e.West, e.East, e.South, e.North)
	}
	if e.South < -90 || e.North > 90 {
		return ErrValidation("invalid extent: latitude out of range [%g, %g]", e.South, e.North)
	}
	return nil
}

// Dataset is one indexed observation or derived product instance.
type Dataset struct {
	ID       uuid.UUID `json:"id"`
	Product  string    `json:"product"`
	Metadata Document  `json:"metadata"`
	URIs     []string  `json:"uris"`
	// Sources holds source datasets supplied inline, keyed by classifier.
	// They are added before the dataset itself.
	Sources    map[string][]*Dataset `json:"-"`
	Home       string                `json:"home,omitempty"`
	Extent     *Extent               `json:"extent,omitempty"`
	IndexedAt  time.Time             `json:"indexed_at"`
	ArchivedAt *time.Time            `json:"archived_at,omitempty"`
}

// Key returns the dataset id as a string.
func (d *Dataset) Key() string { return d.ID.String() }

// IsArchived reports whether the dataset has been archived.
func (d *Dataset) IsArchived() bool { return d.ArchivedAt != nil }

// Diff returns the fields that differ from other.
func (d *Dataset) Diff(other *Dataset) []string {
	var fields []string
	if d.Product != other.Product {
		fields = append(fields, "product")
	}
	for _, k := range DocumentDiff(d.Metadata, other.Metadata) {
		if k != "product" {
			fields = append(fields, k)
		}
	}
	return fields
}

// SourceIDs merges the ids of inline sources with the ids named in the
// document's lineage section, keyed by classifier. A source named under two
// different classifiers is an InconsistentLineageError.
func (d *Dataset) SourceIDs() (map[string][]uuid.UUID, error) {
	tree, err := lineage.FromEO3Doc(d.ID, d.Metadata, "", "")
	if err != nil {
		return nil, err
	}
	out := make(map[string][]uuid.UUID)
	seen := make(map[uuid.UUID]string)
	add := func(classifier string, id uuid.UUID) error {
		if prev, ok := seen[id]; ok {
			if prev != classifier {
				return &lineage.InconsistentLineageError{
					ID:     d.ID,
					Reason: fmt.Sprintf("source %s listed with classifiers %q and %q", id, prev, classifier),
				}
			}
			return nil
		}
		seen[id] = classifier
		out[classifier] = append(out[classifier], id)
		return nil
	}
	for classifier, child := range tree.Children.All() {
		if err := add(classifier, child.DatasetID); err != nil {
			return nil, err
		}
	}
	for _, classifier := range slices.Sorted(maps.Keys(d.Sources)) {
		for _, src := range d.Sources[classifier] {
			if err := add(classifier, src.ID); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// LineageTree returns the depth-one sources tree of the dataset.
func (d *Dataset) LineageTree() (*lineage.Tree, error) {
	sources, err := d.SourceIDs()
	if err != nil {
		return nil, err
	}
	return lineage.FromData(d.ID, sources, lineage.Sources, d.Home, ""), nil
}

// SameDocument reports whether two documents have identical content,
// regardless of whether they were decoded from YAML or JSON.
func SameDocument(a, b Document) bool {
	return len(DocumentDiff(a, b)) == 0
}

// DocumentDiff returns the sorted top-level keys whose values differ.
func DocumentDiff(a, b Document) []string {
	keys := slices.Sorted(maps.Keys(a))
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	var diff []string
	for _, k := range keys {
		av, aok := a[k]
		bv, bok := b[k]
		if aok != bok || !bytes.Equal(canonical(av), canonical(bv)) {
			diff = append(diff, k)
		}
	}
	return diff
}

func canonical(v any) []byte {
	b, err := json.Marshal(normalize(v))
	if err != nil {
		return nil
	}
	return b
}

// normalize converts map[any]any, as produced by some YAML decoders, into
// JSON-encodable maps.
func normalize(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if s, ok := k.(string); ok {
				out[s] = normalize(val)
			}
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
