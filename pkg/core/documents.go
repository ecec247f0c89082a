package core

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
)

type metadataTypeHeader struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
}

type productHeader struct {
	Name         string `mapstructure:"name"`
	Description  string `mapstructure:"description"`
	MetadataType any    `mapstructure:"metadata_type"`
}

type rangeDoc struct {
	Begin float64 `mapstructure:"begin"`
	End   float64 `mapstructure:"end"`
}

type datasetHeader struct {
	ID      string `mapstructure:"id"`
	Product any    `mapstructure:"product"`
	Home    string `mapstructure:"home"`
	Extent  *struct {
		Lon *rangeDoc `mapstructure:"lon"`
		Lat *rangeDoc `mapstructure:"lat"`
	} `mapstructure:"extent"`
	Location  string   `mapstructure:"location"`
	Locations []string `mapstructure:"locations"`
}

func decodeHeader(doc Document, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(doc)
}

// MetadataTypeFromDocument decodes a metadata type document.
func MetadataTypeFromDocument(doc Document) (*MetadataType, error) {
	var h metadataTypeHeader
	if err := decodeHeader(doc, &h); err != nil {
		return nil, ErrValidation("invalid metadata type document: %v", err)
	}
	if h.Name == "" {
		return nil, ErrValidation("metadata type document has no name")
	}
	return &MetadataType{Name: h.Name, Description: h.Description, Definition: doc}, nil
}

// ProductFromDocument decodes a product document. The metadata_type field
// may name a metadata type or embed its full definition.
func ProductFromDocument(doc Document) (*Product, error) {
	var h productHeader
	if err := decodeHeader(doc, &h); err != nil {
		return nil, ErrValidation("invalid product document: %v", err)
	}
	if h.Name == "" {
		return nil, ErrValidation("product document has no name")
	}
	p := &Product{Name: h.Name, Description: h.Description, Definition: doc}
	switch mt := h.MetadataType.(type) {
	case string:
		p.MetadataType = mt
	case map[string]any:
		def, err := MetadataTypeFromDocument(mt)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", h.Name, err)
		}
		p.MetadataType = def.Name
		p.MetadataTypeDefinition = def
	case nil:
		return nil, ErrValidation("product %s has no metadata_type", h.Name)
	default:
		return nil, ErrValidation("product %s: metadata_type must be a name or a document, got %T", h.Name, mt)
	}
	return p, nil
}

// DatasetFromDocument decodes an eo3 dataset document.
func DatasetFromDocument(doc Document) (*Dataset, error) {
	var h datasetHeader
	if err := decodeHeader(doc, &h); err != nil {
		return nil, ErrValidation("invalid dataset document: %v", err)
	}
	id, err := uuid.Parse(h.ID)
	if err != nil {
		return nil, ErrValidation("dataset document has invalid id %q", h.ID)
	}

	ds := &Dataset{ID: id, Metadata: doc, Home: h.Home}
	switch p := h.Product.(type) {
	case string:
		ds.Product = p
	case map[string]any:
		name, _ := p["name"].(string)
		ds.Product = name
	}
	if ds.Product == "" {
		return nil, ErrValidation("dataset %s has no product name", id)
	}

	if h.Extent != nil && h.Extent.Lon != nil && h.Extent.Lat != nil {
		ds.Extent = &Extent{
			West:  h.Extent.Lon.Begin,
			East:  h.Extent.Lon.End,
			South: h.Extent.Lat.Begin,
			North: h.Extent.Lat.End,
		}
		if err := ds.Extent.Validate(); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", id, err)
		}
	}

	if h.Location != "" {
		ds.URIs = append(ds.URIs, h.Location)
	}
	ds.URIs = append(ds.URIs, h.Locations...)
	return ds, nil
}
