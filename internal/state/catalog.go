package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leapstack-labs/provcat/pkg/core"
)

func encodeDocument(doc core.Document) (string, error) {
	if doc == nil {
		doc = core.Document{}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	return string(b), nil
}

func decodeDocument(raw []byte) (core.Document, error) {
	var doc core.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

// InsertMetadataType stores mt unless the name exists.
func (c *Conn) InsertMetadataType(ctx context.Context, mt *core.MetadataType) (bool, error) {
	def, err := encodeDocument(mt.Definition)
	if err != nil {
		return false, err
	}
	n, err := c.exec(ctx,
		`INSERT INTO metadata_type (name, description, definition) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		mt.Name, mt.Description, def)
	if err != nil {
		return false, fmt.Errorf("failed to insert metadata type %s: %w", mt.Name, err)
	}
	return n > 0, nil
}

func scanMetadataType(row interface{ Scan(...any) error }) (*core.MetadataType, error) {
	var mt core.MetadataType
	var def []byte
	if err := row.Scan(&mt.Name, &mt.Description, &def); err != nil {
		return nil, err
	}
	doc, err := decodeDocument(def)
	if err != nil {
		return nil, err
	}
	mt.Definition = doc
	return &mt, nil
}

// GetMetadataType retrieves a metadata type by name.
func (c *Conn) GetMetadataType(ctx context.Context, name string) (*core.MetadataType, error) {
	mt, err := scanMetadataType(c.queryRow(ctx,
		`SELECT name, description, definition FROM metadata_type WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("metadata type", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata type: %w", err)
	}
	return mt, nil
}

// ListMetadataTypes returns every metadata type ordered by name.
func (c *Conn) ListMetadataTypes(ctx context.Context) ([]*core.MetadataType, error) {
	rows, err := c.query(ctx, `SELECT name, description, definition FROM metadata_type ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata types: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.MetadataType
	for rows.Next() {
		mt, err := scanMetadataType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metadata type: %w", err)
		}
		out = append(out, mt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metadata types: %w", err)
	}
	return out, nil
}

// InsertProduct stores p unless the name exists.
func (c *Conn) InsertProduct(ctx context.Context, p *core.Product) (bool, error) {
	def, err := encodeDocument(p.Definition)
	if err != nil {
		return false, err
	}
	n, err := c.exec(ctx,
		`INSERT INTO product (name, description, metadata_type, definition) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		p.Name, p.Description, p.MetadataType, def)
	if err != nil {
		return false, fmt.Errorf("failed to insert product %s: %w", p.Name, err)
	}
	return n > 0, nil
}

func scanProduct(row interface{ Scan(...any) error }) (*core.Product, error) {
	var p core.Product
	var def []byte
	if err := row.Scan(&p.Name, &p.Description, &p.MetadataType, &def); err != nil {
		return nil, err
	}
	doc, err := decodeDocument(def)
	if err != nil {
		return nil, err
	}
	p.Definition = doc
	return &p, nil
}

// GetProduct retrieves a product by name.
func (c *Conn) GetProduct(ctx context.Context, name string) (*core.Product, error) {
	p, err := scanProduct(c.queryRow(ctx,
		`SELECT name, description, metadata_type, definition FROM product WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("product", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// ListProducts returns every product ordered by name.
func (c *Conn) ListProducts(ctx context.Context) ([]*core.Product, error) {
	rows, err := c.query(ctx, `SELECT name, description, metadata_type, definition FROM product ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	return out, nil
}
