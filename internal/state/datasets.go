package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/provcat/pkg/core"
)

const datasetColumns = `d.id, d.product, d.metadata, d.uris, d.west, d.south, d.east, d.north,
	d.indexed_at, d.archived_at, COALESCE(h.home, '')`

const datasetFrom = `FROM dataset d LEFT JOIN dataset_home h ON h.dataset_ref = d.id`

// InsertDataset stores ds unless the id exists. Inline sources and the
// home are not written here.
func (c *Conn) InsertDataset(ctx context.Context, ds *core.Dataset) (bool, error) {
	metadata, err := encodeDocument(ds.Metadata)
	if err != nil {
		return false, err
	}
	uris := ds.URIs
	if uris == nil {
		uris = []string{}
	}
	rawURIs, err := json.Marshal(uris)
	if err != nil {
		return false, fmt.Errorf("failed to encode uris: %w", err)
	}

	var west, south, east, north sql.NullFloat64
	if e := ds.Extent; e != nil {
		west = sql.NullFloat64{Float64: e.West, Valid: true}
		south = sql.NullFloat64{Float64: e.South, Valid: true}
		east = sql.NullFloat64{Float64: e.East, Valid: true}
		north = sql.NullFloat64{Float64: e.North, Valid: true}
	}
	var archivedAt sql.NullTime
	if ds.ArchivedAt != nil {
		archivedAt = sql.NullTime{Time: ds.ArchivedAt.UTC(), Valid: true}
	}

	n, err := c.exec(ctx, `INSERT INTO dataset
		(id, product, metadata, uris, west, south, east, north, indexed_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		ds.ID.String(), ds.Product, metadata, string(rawURIs),
		west, south, east, north, ds.IndexedAt.UTC(), archivedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert dataset %s: %w", ds.ID, err)
	}
	if n == 0 {
		return false, nil
	}

	if c.dialect.Spatial && ds.Extent != nil {
		if _, err := c.exec(ctx,
			`UPDATE dataset SET footprint = ST_MakeEnvelope(west, south, east, north, 4326) WHERE id = ?`,
			ds.ID.String()); err != nil {
			return false, fmt.Errorf("failed to set footprint of dataset %s: %w", ds.ID, err)
		}
	}
	return true, nil
}

func scanDataset(row interface{ Scan(...any) error }) (*core.Dataset, error) {
	var (
		ds                       core.Dataset
		metadata, rawURIs        []byte
		west, south, east, north sql.NullFloat64
		archivedAt               sql.NullTime
	)
	if err := row.Scan(&ds.ID, &ds.Product, &metadata, &rawURIs,
		&west, &south, &east, &north, &ds.IndexedAt, &archivedAt, &ds.Home); err != nil {
		return nil, err
	}

	doc, err := decodeDocument(metadata)
	if err != nil {
		return nil, err
	}
	ds.Metadata = doc
	if err := json.Unmarshal(rawURIs, &ds.URIs); err != nil {
		return nil, fmt.Errorf("failed to decode uris: %w", err)
	}
	if west.Valid && south.Valid && east.Valid && north.Valid {
		ds.Extent = &core.Extent{West: west.Float64, South: south.Float64, East: east.Float64, North: north.Float64}
	}
	ds.IndexedAt = ds.IndexedAt.UTC()
	if archivedAt.Valid {
		at := archivedAt.Time.UTC()
		ds.ArchivedAt = &at
	}
	return &ds, nil
}

// GetDataset retrieves a dataset, archived or not.
func (c *Conn) GetDataset(ctx context.Context, id uuid.UUID) (*core.Dataset, error) {
	ds, err := scanDataset(c.queryRow(ctx,
		`SELECT `+datasetColumns+` `+datasetFrom+` WHERE d.id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("dataset", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return ds, nil
}

// HasDatasets reports which of ids are stored.
func (c *Conn) HasDatasets(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		out[id] = false
	}
	for _, chunk := range chunks(ids) {
		rows, err := c.query(ctx,
			`SELECT id FROM dataset WHERE id IN (`+placeholders(len(chunk))+`)`, idArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("failed to check datasets: %w", err)
		}
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan dataset id: %w", err)
			}
			out[id] = true
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("error iterating dataset ids: %w", err)
		}
	}
	return out, nil
}

// updateDatasets runs an UPDATE or DELETE whose WHERE clause ends in an id
// IN list, once per chunk, and sums the affected rows.
func (c *Conn) updateDatasets(ctx context.Context, query string, ids []uuid.UUID, leading ...any) (int, error) {
	total := 0
	for _, chunk := range chunks(ids) {
		args := append(append([]any{}, leading...), idArgs(chunk)...)
		n, err := c.exec(ctx, query+` (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ArchiveDatasets marks the active datasets among ids as archived at at.
func (c *Conn) ArchiveDatasets(ctx context.Context, ids []uuid.UUID, at time.Time) (int, error) {
	n, err := c.updateDatasets(ctx,
		`UPDATE dataset SET archived_at = ? WHERE archived_at IS NULL AND id IN`, ids, at.UTC())
	if err != nil {
		return n, fmt.Errorf("failed to archive datasets: %w", err)
	}
	return n, nil
}

// RestoreDatasets clears the archive mark of the archived datasets among ids.
func (c *Conn) RestoreDatasets(ctx context.Context, ids []uuid.UUID) (int, error) {
	n, err := c.updateDatasets(ctx,
		`UPDATE dataset SET archived_at = NULL WHERE archived_at IS NOT NULL AND id IN`, ids)
	if err != nil {
		return n, fmt.Errorf("failed to restore datasets: %w", err)
	}
	return n, nil
}

// DeleteDatasets removes datasets.
func (c *Conn) DeleteDatasets(ctx context.Context, ids []uuid.UUID) (int, error) {
	n, err := c.updateDatasets(ctx, `DELETE FROM dataset WHERE id IN`, ids)
	if err != nil {
		return n, fmt.Errorf("failed to delete datasets: %w", err)
	}
	return n, nil
}

// ListDatasets returns up to limit datasets ordered by id, after the given id.
func (c *Conn) ListDatasets(ctx context.Context, after uuid.UUID, limit int) ([]*core.Dataset, error) {
	rows, err := c.query(ctx,
		`SELECT `+datasetColumns+` `+datasetFrom+` WHERE d.id > ? ORDER BY d.id LIMIT ?`,
		after.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		out = append(out, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating datasets: %w", err)
	}
	return out, nil
}
