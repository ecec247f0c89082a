package state

import (
	"context"
	"database/sql"
	"fmt"
	"iter"

	"github.com/google/uuid"

	"github.com/leapstack-labs/provcat/pkg/lineage"
)

const relationColumns = `derived_dataset_id, source_dataset_id, classifier`

// scanRelations drains rows so the connection is free again before any
// relation is handed to a caller.
func scanRelations(rows *sql.Rows) ([]lineage.Relation, error) {
	defer func() { _ = rows.Close() }()
	var out []lineage.Relation
	for rows.Next() {
		var rel lineage.Relation
		if err := rows.Scan(&rel.DerivedID, &rel.SourceID, &rel.Classifier); err != nil {
			return nil, fmt.Errorf("failed to scan lineage relation: %w", err)
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lineage relations: %w", err)
	}
	return out, nil
}

// LoadLineageRelations walks the graph one level per query, breadth first,
// up to maxDepth levels (0 = unlimited).
func (c *Conn) LoadLineageRelations(ctx context.Context, roots []uuid.UUID, direction lineage.Direction, maxDepth int) iter.Seq2[lineage.Relation, error] {
	from := "derived_dataset_id"
	if direction == lineage.Derived {
		from = "source_dataset_id"
	}

	return func(yield func(lineage.Relation, error) bool) {
		seen := make(map[uuid.UUID]struct{}, len(roots))
		frontier := make([]uuid.UUID, 0, len(roots))
		for _, id := range roots {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				frontier = append(frontier, id)
			}
		}

		for depth := 1; len(frontier) > 0 && (maxDepth <= 0 || depth <= maxDepth); depth++ {
			var next []uuid.UUID
			for _, chunk := range chunks(frontier) {
				rows, err := c.query(ctx,
					`SELECT `+relationColumns+` FROM dataset_lineage WHERE `+from+` IN (`+placeholders(len(chunk))+`)
					ORDER BY derived_dataset_id, source_dataset_id`,
					idArgs(chunk)...)
				if err != nil {
					yield(lineage.Relation{}, fmt.Errorf("failed to load lineage: %w", err))
					return
				}
				rels, err := scanRelations(rows)
				if err != nil {
					yield(lineage.Relation{}, err)
					return
				}
				for _, rel := range rels {
					other := rel.SourceID
					if direction == lineage.Derived {
						other = rel.DerivedID
					}
					if _, ok := seen[other]; !ok {
						seen[other] = struct{}{}
						next = append(next, other)
					}
					if !yield(rel, nil) {
						return
					}
				}
			}
			frontier = next
		}
	}
}

// GetAllRelations yields every relation with either endpoint in ids.
func (c *Conn) GetAllRelations(ctx context.Context, ids []uuid.UUID) iter.Seq2[lineage.Relation, error] {
	return func(yield func(lineage.Relation, error) bool) {
		seen := make(map[lineage.IDPair]struct{})
		for _, chunk := range chunks(ids) {
			in := placeholders(len(chunk))
			args := append(idArgs(chunk), idArgs(chunk)...)
			rows, err := c.query(ctx,
				`SELECT `+relationColumns+` FROM dataset_lineage
				WHERE derived_dataset_id IN (`+in+`) OR source_dataset_id IN (`+in+`)
				ORDER BY derived_dataset_id, source_dataset_id`, args...)
			if err != nil {
				yield(lineage.Relation{}, fmt.Errorf("failed to get lineage: %w", err))
				return
			}
			rels, err := scanRelations(rows)
			if err != nil {
				yield(lineage.Relation{}, err)
				return
			}
			for _, rel := range rels {
				if _, ok := seen[rel.Pair()]; ok {
					continue
				}
				seen[rel.Pair()] = struct{}{}
				if !yield(rel, nil) {
					return
				}
			}
		}
	}
}

// SelectHomes returns the recorded homes of ids.
func (c *Conn) SelectHomes(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string)
	for _, chunk := range chunks(ids) {
		rows, err := c.query(ctx,
			`SELECT dataset_ref, home FROM dataset_home WHERE dataset_ref IN (`+placeholders(len(chunk))+`)`,
			idArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("failed to select homes: %w", err)
		}
		for rows.Next() {
			var id uuid.UUID
			var home string
			if err := rows.Scan(&id, &home); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan home: %w", err)
			}
			out[id] = home
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("error iterating homes: %w", err)
		}
	}
	return out, nil
}

// InsertHome records home for ids, overwriting differing homes only when
// allowUpdates is set.
func (c *Conn) InsertHome(ctx context.Context, home string, ids []uuid.UUID, allowUpdates bool) (int, error) {
	query := `INSERT INTO dataset_home (dataset_ref, home) VALUES (?, ?) ON CONFLICT DO NOTHING`
	if allowUpdates {
		query = `INSERT INTO dataset_home (dataset_ref, home) VALUES (?, ?)
			ON CONFLICT (dataset_ref) DO UPDATE SET home = excluded.home
			WHERE dataset_home.home <> excluded.home`
	}
	total := 0
	for _, chunk := range chunks(ids) {
		for _, id := range chunk {
			n, err := c.exec(ctx, query, id.String(), home)
			if err != nil {
				return total, fmt.Errorf("failed to insert home of %s: %w", id, err)
			}
			total += n
		}
	}
	return total, nil
}

// DeleteHome removes the homes of ids, only those equal to home when it is
// not empty.
func (c *Conn) DeleteHome(ctx context.Context, ids []uuid.UUID, home string) (int, error) {
	total := 0
	for _, chunk := range chunks(ids) {
		query := `DELETE FROM dataset_home WHERE dataset_ref IN (` + placeholders(len(chunk)) + `)`
		args := idArgs(chunk)
		if home != "" {
			query += ` AND home = ?`
			args = append(args, home)
		}
		n, err := c.exec(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("failed to delete homes: %w", err)
		}
		total += n
	}
	return total, nil
}

// WriteRelations inserts rels, overwriting differing classifiers only when
// allowUpdates is set.
func (c *Conn) WriteRelations(ctx context.Context, rels []lineage.Relation, allowUpdates bool) error {
	query := `INSERT INTO dataset_lineage (` + relationColumns + `) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	if allowUpdates {
		query = `INSERT INTO dataset_lineage (` + relationColumns + `) VALUES (?, ?, ?)
			ON CONFLICT (derived_dataset_id, source_dataset_id) DO UPDATE SET classifier = excluded.classifier
			WHERE dataset_lineage.classifier <> excluded.classifier`
	}
	for _, rel := range rels {
		if _, err := c.exec(ctx, query, rel.DerivedID.String(), rel.SourceID.String(), rel.Classifier); err != nil {
			return fmt.Errorf("failed to write lineage %s: %w", rel.Pair(), err)
		}
	}
	return nil
}

// RemoveRelations deletes rels, returning how many existed.
func (c *Conn) RemoveRelations(ctx context.Context, rels []lineage.Relation) (int, error) {
	total := 0
	for _, rel := range rels {
		n, err := c.exec(ctx,
			`DELETE FROM dataset_lineage WHERE derived_dataset_id = ? AND source_dataset_id = ?`,
			rel.DerivedID.String(), rel.SourceID.String())
		if err != nil {
			return total, fmt.Errorf("failed to remove lineage %s: %w", rel.Pair(), err)
		}
		total += n
	}
	return total, nil
}

// InsertLineageBulk inserts rels with one prepared statement, counting pairs
// that already exist as skipped.
func (c *Conn) InsertLineageBulk(ctx context.Context, rels []lineage.Relation) (added, skipped int, err error) {
	stmt, err := c.tx.PrepareContext(ctx, c.dialect.rebind(
		`INSERT INTO dataset_lineage (`+relationColumns+`) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare lineage insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rel := range rels {
		res, err := stmt.ExecContext(ctx, rel.DerivedID.String(), rel.SourceID.String(), rel.Classifier)
		if err != nil {
			return added, skipped, fmt.Errorf("failed to insert lineage %s: %w", rel.Pair(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return added, skipped, err
		}
		if n > 0 {
			added++
		} else {
			skipped++
		}
	}
	return added, skipped, nil
}

// ListLineage returns up to limit relations ordered by (derived, source),
// after the given pair.
func (c *Conn) ListLineage(ctx context.Context, after lineage.IDPair, limit int) ([]lineage.Relation, error) {
	rows, err := c.query(ctx,
		`SELECT `+relationColumns+` FROM dataset_lineage
		WHERE derived_dataset_id > ? OR (derived_dataset_id = ? AND source_dataset_id > ?)
		ORDER BY derived_dataset_id, source_dataset_id LIMIT ?`,
		after.DerivedID.String(), after.DerivedID.String(), after.SourceID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list lineage: %w", err)
	}

	return scanRelations(rows)
}
