// Package state implements the store contract over database/sql for the
// relational backends. One Backend wraps a *sql.DB and a Dialect; every
// transaction becomes a Conn around a *sql.Tx.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/leapstack-labs/provcat/pkg/store"
	"github.com/leapstack-labs/provcat/pkg/txn"
)

// Dialect captures the differences between the supported SQL engines.
type Dialect struct {
	// Name identifies the dialect in logs and errors.
	Name string
	// Numbered placeholders ($1, $2, ...) instead of ?.
	Numbered bool
	// Migrations is the directory under migrations/ holding goose
	// migrations. Empty means Schema is executed directly instead.
	Migrations string
	// Schema is an idempotent schema script under migrations/.
	Schema string
	// Spatial maintains a PostGIS footprint for datasets with an extent.
	Spatial bool
}

var (
	// Postgres is plain PostgreSQL.
	Postgres = Dialect{Name: "postgres", Numbered: true, Migrations: "postgres"}
	// PostGIS is PostgreSQL with a spatially indexed dataset footprint.
	PostGIS = Dialect{Name: "postgis", Numbered: true, Migrations: "postgres", Schema: "postgis/spatial.sql", Spatial: true}
	// SQLite is an embedded SQLite file.
	SQLite = Dialect{Name: "sqlite", Migrations: "sqlite"}
	// DuckDB is an embedded DuckDB file.
	DuckDB = Dialect{Name: "duckdb", Schema: "duckdb/schema.sql"}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Backend is a store.Backend over a database/sql pool.
type Backend struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

var _ store.Backend = (*Backend)(nil)

// New wraps db. The backend owns db and closes it on Close.
// If logger is nil, a discard logger is used.
func New(db *sql.DB, dialect Dialect, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{db: db, dialect: dialect, logger: logger}
}

// DB returns the underlying pool.
func (b *Backend) DB() *sql.DB { return b.db }

// Dialect returns the backend's dialect.
func (b *Backend) Dialect() Dialect { return b.dialect }

// Begin opens a transaction.
func (b *Backend) Begin(ctx context.Context) (txn.Conn, error) {
	if b.db == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{tx: tx, dialect: b.dialect}, nil
}

// Close closes the pool.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	b.logger.Debug("closing database connection", slog.String("dialect", b.dialect.Name))
	return b.db.Close()
}

// Conn is one open transaction.
type Conn struct {
	tx      *sql.Tx
	dialect Dialect
}

var _ store.Conn = (*Conn)(nil)

// Commit commits the transaction.
func (c *Conn) Commit(context.Context) error { return c.tx.Commit() }

// Rollback rolls the transaction back.
func (c *Conn) Rollback(context.Context) error { return c.tx.Rollback() }

func (c *Conn) exec(ctx context.Context, query string, args ...any) (int, error) {
	res, err := c.tx.ExecContext(ctx, c.dialect.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (c *Conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.tx.QueryContext(ctx, c.dialect.rebind(query), args...)
}

func (c *Conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.tx.QueryRowContext(ctx, c.dialect.rebind(query), args...)
}
