// Package sqlite provides the embedded SQLite index backend.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/leapstack-labs/provcat/internal/state"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/index"

	_ "modernc.org/sqlite" // sqlite driver
)

// Params holds SQLite-specific options, decoded from IndexConfig.Options.
type Params struct {
	// BusyTimeout is how long a writer waits for the file lock.
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	// JournalMode is the SQLite journal mode (WAL, DELETE, ...).
	JournalMode string `mapstructure:"journal_mode"`
	// Synchronous is the SQLite synchronous pragma (NORMAL, FULL, ...).
	Synchronous string `mapstructure:"synchronous"`
}

func defaultParams() Params {
	return Params{BusyTimeout: 5 * time.Second, JournalMode: "WAL", Synchronous: "NORMAL"}
}

// buildDSN constructs a modernc.org/sqlite DSN for path. Every
// transaction takes the write lock up front so concurrent writers queue on
// busy_timeout instead of failing on lock upgrade.
func buildDSN(path string, p Params) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout("+strconv.FormatInt(p.BusyTimeout.Milliseconds(), 10)+")")
	q.Add("_pragma", "journal_mode("+p.JournalMode+")")
	q.Add("_pragma", "synchronous("+p.Synchronous+")")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// OpenDB opens a single-connection write pool on the database file at path.
func OpenDB(ctx context.Context, path string, p Params) (*sql.DB, error) {
	db, err := sql.Open("sqlite", buildDSN(path, p))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	return db, nil
}

// Open connects to the SQLite file named by cfg.Database and returns an
// index over it. The schema is not created; call Init.
//
// The pool holds one connection: callers must pass the transaction context
// to every call made inside a transaction.
func Open(ctx context.Context, cfg core.IndexConfig, logger *slog.Logger) (core.Index, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("sqlite backend requires database (a file path)")
	}
	p := defaultParams()
	if err := index.DecodeOptions(cfg.Options, &p); err != nil {
		return nil, err
	}

	logger.Debug("opening sqlite index", slog.String("path", cfg.Database))
	db, err := OpenDB(ctx, cfg.Database, p)
	if err != nil {
		return nil, err
	}
	return index.New(cfg.Name, state.New(db, state.SQLite, logger),
		index.WithLogger(logger), index.WithBatchSize(cfg.BatchSize)), nil
}

func init() {
	index.Register("sqlite", Open)
}
