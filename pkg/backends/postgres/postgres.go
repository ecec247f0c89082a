// Package postgres provides the PostgreSQL index backend.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/leapstack-labs/provcat/internal/state"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/index"
)

// Params holds PostgreSQL-specific options, decoded from IndexConfig.Options.
type Params struct {
	SSLMode         string        `mapstructure:"sslmode"`
	ApplicationName string        `mapstructure:"application_name"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func defaultParams() Params {
	return Params{
		SSLMode:         "disable",
		ApplicationName: "provcat",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// BuildDSN constructs a key=value PostgreSQL connection string.
func BuildDSN(cfg core.IndexConfig, p Params) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		host, port, cfg.Database, p.SSLMode)

	if p.ApplicationName != "" {
		dsn += fmt.Sprintf(" application_name=%s", p.ApplicationName)
	}
	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}

	return dsn
}

// OpenDB opens and pings a pgx pool for cfg.
func OpenDB(ctx context.Context, cfg core.IndexConfig, logger *slog.Logger) (*sql.DB, error) {
	p := defaultParams()
	if err := index.DecodeOptions(cfg.Options, &p); err != nil {
		return nil, err
	}

	logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("pgx", BuildDSN(cfg, p))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(p.MaxOpenConns)
	db.SetMaxIdleConns(p.MaxIdleConns)
	db.SetConnMaxLifetime(p.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// Open connects to PostgreSQL and returns an index over it. The schema is
// not created; call Init.
func Open(ctx context.Context, cfg core.IndexConfig, logger *slog.Logger) (core.Index, error) {
	db, err := OpenDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return index.New(cfg.Name, state.New(db, state.Postgres, logger),
		index.WithLogger(logger), index.WithBatchSize(cfg.BatchSize)), nil
}

func init() {
	index.Register("postgres", Open)
}
