package state

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrations embed.FS

func gooseDialect(d Dialect) (goose.Dialect, error) {
	switch d.Migrations {
	case "postgres":
		return goose.DialectPostgres, nil
	case "sqlite":
		return goose.DialectSQLite3, nil
	default:
		return "", fmt.Errorf("no goose migrations for dialect %s", d.Name)
	}
}

func (b *Backend) provider() (*goose.Provider, error) {
	dialect, err := gooseDialect(b.dialect)
	if err != nil {
		return nil, err
	}
	sub, err := fs.Sub(migrations, "migrations/"+b.dialect.Migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	return goose.NewProvider(dialect, b.db, sub)
}

// Init runs all pending migrations, then the dialect's schema script.
func (b *Backend) Init(ctx context.Context) error {
	if b.db == nil {
		return fmt.Errorf("database connection not established")
	}

	if b.dialect.Migrations != "" {
		p, err := b.provider()
		if err != nil {
			return fmt.Errorf("failed to set up migrations: %w", err)
		}
		results, err := p.Up(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		for _, r := range results {
			b.logger.Info("applied migration",
				slog.Int64("version", r.Source.Version),
				slog.Duration("duration", r.Duration))
		}
	}

	if b.dialect.Schema != "" {
		script, err := migrations.ReadFile("migrations/" + b.dialect.Schema)
		if err != nil {
			return fmt.Errorf("failed to read schema: %w", err)
		}
		if _, err := b.db.ExecContext(ctx, string(script)); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// MigrationVersion returns the current migration version, or 0 for
// dialects without goose migrations.
func (b *Backend) MigrationVersion(ctx context.Context) (int64, error) {
	if b.dialect.Migrations == "" {
		return 0, nil
	}
	p, err := b.provider()
	if err != nil {
		return 0, err
	}
	return p.GetDBVersion(ctx)
}
