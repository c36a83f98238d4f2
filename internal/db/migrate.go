package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/geocoder89/connecthub/internal/config"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrate applies pending schema migrations for the connection's driver.
// Running it against an up-to-date database is a no-op.
func (c *Conn) Migrate(ctx context.Context) error {
	// migrations get their own handle; the serving handle for sqlite is
	// capped at one connection
	switch c.Driver {
	case config.DriverSQLite:
		sqlDB, err := openSQLite(ctx, c.dsn, 0)
		if err != nil {
			return fmt.Errorf("open migration connection: %w", err)
		}
		defer sqlDB.Close()

		return migrate(ctx, sqlDB, goose.DialectSQLite3, "migrations/sqlite")

	case config.DriverPostgres:
		sqlDB, err := sql.Open("pgx", c.dsn)
		if err != nil {
			return fmt.Errorf("open migration connection: %w", err)
		}
		defer sqlDB.Close()

		return migrate(ctx, sqlDB, goose.DialectPostgres, "migrations/postgres")

	default:
		return fmt.Errorf("unsupported db driver %q", c.Driver)
	}
}

func migrate(ctx context.Context, sqlDB *sql.DB, dialect goose.Dialect, dir string) error {
	fsys, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(dialect, sqlDB, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	for _, r := range results {
		slog.Default().InfoContext(ctx, "migration applied", "version", r.Source.Version, "duration", r.Duration)
	}

	return nil
}
