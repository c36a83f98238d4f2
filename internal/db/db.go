package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/geocoder89/connecthub/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Conn is the open storage handle for one of the supported drivers.
// Postgres is served through a pgx pool; SQL is only opened for it while
// migrations run. SQLite uses SQL for everything.
type Conn struct {
	Driver string
	Pool   *pgxpool.Pool
	SQL    *sql.DB

	dsn string
}

func Open(ctx context.Context, cfg config.Config) (*Conn, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		pool, err := NewPool(ctx, cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &Conn{Driver: config.DriverPostgres, Pool: pool, dsn: cfg.DBURL}, nil

	case config.DriverSQLite:
		sqlDB, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &Conn{Driver: config.DriverSQLite, SQL: sqlDB, dsn: cfg.SQLitePath}, nil

	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}

func NewPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)

	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 5

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)

	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)

	if err != nil {
		return nil, err
	}

	err = pool.Ping(ctx)

	if err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// OpenSQLite opens (creating if needed) a SQLite database file for serving.
// It is capped at one connection so writes never contend.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	return openSQLite(ctx, path, 1)
}

func openSQLite(ctx context.Context, path string, maxConns int) (*sql.DB, error) {
	// pragmas in the dsn are applied to every new connection
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return sqlDB, nil
}

func (c *Conn) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Pool != nil {
		return c.Pool.Ping(ctx)
	}
	if c.SQL != nil {
		return c.SQL.PingContext(ctx)
	}
	return fmt.Errorf("db connection is not open")
}

func (c *Conn) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
	if c.SQL != nil {
		_ = c.SQL.Close()
	}
}
