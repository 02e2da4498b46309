// Package db opens the marketplace database (Postgres or SQLite) and
// brings its schema up to date.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sudo-init-do/homebid/internal/config"
	"github.com/sudo-init-do/homebid/internal/store"
)

// Open connects to the configured backend and runs migrations.
func Open(ctx context.Context, cfg config.DBConfig) (*store.DB, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg.URL)
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

// OpenPostgres builds a pgx pool and exposes it through database/sql.
func OpenPostgres(ctx context.Context, dsn string) (*store.DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	d := store.New(stdlib.OpenDBFromPool(pool), store.Postgres, pool.Close)
	if err := migrate(ctx, d); err != nil {
		d.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("connected to postgres", "max_conns", poolCfg.MaxConns)
	return d, nil
}

// OpenSQLite opens (or creates) a SQLite database at path with WAL,
// foreign keys and immediate transactions, then runs migrations.
func OpenSQLite(ctx context.Context, path string) (*store.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	d := store.New(sqlDB, store.SQLite)
	if err := migrate(ctx, d); err != nil {
		closeErr := d.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (also failed to close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return d, nil
}
