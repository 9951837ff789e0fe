// Package db owns the PostgreSQL connection pool and schema migrations for
// the transaction, error-log, and preference tables.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pingTimeout bounds the startup connectivity probe so a wedged database
// fails the boot quickly instead of hanging it.
const pingTimeout = 5 * time.Second

// Connect builds a pgx pool sized for the worker pools that will share it
// and verifies the server is reachable before anything is wired on top.
func Connect(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = maxConns
	poolCfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Migrate applies any pending up-migrations from sourceDir. Re-running
// against an up-to-date schema is a no-op, so every boot calls this
// unconditionally before the dispatcher or workers touch a table.
func Migrate(databaseURL, sourceDir string) error {
	m, err := migrate.New("file://"+sourceDir, migrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// migrateURL rewrites a postgres:// or postgresql:// connection string to
// the pgx5:// scheme golang-migrate's pgx/v5 driver registers under.
func migrateURL(databaseURL string) string {
	if _, rest, ok := strings.Cut(databaseURL, "://"); ok {
		return "pgx5://" + rest
	}
	return "pgx5://" + databaseURL
}
