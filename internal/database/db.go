// Package database owns the Postgres connection pool and the
// golang-migrate wiring that keeps the schema in lockstep with the code
// that reads and writes it.
package database

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed all:migrations
var migrationsFS embed.FS

// DB wraps the shared connection pool.
type DB struct {
	conn *sqlx.DB
	dsn  string
}

// Config sizes the pool. The nightly run is a burst of short-lived
// connections from the worker fan-out followed by near-idle API traffic
// during the day, so the pool leans toward a higher max-open than a typical
// steady-state service.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New opens the pool and verifies connectivity.
func New(ctx context.Context, cfg Config) (*DB, error) {
	conn, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime == 0 {
		lifetime = 30 * time.Minute
	}

	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxIdle)
	conn.SetConnMaxLifetime(lifetime)

	return &DB{conn: conn, dsn: cfg.DSN}, nil
}

// Close closes the pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sqlx handle for repository construction.
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// Migrate applies every pending migration embedded under migrations/.
// Migrations are append-only and idempotent (CREATE TABLE IF NOT EXISTS,
// CREATE INDEX IF NOT EXISTS) so re-running Migrate against an up-to-date
// schema is a no-op, not an error.
func (db *DB) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db.conn.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
