// Package dbopen opens the SQLite databases feedshot keeps its reports,
// rate-limit rules and observability data in. Every connection gets the
// same pragmas:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// Usage:
//
//	db, err := dbopen.Open("data/feedshot.db", dbopen.WithMkdirAll(), dbopen.WithInit(shield.Init))
//
// In tests:
//
//	db := dbopen.OpenMemory(t)
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const driverName = "sqlite"

type config struct {
	busyTimeout int
	synchronous string
	foreignKeys bool
	mkdirAll    bool
	inits       []func(*sql.DB) error
}

func defaults() config {
	return config{
		busyTimeout: 10_000,
		synchronous: "NORMAL",
		foreignKeys: true,
	}
}

// Option customises Open.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: NORMAL.
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithoutForeignKeys disables PRAGMA foreign_keys.
func WithoutForeignKeys() Option { return func(c *config) { c.foreignKeys = false } }

// WithSchema executes DDL after the pragmas.
func WithSchema(ddl string) Option {
	return WithInit(func(db *sql.DB) error {
		_, err := db.Exec(ddl)
		return err
	})
}

// WithInit runs fn after the pragmas, in option order. Package Init
// functions such as shield.Init and observability.Init fit here.
func WithInit(fn func(*sql.DB) error) Option {
	return func(c *config) { c.inits = append(c.inits, fn) }
}

// Open opens the SQLite database at path, applies the pragmas and runs the
// init functions. The returned handle is closed on any error.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}
	if err := applyPragmas(db, &cfg); err != nil {
		db.Close()
		return nil, err
	}
	for i, fn := range cfg.inits {
		if err := fn(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: init %d: %w", i, err)
		}
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests and closes it on cleanup.
// It is limited to one connection: every connection to ":memory:" opens a
// separate database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func applyPragmas(db *sql.DB, cfg *config) error {
	fk := "ON"
	if !cfg.foreignKeys {
		fk = "OFF"
	}
	for _, p := range []string{
		"PRAGMA foreign_keys = " + fk,
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		"PRAGMA synchronous = " + cfg.synchronous,
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}
	return nil
}
