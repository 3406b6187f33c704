// Package sqlite implements store.Driver on the pure-Go modernc sqlite
// driver. It is the default backend and the one exercised by tests.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// DB implements store.Driver.
type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) the database at dsn and runs migrations.
func NewDB(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, errors.Wrap(err, "enable foreign keys")
	}
	d := &DB{db: db}
	if err := d.migrate(context.Background()); err != nil {
		return nil, err
	}
	return d, nil
}

// Ping verifies connectivity.
func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// Close closes the database handle.
func (d *DB) Close() error { return d.db.Close() }

func (d *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS room (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			uid        TEXT NOT NULL UNIQUE,
			title      TEXT NOT NULL,
			tier       TEXT NOT NULL DEFAULT 'free',
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS thread (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			uid        TEXT NOT NULL UNIQUE,
			room_id    INTEGER NOT NULL,
			title      TEXT NOT NULL,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL,
			FOREIGN KEY (room_id) REFERENCES room (id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS message (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id   INTEGER NOT NULL,
			sender_id   INTEGER NOT NULL DEFAULT 0,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			model       TEXT NOT NULL DEFAULT '',
			token_count INTEGER NOT NULL DEFAULT 0,
			created_ts  BIGINT NOT NULL,
			FOREIGN KEY (thread_id) REFERENCES thread (id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_message_thread ON message (thread_id)`,
		`CREATE TABLE IF NOT EXISTS usage_counter (
			scope_id     TEXT NOT NULL,
			resource     TEXT NOT NULL,
			window_kind  TEXT NOT NULL,
			window_start BIGINT NOT NULL,
			count        INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (scope_id, resource, window_kind, window_start)
		)`,
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, "migrate sqlite schema")
		}
	}
	return nil
}
