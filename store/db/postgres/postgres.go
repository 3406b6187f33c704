// Package postgres implements store.Driver on lib/pq.
package postgres

import (
	"context"
	"database/sql"

	// Registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// DB implements store.Driver.
type DB struct {
	db *sql.DB
}

// NewDB connects using a postgres DSN and runs migrations.
func NewDB(dsn string) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres database")
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
			id         SERIAL PRIMARY KEY,
			uid        TEXT NOT NULL UNIQUE,
			title      TEXT NOT NULL,
			tier       TEXT NOT NULL DEFAULT 'free',
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS thread (
			id         SERIAL PRIMARY KEY,
			uid        TEXT NOT NULL UNIQUE,
			room_id    INTEGER NOT NULL REFERENCES room (id) ON DELETE CASCADE,
			title      TEXT NOT NULL,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS message (
			id          SERIAL PRIMARY KEY,
			thread_id   INTEGER NOT NULL REFERENCES thread (id) ON DELETE CASCADE,
			sender_id   INTEGER NOT NULL DEFAULT 0,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			model       TEXT NOT NULL DEFAULT '',
			token_count INTEGER NOT NULL DEFAULT 0,
			created_ts  BIGINT NOT NULL
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
			return errors.Wrap(err, "migrate postgres schema")
		}
	}
	return nil
}
