// Package mysql implements store.Driver on go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"

	// Registers the "mysql" database/sql driver.
	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// DB implements store.Driver.
type DB struct {
	db *sql.DB
}

// NewDB connects using a mysql DSN and runs migrations.
func NewDB(dsn string) (*DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open mysql database")
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
			id         INT AUTO_INCREMENT PRIMARY KEY,
			uid        VARCHAR(36) NOT NULL UNIQUE,
			title      TEXT NOT NULL,
			tier       VARCHAR(16) NOT NULL DEFAULT 'free',
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS thread (
			id         INT AUTO_INCREMENT PRIMARY KEY,
			uid        VARCHAR(36) NOT NULL UNIQUE,
			room_id    INT NOT NULL,
			title      TEXT NOT NULL,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL,
			FOREIGN KEY (room_id) REFERENCES room (id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS message (
			id          INT AUTO_INCREMENT PRIMARY KEY,
			thread_id   INT NOT NULL,
			sender_id   INT NOT NULL DEFAULT 0,
			role        VARCHAR(16) NOT NULL,
			content     MEDIUMTEXT NOT NULL,
			model       VARCHAR(64) NOT NULL DEFAULT '',
			token_count INT NOT NULL DEFAULT 0,
			created_ts  BIGINT NOT NULL,
			INDEX idx_message_thread (thread_id),
			FOREIGN KEY (thread_id) REFERENCES thread (id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS usage_counter (
			scope_id     VARCHAR(64) NOT NULL,
			resource     VARCHAR(32) NOT NULL,
			window_kind  VARCHAR(16) NOT NULL,
			window_start BIGINT NOT NULL,
			count        INT NOT NULL DEFAULT 0,
			PRIMARY KEY (scope_id, resource, window_kind, window_start)
		)`,
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, "migrate mysql schema")
		}
	}
	return nil
}
