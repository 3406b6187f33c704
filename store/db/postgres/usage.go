package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

func (d *DB) GetUsageCount(ctx context.Context, scopeID, resource, windowKind string, windowStart int64) (int32, error) {
	var count int32
	err := d.db.QueryRowContext(ctx,
		`SELECT count FROM usage_counter WHERE scope_id = $1 AND resource = $2 AND window_kind = $3 AND window_start = $4`,
		scopeID, resource, windowKind, windowStart,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

func (d *DB) IncrementUsageCounter(ctx context.Context, scopeID, resource, windowKind string, windowStart int64) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO usage_counter (scope_id, resource, window_kind, window_start, count)
		 VALUES ($1, $2, $3, $4, 1)
		 ON CONFLICT (scope_id, resource, window_kind, window_start) DO UPDATE SET count = usage_counter.count + 1`,
		scopeID, resource, windowKind, windowStart,
	)
	return err
}
