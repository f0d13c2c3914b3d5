package database

import (
	"context"
	"time"
)

// Cleanup removes journal entries created before olderThan and reports how many went.
func (db *Database) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx, "DELETE FROM journal WHERE created_at < $1", olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
