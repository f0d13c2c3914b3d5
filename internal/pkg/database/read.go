package database

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/anicoll/scalemodel-panel/internal/pkg/model"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Recent returns the newest journal entries first. limit is clamped to [1, MaxLimit];
// zero or less means DefaultLimit.
func (db *Database) Recent(ctx context.Context, limit int) ([]model.JournalEntry, error) {
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	rows, err := db.pool.Query(ctx, `
	SELECT id, direction, topic, command_type, payload, created_at
	FROM journal
	ORDER BY created_at DESC, id
	LIMIT $1;
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]model.JournalEntry, error) {
	entries := []model.JournalEntry{}
	for rows.Next() {
		var (
			entry     model.JournalEntry
			direction string
			typ       string
		)
		if err := rows.Scan(&entry.ID, &direction, &entry.Topic, &typ, &entry.Payload, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Direction = model.Direction(direction)
		entry.Type = model.CommandType(typ)
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
