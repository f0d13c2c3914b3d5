package database

import (
	"context"
	"fmt"

	"github.com/anicoll/scalemodel-panel/internal/pkg/model"
)

// Record appends entry to the journal. Recording the same ID twice is a no-op.
func (db *Database) Record(ctx context.Context, entry model.JournalEntry) error {
	if _, err := db.pool.Exec(ctx, `
		INSERT INTO journal (id, direction, topic, command_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING;`,
		entry.ID, string(entry.Direction), entry.Topic, string(entry.Type), entry.Payload, entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("record journal entry: %w", err)
	}
	return nil
}
