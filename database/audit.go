package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// ModerationEvent is one audit row for an admin or automated action on
// a match candidate.
type ModerationEvent struct {
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	Details    any
}

// InsertModerationEvent appends a moderation/audit row (best-effort).
// Callers should treat failures as non-fatal; the primary operation
// should not depend on this log.
func (d *Database) InsertModerationEvent(ctx context.Context, ev ModerationEvent) error {
	var detailsJSON []byte
	if ev.Details != nil {
		if b, err := json.Marshal(ev.Details); err == nil {
			detailsJSON = b
		}
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO moderation_events (actor, action, target_type, target_id, details)
		VALUES (?, ?, ?, ?, ?)`,
		nullableStr(ev.Actor),
		ev.Action,
		ev.TargetType,
		ev.TargetID,
		nullableBytes(detailsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert moderation event: %w", err)
	}
	return nil
}

func nullableStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
