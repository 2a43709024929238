package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"assessflow/internal/events"
)

// SaveEvent stores an event. Redelivered events with a known id are ignored.
func (s *Store) SaveEvent(ctx context.Context, evt events.Event) error {
	payload, err := nullableJSON(evt.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = s.execWithRetry(ctx, `INSERT OR IGNORE INTO events (
            id, seq, type, workflow_id, stage_id, emitted_at, payload_json, dedupe_key
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.ID,
		int64(evt.Sequence),
		string(evt.Type),
		nullableString(evt.WorkflowID),
		nullableString(evt.StageID),
		formatTime(evt.Timestamp),
		payload,
		evt.Key(),
	)
	if err != nil {
		return fmt.Errorf("save event %s: %w", evt.ID, err)
	}
	return nil
}

// EventsSince returns events emitted at or after since, oldest first. An
// empty workflowID matches every workflow; limit <= 0 means no limit.
func (s *Store) EventsSince(ctx context.Context, since time.Time, workflowID string, limit int) ([]events.Event, error) {
	query := `SELECT id, seq, type, workflow_id, stage_id, emitted_at, payload_json FROM events WHERE emitted_at >= ?`
	args := []any{formatTime(since)}
	if workflowID != "" {
		query += ` AND workflow_id = ?`
		args = append(args, workflowID)
	}
	query += ` ORDER BY emitted_at, rowid`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			evt        events.Event
			seq        int64
			eventType  string
			workflowID sql.NullString
			stageID    sql.NullString
			emittedRaw string
			payloadRaw sql.NullString
		)
		if err := rows.Scan(&evt.ID, &seq, &eventType, &workflowID, &stageID, &emittedRaw, &payloadRaw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Sequence = uint64(seq)
		evt.Type = events.Type(eventType)
		evt.WorkflowID = workflowID.String
		evt.StageID = stageID.String
		if ts, err := parseTimeString(emittedRaw); err == nil {
			evt.Timestamp = ts
		}
		if payloadRaw.Valid && payloadRaw.String != "" {
			if err := json.Unmarshal([]byte(payloadRaw.String), &evt.Payload); err != nil {
				return nil, fmt.Errorf("decode payload for %s: %w", evt.ID, err)
			}
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}
