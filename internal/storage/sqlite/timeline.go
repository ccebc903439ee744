package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/markmhendrickson/neotoma/internal/types"
)

func (s *SQLiteStorage) InsertTimelineEvent(ctx context.Context, ev *types.TimelineEvent) error {
	entityIDsJSON, err := json.Marshal(ev.EntityIDs)
	if err != nil {
		return err
	}
	fieldsJSON, err := json.Marshal(ev.Fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO timeline_events (id, user_id, event_type, entity_ids_json, source_id, interpretation_id, occurred_at, fields_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.EventType, string(entityIDsJSON), nullIfEmpty(ev.SourceID), nullIfEmpty(ev.InterpretationID),
		ev.OccurredAt.UTC().Format(time.RFC3339Nano), string(fieldsJSON))
	return wrapDBError("InsertTimelineEvent", err)
}

func (s *SQLiteStorage) ListTimelineEvents(ctx context.Context, userID string, filter types.TimelineFilter) ([]*types.TimelineEvent, error) {
	q := `SELECT id, user_id, event_type, entity_ids_json, source_id, interpretation_id, occurred_at, fields_json
		FROM timeline_events WHERE user_id = ?`
	args := []any{userID}
	if filter.EventType != "" {
		q += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	if filter.From != nil {
		q += " AND occurred_at >= ?"
		args = append(args, filter.From.UTC().Format(time.RFC3339Nano))
	}
	if filter.To != nil {
		q += " AND occurred_at <= ?"
		args = append(args, filter.To.UTC().Format(time.RFC3339Nano))
	}
	q += " ORDER BY occurred_at ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDBError("ListTimelineEvents", err)
	}
	defer rows.Close()

	var out []*types.TimelineEvent
	for rows.Next() {
		var ev types.TimelineEvent
		var sourceID, interpretationID sql.NullString
		var entityIDsJSON, fieldsJSON sql.NullString
		var occurredAt string
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.EventType, &entityIDsJSON, &sourceID, &interpretationID, &occurredAt, &fieldsJSON); err != nil {
			return nil, wrapDBError("ListTimelineEvents", err)
		}
		ev.SourceID = sourceID.String
		ev.InterpretationID = interpretationID.String
		t, err := time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, err
		}
		ev.OccurredAt = t
		if entityIDsJSON.Valid {
			_ = json.Unmarshal([]byte(entityIDsJSON.String), &ev.EntityIDs)
		}
		if fieldsJSON.Valid && fieldsJSON.String != "" {
			_ = json.Unmarshal([]byte(fieldsJSON.String), &ev.Fields)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
