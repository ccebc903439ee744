package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/markmhendrickson/neotoma/internal/types"
)

func (s *SQLiteStorage) InsertObservations(ctx context.Context, obs []*types.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("InsertObservations", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (id, user_id, entity_id, entity_type, source_id, interpretation_id, schema_version, observed_at, source_priority, fields_json, extraction_metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return wrapDBError("InsertObservations", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		fieldsJSON, err := json.Marshal(o.Fields)
		if err != nil {
			return err
		}
		metaJSON, err := json.Marshal(o.ExtractionMetadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, o.ID, o.UserID, o.EntityID, o.EntityType, nullIfEmpty(o.SourceID), nullIfEmpty(o.InterpretationID),
			o.SchemaVersion, o.ObservedAt.UTC().Format(time.RFC3339Nano), o.SourcePriority, string(fieldsJSON), string(metaJSON)); err != nil {
			return wrapDBError("InsertObservations", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapDBError("InsertObservations", err)
	}
	return nil
}

func (s *SQLiteStorage) ListObservations(ctx context.Context, userID string, filter types.ObservationFilter) ([]*types.Observation, error) {
	q := `SELECT id, user_id, entity_id, entity_type, source_id, interpretation_id, schema_version, observed_at, source_priority, fields_json, extraction_metadata_json
		FROM observations WHERE user_id = ?`
	args := []any{userID}
	if filter.EntityID != "" {
		q += " AND entity_id = ?"
		args = append(args, filter.EntityID)
	}
	if filter.EntityType != "" {
		q += " AND entity_type = ?"
		args = append(args, filter.EntityType)
	}
	if filter.SourceID != "" {
		q += " AND source_id = ?"
		args = append(args, filter.SourceID)
	}
	if filter.InterpretationID != "" {
		q += " AND interpretation_id = ?"
		args = append(args, filter.InterpretationID)
	}
	q += " ORDER BY source_priority DESC, observed_at DESC, source_id ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDBError("ListObservations", err)
	}
	defer rows.Close()

	out, err := scanObservations(rows)
	if err != nil {
		return nil, err
	}
	if filter.Field != "" {
		filtered := out[:0]
		for _, o := range out {
			if _, ok := o.Fields[filter.Field]; ok {
				filtered = append(filtered, o)
			}
		}
		out = filtered
	}
	return out, nil
}

func (s *SQLiteStorage) ListObservationsForEntity(ctx context.Context, userID, entityID string, at *time.Time) ([]*types.Observation, error) {
	q := `SELECT id, user_id, entity_id, entity_type, source_id, interpretation_id, schema_version, observed_at, source_priority, fields_json, extraction_metadata_json
		FROM observations WHERE user_id = ? AND entity_id = ?`
	args := []any{userID, entityID}
	if at != nil {
		q += " AND observed_at <= ?"
		args = append(args, at.UTC().Format(time.RFC3339Nano))
	}
	q += " ORDER BY source_priority DESC, observed_at DESC, source_id ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDBError("ListObservationsForEntity", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

func scanObservations(rows *sql.Rows) ([]*types.Observation, error) {
	var out []*types.Observation
	for rows.Next() {
		var o types.Observation
		var sourceID, interpretationID sql.NullString
		var observedAt string
		var fieldsJSON, metaJSON sql.NullString
		if err := rows.Scan(&o.ID, &o.UserID, &o.EntityID, &o.EntityType, &sourceID, &interpretationID,
			&o.SchemaVersion, &observedAt, &o.SourcePriority, &fieldsJSON, &metaJSON); err != nil {
			return nil, wrapDBError("scanObservations", err)
		}
		o.SourceID = sourceID.String
		o.InterpretationID = interpretationID.String
		t, err := time.Parse(time.RFC3339Nano, observedAt)
		if err != nil {
			return nil, err
		}
		o.ObservedAt = t
		if fieldsJSON.Valid {
			if err := json.Unmarshal([]byte(fieldsJSON.String), &o.Fields); err != nil {
				return nil, fmt.Errorf("scanObservations: fields: %w", err)
			}
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &o.ExtractionMetadata)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
