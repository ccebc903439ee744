package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/markmhendrickson/neotoma/internal/types"
)

func (s *SQLiteStorage) InsertRelationshipObservations(ctx context.Context, obs []*types.RelationshipObservation) error {
	if len(obs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("InsertRelationshipObservations", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO relationship_observations
			(id, user_id, source_entity_id, relationship_type, target_entity_id, relationship_key, canonical_hash,
			 source_id, interpretation_id, schema_version, observed_at, source_priority, fields_json, extraction_metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return wrapDBError("InsertRelationshipObservations", err)
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
		if _, err := stmt.ExecContext(ctx, o.ID, o.UserID, o.SourceEntityID, o.RelationshipType, o.TargetEntityID,
			o.RelationshipKey, o.CanonicalHash, nullIfEmpty(o.SourceID), nullIfEmpty(o.InterpretationID), o.SchemaVersion,
			o.ObservedAt.UTC().Format(time.RFC3339Nano), o.SourcePriority, string(fieldsJSON), string(metaJSON)); err != nil {
			return wrapDBError("InsertRelationshipObservations", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapDBError("InsertRelationshipObservations", err)
	}
	return nil
}

func (s *SQLiteStorage) ListRelationshipObservationsByKey(ctx context.Context, userID, relationshipKey string, at *time.Time) ([]*types.RelationshipObservation, error) {
	q := `SELECT id, user_id, source_entity_id, relationship_type, target_entity_id, relationship_key, canonical_hash,
			source_id, interpretation_id, schema_version, observed_at, source_priority, fields_json, extraction_metadata_json
		FROM relationship_observations WHERE user_id = ? AND relationship_key = ?`
	args := []any{userID, relationshipKey}
	if at != nil {
		q += " AND observed_at <= ?"
		args = append(args, at.UTC().Format(time.RFC3339Nano))
	}
	q += " ORDER BY source_priority DESC, observed_at DESC, source_id ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDBError("ListRelationshipObservationsByKey", err)
	}
	defer rows.Close()

	var out []*types.RelationshipObservation
	for rows.Next() {
		var o types.RelationshipObservation
		var sourceID, interpretationID sql.NullString
		var observedAt string
		var fieldsJSON, metaJSON sql.NullString
		if err := rows.Scan(&o.ID, &o.UserID, &o.SourceEntityID, &o.RelationshipType, &o.TargetEntityID, &o.RelationshipKey,
			&o.CanonicalHash, &sourceID, &interpretationID, &o.SchemaVersion, &observedAt, &o.SourcePriority, &fieldsJSON, &metaJSON); err != nil {
			return nil, wrapDBError("ListRelationshipObservationsByKey", err)
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
				return nil, err
			}
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &o.ExtractionMetadata)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) ListRelationshipKeysForEntity(ctx context.Context, userID, entityID string, direction types.RelationshipDirection, relType string) ([]string, error) {
	var q string
	args := []any{userID, entityID}
	switch direction {
	case types.DirectionOutbound:
		q = `SELECT DISTINCT relationship_key FROM relationship_observations WHERE user_id = ? AND source_entity_id = ?`
	case types.DirectionInbound:
		q = `SELECT DISTINCT relationship_key FROM relationship_observations WHERE user_id = ? AND target_entity_id = ?`
	default:
		q = `SELECT DISTINCT relationship_key FROM relationship_observations WHERE user_id = ? AND (source_entity_id = ? OR target_entity_id = ?)`
		args = append(args, entityID)
	}
	if relType != "" {
		q += " AND relationship_type = ?"
		args = append(args, relType)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDBError("ListRelationshipKeysForEntity", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, wrapDBError("ListRelationshipKeysForEntity", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
