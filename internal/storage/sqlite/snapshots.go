package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/markmhendrickson/neotoma/internal/types"
)

func (s *SQLiteStorage) PutEntitySnapshot(ctx context.Context, snap *types.EntitySnapshot) error {
	fieldsJSON, err := json.Marshal(snap.Fields)
	if err != nil {
		return err
	}
	provJSON, err := json.Marshal(snap.FieldProvenance)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entity_snapshots (entity_id, user_id, entity_type, canonical_name, fields_json, field_provenance_json, observation_count, tombstoned, computed_at, redirected_from)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			canonical_name = excluded.canonical_name,
			fields_json = excluded.fields_json,
			field_provenance_json = excluded.field_provenance_json,
			observation_count = excluded.observation_count,
			tombstoned = excluded.tombstoned,
			computed_at = excluded.computed_at,
			redirected_from = excluded.redirected_from`,
		snap.EntityID, snap.UserID, snap.EntityType, nullIfEmpty(snap.CanonicalName), string(fieldsJSON), string(provJSON),
		snap.ObservationCount, snap.Tombstoned, snap.ComputedAt.UTC().Format(time.RFC3339Nano), nullIfEmpty(snap.RedirectedFrom))
	return wrapDBError("PutEntitySnapshot", err)
}

func (s *SQLiteStorage) GetEntitySnapshot(ctx context.Context, userID, entityID string) (*types.EntitySnapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity_id, user_id, entity_type, canonical_name, fields_json, field_provenance_json, observation_count, tombstoned, computed_at, redirected_from
		FROM entity_snapshots WHERE user_id = ? AND entity_id = ?`, userID, entityID)

	var snap types.EntitySnapshot
	var canonicalName, redirectedFrom sql.NullString
	var fieldsJSON, provJSON sql.NullString
	var computedAt string
	if err := row.Scan(&snap.EntityID, &snap.UserID, &snap.EntityType, &canonicalName, &fieldsJSON, &provJSON,
		&snap.ObservationCount, &snap.Tombstoned, &computedAt, &redirectedFrom); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, wrapDBError("GetEntitySnapshot", err)
	}
	snap.CanonicalName = canonicalName.String
	snap.RedirectedFrom = redirectedFrom.String
	t, err := time.Parse(time.RFC3339Nano, computedAt)
	if err != nil {
		return nil, false, err
	}
	snap.ComputedAt = t
	if fieldsJSON.Valid {
		_ = json.Unmarshal([]byte(fieldsJSON.String), &snap.Fields)
	}
	if provJSON.Valid {
		_ = json.Unmarshal([]byte(provJSON.String), &snap.FieldProvenance)
	}
	return &snap, true, nil
}

func (s *SQLiteStorage) DeleteEntitySnapshot(ctx context.Context, userID, entityID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entity_snapshots WHERE user_id = ? AND entity_id = ?`, userID, entityID)
	return wrapDBError("DeleteEntitySnapshot", err)
}

func (s *SQLiteStorage) PutRelationshipSnapshot(ctx context.Context, snap *types.RelationshipSnapshot) error {
	fieldsJSON, err := json.Marshal(snap.Fields)
	if err != nil {
		return err
	}
	provJSON, err := json.Marshal(snap.FieldProvenance)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationship_snapshots (relationship_key, canonical_hash, user_id, source_entity_id, relationship_type, target_entity_id, fields_json, field_provenance_json, observation_count, tombstoned, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(relationship_key) DO UPDATE SET
			canonical_hash = excluded.canonical_hash,
			fields_json = excluded.fields_json,
			field_provenance_json = excluded.field_provenance_json,
			observation_count = excluded.observation_count,
			tombstoned = excluded.tombstoned,
			computed_at = excluded.computed_at`,
		snap.RelationshipKey, snap.CanonicalHash, snap.UserID, snap.SourceEntityID, snap.RelationshipType, snap.TargetEntityID,
		string(fieldsJSON), string(provJSON), snap.ObservationCount, snap.Tombstoned, snap.ComputedAt.UTC().Format(time.RFC3339Nano))
	return wrapDBError("PutRelationshipSnapshot", err)
}

func (s *SQLiteStorage) GetRelationshipSnapshot(ctx context.Context, userID, relationshipKey string) (*types.RelationshipSnapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT relationship_key, canonical_hash, user_id, source_entity_id, relationship_type, target_entity_id, fields_json, field_provenance_json, observation_count, tombstoned, computed_at
		FROM relationship_snapshots WHERE user_id = ? AND relationship_key = ?`, userID, relationshipKey)

	var snap types.RelationshipSnapshot
	var fieldsJSON, provJSON sql.NullString
	var computedAt string
	if err := row.Scan(&snap.RelationshipKey, &snap.CanonicalHash, &snap.UserID, &snap.SourceEntityID, &snap.RelationshipType,
		&snap.TargetEntityID, &fieldsJSON, &provJSON, &snap.ObservationCount, &snap.Tombstoned, &computedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, wrapDBError("GetRelationshipSnapshot", err)
	}
	t, err := time.Parse(time.RFC3339Nano, computedAt)
	if err != nil {
		return nil, false, err
	}
	snap.ComputedAt = t
	if fieldsJSON.Valid {
		_ = json.Unmarshal([]byte(fieldsJSON.String), &snap.Fields)
	}
	if provJSON.Valid {
		_ = json.Unmarshal([]byte(provJSON.String), &snap.FieldProvenance)
	}
	return &snap, true, nil
}
