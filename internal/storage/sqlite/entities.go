package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/markmhendrickson/neotoma/internal/types"
)

func (s *SQLiteStorage) LookupEntityByResolutionKey(ctx context.Context, userID, entityType, resolutionKey string) (*types.Entity, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, entity_type, canonical_name, merged_to_entity_id, merged_at, created_at
		FROM entities WHERE user_id = ? AND entity_type = ? AND resolution_key = ?`, userID, entityType, resolutionKey)
	ent, err := scanEntity(row)
	if err != nil {
		if isNotFound(wrapDBError("LookupEntityByResolutionKey", err)) {
			return nil, false, nil
		}
		return nil, false, wrapDBError("LookupEntityByResolutionKey", err)
	}
	return ent, true, nil
}

func (s *SQLiteStorage) InsertEntity(ctx context.Context, ent *types.Entity, resolutionKey string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, user_id, entity_type, canonical_name, resolution_key, merged_to_entity_id, merged_at, created_at)
		VALUES (?, ?, ?, ?, ?, NULL, NULL, ?)`,
		ent.ID, ent.UserID, ent.EntityType, nullIfEmpty(ent.CanonicalName), resolutionKey, ent.CreatedAt.UTC().Format(time.RFC3339Nano))
	return wrapDBError("InsertEntity", err)
}

func (s *SQLiteStorage) GetEntity(ctx context.Context, userID, entityID string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, entity_type, canonical_name, merged_to_entity_id, merged_at, created_at
		FROM entities WHERE user_id = ? AND id = ?`, userID, entityID)
	ent, err := scanEntity(row)
	if err != nil {
		return nil, wrapDBError("GetEntity", err)
	}
	return ent, nil
}

func (s *SQLiteStorage) ListEntities(ctx context.Context, userID string, filter types.EntityFilter, limit, offset int) ([]*types.Entity, error) {
	q := `SELECT id, user_id, entity_type, canonical_name, merged_to_entity_id, merged_at, created_at FROM entities WHERE user_id = ?`
	args := []any{userID}
	if filter.EntityType != "" {
		q += " AND entity_type = ?"
		args = append(args, filter.EntityType)
	}
	if !filter.IncludeMerged {
		q += " AND merged_to_entity_id IS NULL"
	}
	if filter.CanonicalNameLike != "" {
		q += " AND canonical_name LIKE ?"
		args = append(args, "%"+strings.ReplaceAll(filter.CanonicalNameLike, "%", "")+"%")
	}
	q += " ORDER BY created_at ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDBError("ListEntities", err)
	}
	defer rows.Close()

	var out []*types.Entity
	for rows.Next() {
		ent, err := scanEntityRow(rows)
		if err != nil {
			return nil, wrapDBError("ListEntities", err)
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}

// MergeEntities is the atomic 4-step entity merge: rewrite every
// observation and relationship observation's entity pointer from
// `from` to `to`, mark `from` redirected, and insert the audit row.
// All effects commit together inside one transaction, or none do.
func (s *SQLiteStorage) MergeEntities(ctx context.Context, userID, from, to string, mergedAt time.Time) (*types.EntityMerge, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError("MergeEntities", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE observations SET entity_id = ? WHERE user_id = ? AND entity_id = ?`, to, userID, from)
	if err != nil {
		return nil, wrapDBError("MergeEntities", err)
	}
	obsMoved, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `UPDATE relationship_observations SET source_entity_id = ? WHERE user_id = ? AND source_entity_id = ?`, to, userID, from); err != nil {
		return nil, wrapDBError("MergeEntities", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE relationship_observations SET target_entity_id = ? WHERE user_id = ? AND target_entity_id = ?`, to, userID, from); err != nil {
		return nil, wrapDBError("MergeEntities", err)
	}

	mergedAtStr := mergedAt.UTC().Format(time.RFC3339Nano)
	res, err = tx.ExecContext(ctx, `UPDATE entities SET merged_to_entity_id = ?, merged_at = ? WHERE user_id = ? AND id = ? AND merged_to_entity_id IS NULL`, to, mergedAtStr, userID, from)
	if err != nil {
		return nil, wrapDBError("MergeEntities", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, wrapDBError("MergeEntities", sql.ErrNoRows)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entity_merges (user_id, from_entity_id, to_entity_id, observations_moved, merged_at)
		VALUES (?, ?, ?, ?, ?)`, userID, from, to, obsMoved, mergedAtStr); err != nil {
		return nil, wrapDBError("MergeEntities", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_snapshots WHERE user_id = ? AND entity_id IN (?, ?)`, userID, from, to); err != nil {
		return nil, wrapDBError("MergeEntities", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapDBError("MergeEntities", err)
	}

	return &types.EntityMerge{
		UserID:            userID,
		FromEntityID:      from,
		ToEntityID:        to,
		ObservationsMoved: int(obsMoved),
		MergedAt:          mergedAt,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row *sql.Row) (*types.Entity, error) {
	return scanEntityGeneric(row)
}

func scanEntityRow(rows *sql.Rows) (*types.Entity, error) {
	return scanEntityGeneric(rows)
}

func scanEntityGeneric(r rowScanner) (*types.Entity, error) {
	var ent types.Entity
	var canonicalName, mergedTo, mergedAt sql.NullString
	var createdAt string
	if err := r.Scan(&ent.ID, &ent.UserID, &ent.EntityType, &canonicalName, &mergedTo, &mergedAt, &createdAt); err != nil {
		return nil, err
	}
	ent.CanonicalName = canonicalName.String
	ent.MergedToEntityID = mergedTo.String
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	ent.CreatedAt = t
	if mergedAt.Valid {
		mt, err := time.Parse(time.RFC3339Nano, mergedAt.String)
		if err != nil {
			return nil, err
		}
		ent.MergedAt = &mt
	}
	return &ent, nil
}
