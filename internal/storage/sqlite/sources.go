package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/markmhendrickson/neotoma/internal/types"
)

func (s *SQLiteStorage) LookupSourceByHash(ctx context.Context, userID, contentHash string) (*types.Source, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, content_hash, storage_url, mime_type, file_size, original_filename, provenance_json, created_at
		FROM sources WHERE user_id = ? AND content_hash = ?`, userID, contentHash)
	src, err := scanSource(row)
	if err != nil {
		if isNotFound(wrapDBError("LookupSourceByHash", err)) {
			return nil, false, nil
		}
		return nil, false, wrapDBError("LookupSourceByHash", err)
	}
	return src, true, nil
}

func (s *SQLiteStorage) InsertSource(ctx context.Context, src *types.Source) error {
	prov, err := json.Marshal(src.Provenance)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sources (id, user_id, content_hash, storage_url, mime_type, file_size, original_filename, provenance_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.UserID, src.ContentHash, src.StorageURL, src.MimeType, src.FileSize, src.OriginalFilename, string(prov), src.CreatedAt.UTC().Format(time.RFC3339Nano))
	return wrapDBError("InsertSource", err)
}

func (s *SQLiteStorage) GetSource(ctx context.Context, userID, sourceID string) (*types.Source, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, content_hash, storage_url, mime_type, file_size, original_filename, provenance_json, created_at
		FROM sources WHERE user_id = ? AND id = ?`, userID, sourceID)
	src, err := scanSource(row)
	if err != nil {
		return nil, wrapDBError("GetSource", err)
	}
	return src, nil
}

func scanSource(row *sql.Row) (*types.Source, error) {
	var src types.Source
	var originalFilename sql.NullString
	var provJSON sql.NullString
	var createdAt string
	if err := row.Scan(&src.ID, &src.UserID, &src.ContentHash, &src.StorageURL, &src.MimeType, &src.FileSize, &originalFilename, &provJSON, &createdAt); err != nil {
		return nil, err
	}
	src.OriginalFilename = originalFilename.String
	if provJSON.Valid && provJSON.String != "" {
		_ = json.Unmarshal([]byte(provJSON.String), &src.Provenance)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	src.CreatedAt = t
	return &src, nil
}

func (s *SQLiteStorage) LookupIdempotencyKey(ctx context.Context, userID, key string) (string, bool, error) {
	var sourceID string
	err := s.db.QueryRowContext(ctx, `SELECT source_id FROM idempotency_keys WHERE user_id = ? AND key = ?`, userID, key).Scan(&sourceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, wrapDBError("LookupIdempotencyKey", err)
	}
	return sourceID, true, nil
}

func (s *SQLiteStorage) RecordIdempotencyKey(ctx context.Context, userID, key, sourceID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (user_id, key, source_id) VALUES (?, ?, ?)
		ON CONFLICT(user_id, key) DO NOTHING`, userID, key, sourceID)
	return wrapDBError("RecordIdempotencyKey", err)
}
