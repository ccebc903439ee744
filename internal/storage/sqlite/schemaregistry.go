package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/markmhendrickson/neotoma/internal/types"
)

func (s *SQLiteStorage) ListEntityTypes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT entity_type FROM schema_definitions ORDER BY entity_type ASC`)
	if err != nil {
		return nil, wrapDBError("ListEntityTypes", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, wrapDBError("ListEntityTypes", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) GetSchema(ctx context.Context, entityType, schemaVersion string) (*types.SchemaDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity_type, schema_version, fields_json, canonicalization_json, resolution_key_json
		FROM schema_definitions WHERE entity_type = ? AND schema_version = ?`, entityType, schemaVersion)
	def, err := scanSchema(row)
	if err != nil {
		return nil, wrapDBError("GetSchema", err)
	}
	return def, nil
}

func (s *SQLiteStorage) GetLatestSchema(ctx context.Context, entityType string) (*types.SchemaDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity_type, schema_version, fields_json, canonicalization_json, resolution_key_json
		FROM schema_definitions WHERE entity_type = ? ORDER BY schema_version DESC LIMIT 1`, entityType)
	def, err := scanSchema(row)
	if err != nil {
		return nil, wrapDBError("GetLatestSchema", err)
	}
	return def, nil
}

func (s *SQLiteStorage) ListSchemaVersions(ctx context.Context, entityType string) ([]*types.SchemaDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, schema_version, fields_json, canonicalization_json, resolution_key_json
		FROM schema_definitions WHERE entity_type = ? ORDER BY schema_version ASC`, entityType)
	if err != nil {
		return nil, wrapDBError("ListSchemaVersions", err)
	}
	defer rows.Close()

	var out []*types.SchemaDefinition
	for rows.Next() {
		def, err := scanSchema(rows)
		if err != nil {
			return nil, wrapDBError("ListSchemaVersions", err)
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) PutSchema(ctx context.Context, def *types.SchemaDefinition) error {
	fieldsJSON, err := json.Marshal(def.Fields)
	if err != nil {
		return err
	}
	canonJSON, err := json.Marshal(def.CanonicalizationRules)
	if err != nil {
		return err
	}
	resKeyJSON, err := json.Marshal(def.EntityResolutionKey)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schema_definitions (entity_type, schema_version, fields_json, canonicalization_json, resolution_key_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, schema_version) DO UPDATE SET
			fields_json = excluded.fields_json,
			canonicalization_json = excluded.canonicalization_json,
			resolution_key_json = excluded.resolution_key_json`,
		def.EntityType, def.SchemaVersion, string(fieldsJSON), string(canonJSON), string(resKeyJSON))
	return wrapDBError("PutSchema", err)
}

func scanSchema(r rowScanner) (*types.SchemaDefinition, error) {
	var def types.SchemaDefinition
	var fieldsJSON, canonJSON, resKeyJSON sql.NullString
	if err := r.Scan(&def.EntityType, &def.SchemaVersion, &fieldsJSON, &canonJSON, &resKeyJSON); err != nil {
		return nil, err
	}
	if fieldsJSON.Valid {
		if err := json.Unmarshal([]byte(fieldsJSON.String), &def.Fields); err != nil {
			return nil, err
		}
	}
	if canonJSON.Valid && canonJSON.String != "" {
		_ = json.Unmarshal([]byte(canonJSON.String), &def.CanonicalizationRules)
	}
	if resKeyJSON.Valid {
		if err := json.Unmarshal([]byte(resKeyJSON.String), &def.EntityResolutionKey); err != nil {
			return nil, err
		}
	}
	return &def, nil
}
