package sqlite

import (
	"context"
	"database/sql"
)

// GetTenantConfig and SetTenantConfig store small per-tenant settings
// in a key/value table with an upsert on write. The interpretation
// quota is not kept here; it is counted from the interpretations table.
func (s *SQLiteStorage) GetTenantConfig(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM tenant_config WHERE user_id = ? AND key = ?`, userID, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", wrapDBError("GetTenantConfig", err)
	}
	return value, nil
}

func (s *SQLiteStorage) SetTenantConfig(ctx context.Context, userID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_config (user_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value`, userID, key, value)
	return wrapDBError("SetTenantConfig", err)
}
