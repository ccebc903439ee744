package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/markmhendrickson/neotoma/internal/types"
)

func (s *SQLiteStorage) InsertInterpretation(ctx context.Context, interp *types.Interpretation) error {
	var finishedAt sql.NullString
	if interp.FinishedAt != nil {
		finishedAt = sql.NullString{String: interp.FinishedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interpretations (id, user_id, source_id, provider, model_id, temperature, prompt_hash, code_version, started_at, finished_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		interp.ID, interp.UserID, interp.SourceID, interp.Config.Provider, interp.Config.ModelID, interp.Config.Temperature,
		interp.Config.PromptHash, interp.Config.CodeVersion, interp.StartedAt.UTC().Format(time.RFC3339Nano), finishedAt, string(interp.Status))
	return wrapDBError("InsertInterpretation", err)
}

func (s *SQLiteStorage) UpdateInterpretationStatus(ctx context.Context, userID, interpretationID string, status types.InterpretationStatus, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE interpretations SET status = ?, finished_at = ? WHERE user_id = ? AND id = ?`,
		string(status), finishedAt.UTC().Format(time.RFC3339Nano), userID, interpretationID)
	if err != nil {
		return wrapDBError("UpdateInterpretationStatus", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("UpdateInterpretationStatus", err)
	}
	if n == 0 {
		return wrapDBError("UpdateInterpretationStatus", sql.ErrNoRows)
	}
	return nil
}

func (s *SQLiteStorage) GetInterpretation(ctx context.Context, userID, interpretationID string) (*types.Interpretation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, source_id, provider, model_id, temperature, prompt_hash, code_version, started_at, finished_at, status
		FROM interpretations WHERE user_id = ? AND id = ?`, userID, interpretationID)

	var interp types.Interpretation
	var promptHash, codeVersion sql.NullString
	var startedAt string
	var finishedAt sql.NullString
	if err := row.Scan(&interp.ID, &interp.UserID, &interp.SourceID, &interp.Config.Provider, &interp.Config.ModelID,
		&interp.Config.Temperature, &promptHash, &codeVersion, &startedAt, &finishedAt, &interp.Status); err != nil {
		return nil, wrapDBError("GetInterpretation", err)
	}
	interp.Config.PromptHash = promptHash.String
	interp.Config.CodeVersion = codeVersion.String
	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, err
	}
	interp.StartedAt = t
	if finishedAt.Valid {
		ft, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return nil, err
		}
		interp.FinishedAt = &ft
	}
	return &interp, nil
}

func (s *SQLiteStorage) CountInterpretations(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interpretations WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, wrapDBError("CountInterpretations", err)
	}
	return n, nil
}
