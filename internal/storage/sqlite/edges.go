package sqlite

import (
	"context"
	"database/sql"

	"github.com/markmhendrickson/neotoma/internal/types"
)

func (s *SQLiteStorage) InsertSourceEntityEdge(ctx context.Context, edge types.SourceEntityEdge, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_entity_edges (source_id, entity_id, user_id, edge_type, interpretation_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, entity_id, edge_type) DO NOTHING`,
		edge.SourceID, edge.EntityID, userID, string(edge.EdgeType), nullIfEmpty(edge.InterpretationID))
	return wrapDBError("InsertSourceEntityEdge", err)
}

func (s *SQLiteStorage) ListSourceEntityEdges(ctx context.Context, userID, entityID string) ([]types.SourceEntityEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, entity_id, edge_type, interpretation_id
		FROM source_entity_edges WHERE user_id = ? AND entity_id = ?`, userID, entityID)
	if err != nil {
		return nil, wrapDBError("ListSourceEntityEdges", err)
	}
	defer rows.Close()

	var out []types.SourceEntityEdge
	for rows.Next() {
		var e types.SourceEntityEdge
		var edgeType string
		var interpretationID sql.NullString
		if err := rows.Scan(&e.SourceID, &e.EntityID, &edgeType, &interpretationID); err != nil {
			return nil, wrapDBError("ListSourceEntityEdges", err)
		}
		e.EdgeType = types.EdgeType(edgeType)
		e.InterpretationID = interpretationID.String
		out = append(out, e)
	}
	return out, rows.Err()
}
