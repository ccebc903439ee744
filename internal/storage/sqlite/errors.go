package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/markmhendrickson/neotoma/internal/neoerr"
)

// wrapDBError wraps a database error with operation context, turning
// sql.ErrNoRows into neoerr.ErrNotFound and unique-constraint
// violations into neoerr.ErrConflict so callers can branch with
// neoerr.Is without this package exposing its own sentinels.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, neoerr.ErrNotFound)
	}
	if isUniqueConstraintErr(err) {
		return fmt.Errorf("%s: %w", op, neoerr.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isUniqueConstraintErr detects a SQLite unique-constraint violation
// by message, since the ncruces/go-sqlite3 driver surfaces it as a
// plain error rather than a typed one in database/sql's generic path.
func isUniqueConstraintErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}

func isNotFound(err error) bool { return neoerr.Is(err, neoerr.NotFound) || errors.Is(err, neoerr.ErrNotFound) }
func isConflict(err error) bool { return errors.Is(err, neoerr.ErrConflict) }
