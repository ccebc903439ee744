// Package neoerr defines the stable error-kind taxonomy shared by every
// core component. Components never return raw storage or I/O errors to
// their callers; they wrap them with the nearest matching Kind here.
package neoerr

import (
	"errors"
	"fmt"
)

// Kind is one of the stable error tags a caller can branch on.
type Kind string

const (
	// InvalidInput marks a malformed candidate, an unknown entity_type
	// with no registered schema, or a bad identifier format.
	InvalidInput Kind = "invalid_input"

	// SchemaViolation marks a missing required field at registration,
	// an attempt to redefine a field, or a non-additive schema change.
	SchemaViolation Kind = "schema_violation"

	// NotFound marks an entity, source, interpretation, or snapshot
	// that does not exist for the caller's tenant.
	NotFound Kind = "not_found"

	// Conflict marks a dedup race resolved to an existing id, or a
	// duplicate idempotency key. Not necessarily fatal to the caller.
	Conflict Kind = "conflict"

	// QuotaExceeded marks a per-tenant interpretation or storage quota
	// hit before any work was attempted.
	QuotaExceeded Kind = "quota_exceeded"

	// Unavailable marks a transient blob or database I/O failure.
	// Callers may retry with backoff.
	Unavailable Kind = "unavailable"

	// DeadlineExceeded marks cancellation via a caller-supplied deadline.
	DeadlineExceeded Kind = "deadline_exceeded"

	// Internal marks a broken invariant. Should be impossible; callers
	// should log it with enough context to reproduce.
	Internal Kind = "internal"
)

// Error is a neoerr-tagged error carrying the operation that failed and
// the underlying cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-tagged error for the named operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf extracts the Kind from err, returning "" if err does not wrap
// a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// OpOf extracts the failing operation name from err, returning "" if
// err does not wrap a *Error.
func OpOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Sentinel values for errors.Is comparisons against the storage layer
// before they are wrapped into an *Error by the calling component.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidInput    = errors.New("invalid input")
	ErrSchemaViolation = errors.New("schema violation")
	ErrQuotaExceeded   = errors.New("quota exceeded")
)

// Wrap converts a low-level error into a Kind-tagged *Error, mapping
// well-known sentinels to their Kind and defaulting anything else to
// Internal. sql.ErrNoRows should already have been translated to
// ErrNotFound by the storage layer before reaching here.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return New(NotFound, op, err)
	case errors.Is(err, ErrConflict):
		return New(Conflict, op, err)
	case errors.Is(err, ErrInvalidInput):
		return New(InvalidInput, op, err)
	case errors.Is(err, ErrSchemaViolation):
		return New(SchemaViolation, op, err)
	case errors.Is(err, ErrQuotaExceeded):
		return New(QuotaExceeded, op, err)
	default:
		var e *Error
		if errors.As(err, &e) {
			return e
		}
		return New(Internal, op, err)
	}
}
