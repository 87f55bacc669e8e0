package core

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Error kinds surfaced to callers. Adapters match them with errors.Is.
var (
	ErrPreconditionViolation = errors.New("precondition violation")
	ErrImmutableField        = errors.New("immutable field")
	ErrRangeViolation        = errors.New("value out of range")
	ErrConcurrencyConflict   = errors.New("concurrent modification, retry the operation")
	ErrNotFound              = errors.New("not found")
)

// TransitionError reports a status transition that the entity's table does not allow.
type TransitionError struct {
	Entity string
	Action string
	From   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot %s: status is %s", e.Entity, e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrPreconditionViolation }

// FieldError names the offending field for immutable and range violations.
type FieldError struct {
	Field   string
	Message string
	Err     error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error { return e.Err }

func immutableField(field, message string) error {
	return &FieldError{Field: field, Message: message, Err: ErrImmutableField}
}

func outOfRange(field, message string) error {
	return &FieldError{Field: field, Message: message, Err: ErrRangeViolation}
}

func notFound(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, ErrNotFound)
}

func precondition(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrPreconditionViolation)
}

// Postgres error codes handled specially.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// classifyPgError maps lock and serialization failures to ErrConcurrencyConflict and
// unique violations to ErrPreconditionViolation. Other errors are returned unchanged.
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%w: %s", ErrConcurrencyConflict, pgErr.Message)
	case pgUniqueViolation:
		return fmt.Errorf("%w: %s", ErrPreconditionViolation, pgErr.Detail)
	}
	return err
}
