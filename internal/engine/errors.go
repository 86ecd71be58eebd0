package engine

import (
	"errors"
	"fmt"

	"liahona/internal/domain"
	"liahona/internal/repo"
)

var (
	ErrNotFound          = repo.ErrNotFound
	ErrInvalidTransition = errors.New("invalid transition")
	ErrReviewerConflict  = errors.New("reviewer cannot confirm own task")
	ErrAlreadyCheckedOut = errors.New("task already checked out")
	ErrValidation        = errors.New("validation failed")
)

// TransitionError reports an operation attempted from a state that does not allow it.
type TransitionError struct {
	Op   Op
	From string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s not allowed from %s", e.Op, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func invalidTransition(op Op, from domain.Status) error {
	return &TransitionError{Op: op, From: string(from)}
}

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func notFoundOr(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return notFound(kind, id)
	}
	return err
}

// ErrorKind classifies err for metrics and API error codes.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrReviewerConflict):
		return "reviewer_conflict"
	case errors.Is(err, ErrAlreadyCheckedOut):
		return "already_checked_out"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	default:
		return "internal"
	}
}
