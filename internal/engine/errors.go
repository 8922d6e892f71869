package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every rejection returned by the engine wraps exactly one of
// these, so callers classify with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrTransitionRejected = errors.New("transition rejected")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrProtectedColumn    = errors.New("protected column")
	ErrInvalidLink        = errors.New("invalid link")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("conflict")
)

// TransitionError explains why a task may not enter a gated column.
type TransitionError struct {
	TaskID  string
	Column  string
	Missing []string
}

func (e *TransitionError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("cannot move task to %s: add and complete at least one required subtask first", e.Column)
	}
	return fmt.Sprintf("cannot move task to %s: required subtasks incomplete: %s", e.Column, strings.Join(e.Missing, ", "))
}

func (e *TransitionError) Unwrap() error { return ErrTransitionRejected }

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
