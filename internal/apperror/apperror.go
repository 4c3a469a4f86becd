// Package apperror holds the error taxonomy shared by the ingestion
// pipeline, the offcut ledger and the recommendation engine. Handlers map
// these to HTTP status codes; nothing here is retried by the core.
package apperror

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSessionBusy         = errors.New("ingestion session is busy")
	ErrBatchNotFound       = errors.New("batch not found")
	ErrOffcutNotFound      = errors.New("offcut not found")
	ErrInvalidOffcutLength = errors.New("offcut length must be positive")
)

// ValidationError reports a malformed or missing input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// DuplicateConflict lists every batch code that already exists.
type DuplicateConflict struct {
	ExistingCodes []string
}

func (e *DuplicateConflict) Error() string {
	return "duplicate batch codes found: " + strings.Join(e.ExistingCodes, ", ")
}

// ParseError means the uploaded source file cannot be turned into rows.
type ParseError struct {
	Filename string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Filename, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StateError is returned when an operation is invoked against a session in
// the wrong state, including unknown and already committed tokens.
type StateError struct {
	Token string
	Op    string
	State string
}

func (e *StateError) Error() string {
	if e.State == "" {
		return fmt.Sprintf("%s: unknown session %q", e.Op, e.Token)
	}
	return fmt.Sprintf("%s: session %q is %s", e.Op, e.Token, e.State)
}

type UploadError struct {
	Reason string
}

func (e *UploadError) Error() string { return "upload rejected: " + e.Reason }

// UnknownOffcutError names the offcut ids that do not exist.
type UnknownOffcutError struct {
	IDs []uint
}

func (e *UnknownOffcutError) Error() string {
	return "unknown offcut ids: " + joinIDs(e.IDs)
}

// OffcutUnavailableError names offcuts that were already consumed.
type OffcutUnavailableError struct {
	IDs []uint
}

func (e *OffcutUnavailableError) Error() string {
	return "offcuts already consumed: " + joinIDs(e.IDs)
}

func joinIDs(ids []uint) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
