package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/provcat/pkg/lineage"
)

// ErrReadOnly is returned by backends that cannot be written to.
var ErrReadOnly = errors.New("index is read-only")

// NotFoundError indicates a catalog entry does not exist.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// ConflictError indicates a write that collides with existing state.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// DocumentMismatchError is returned when an entry being re-added differs
// from the stored version. Fields names the top-level document keys that differ.
type DocumentMismatchError struct {
	Kind   string
	Key    string
	Fields []string
}

func (e *DocumentMismatchError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s %s differs from the stored version", e.Kind, e.Key)
	}
	return fmt.Sprintf("%s %s differs from the stored version in: %s", e.Kind, e.Key, strings.Join(e.Fields, ", "))
}

// ErrNotFound creates a NotFoundError.
func ErrNotFound(kind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsRecoverable reports whether a per-item failure during bulk ingestion
// should be logged and skipped rather than abort the whole call.
func IsRecoverable(err error) bool {
	var (
		mismatch   *DocumentMismatchError
		notFound   *NotFoundError
		conflict   *ConflictError
		validation *ValidationError
	)
	switch {
	case errors.As(err, &mismatch), errors.As(err, &notFound),
		errors.As(err, &conflict), errors.As(err, &validation):
		return true
	case errors.Is(err, lineage.ErrInconsistentLineage):
		return true
	default:
		return false
	}
}
