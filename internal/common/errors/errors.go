// Package errors defines the error taxonomy for the deldupes indexing engine.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error kinds of §7.
var (
	// Repository-level conditions.
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidInput  = errors.New("invalid input")

	// IoError: stat, read, unlink failures.
	ErrIoError = errors.New("i/o error")

	// CorruptRecord: a persisted record fails decoding or schema-version check.
	ErrCorruptRecord = errors.New("corrupt record")

	// InvariantViolation: a runtime check detects state inconsistent with the data model. Fatal.
	ErrInvariantViolation = errors.New("invariant violation")

	// LockBusy: another process holds the database lock.
	ErrLockBusy = errors.New("database busy")

	// NotADatabase: directory exists and is not a deldupes database.
	ErrNotADatabase = errors.New("not a deldupes database")

	// ScopeEmpty: planner scope matched no live files. Informational, not a failure.
	ErrScopeEmpty = errors.New("scope matches no live files")
)

// DeldupesError is a custom error type with additional context.
type DeldupesError struct {
	Op      string // Operation that failed
	Kind    error  // Category of error
	Err     error  // Underlying error
	Details string // Additional details
}

// Error implements the error interface.
func (e *DeldupesError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s: %s (%s)", e.Op, e.Kind, e.Err, e.Details)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap returns the underlying error.
func (e *DeldupesError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error.
func (e *DeldupesError) Is(target error) bool {
	return errors.Is(e.Kind, target) || errors.Is(e.Err, target)
}

// E creates a new DeldupesError.
func E(op string, kind error, err error, details ...string) error {
	e := &DeldupesError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
	if len(details) > 0 {
		e.Details = details[0]
	}
	return e
}

// Wrap wraps an error with operation context.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DeldupesError{
		Op:  op,
		Err: err,
	}
}

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCorrupt checks if the error is a corrupt-record error.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptRecord)
}

// IsInvariantViolation checks if the error is a fatal invariant violation.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}

// IsLockBusy checks if the error means the database is held by another process.
func IsLockBusy(err error) bool {
	return errors.Is(err, ErrLockBusy)
}

// IsNotADatabase checks if the error means a directory is not a deldupes database.
func IsNotADatabase(err error) bool {
	return errors.Is(err, ErrNotADatabase)
}
