// Package qcerr defines the error kinds shared by the QC recorder packages.
//
// Callers wrap these sentinels with context using fmt.Errorf("...: %w", ...)
// and test for them with errors.Is.
package qcerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a uniqueness violation or a competing operation.
	ErrConflict = errors.New("conflict")
	// ErrInvalidArgument reports a missing or out-of-range input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoActiveModel reports that no product model is active on the line.
	ErrNoActiveModel = errors.New("no active model")
	// ErrDataIntegrity reports a row that cannot satisfy the archive schema.
	ErrDataIntegrity = errors.New("data integrity")
	// ErrTransport reports a printer, SMS or renderer collaborator failure.
	ErrTransport = errors.New("transport failure")
)

// NotFound returns an error wrapping ErrNotFound.
func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// Conflict returns an error wrapping ErrConflict.
func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

// Invalid returns an error wrapping ErrInvalidArgument.
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidArgument)
}

// Integrity returns an error wrapping ErrDataIntegrity.
func Integrity(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrDataIntegrity)
}

// Transport wraps a collaborator error so that it matches ErrTransport while
// keeping the underlying cause reachable through errors.Is and errors.As.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}
