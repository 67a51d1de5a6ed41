// Package apperr defines the error taxonomy shared by all services.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match with errors.Is.
var (
	// ErrNotFound indicates a receipt, user, or blob is absent.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates an insert collided with an existing record.
	ErrDuplicate = errors.New("already exists")

	// ErrQuotaExceeded indicates the user's image quota is exhausted.
	// Surfaced distinctly from validation errors so clients can prompt
	// an upgrade flow.
	ErrQuotaExceeded = errors.New("image quota exceeded")

	// ErrUnauthorized indicates the caller does not own the resource.
	// Rendered identically to ErrNotFound at the HTTP boundary so the
	// existence of other users' records does not leak.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrVersionConflict indicates an optimistic-concurrency check
	// rejected a stale write.
	ErrVersionConflict = errors.New("version conflict")
)

// TransientError wraps a temporarily-failing backend call. The caller
// decides retry policy.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient backend error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable backend failure. Returns nil for a
// nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
