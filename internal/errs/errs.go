package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a remote or local entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the remote service denies access to an entity.
	ErrForbidden = errors.New("forbidden")
)

// Wrap adds context and preserves the error chain.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf adds formatted context and preserves the error chain.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	args = append(args, err)
	return fmt.Errorf(format+": %w", args...)
}

// AuthError means the credentials can no longer be used. It aborts the run.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "auth: " + e.Op
	}
	return fmt.Sprintf("auth: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError reports a page that could not be retrieved. Pagination stops at that page.
type FetchError struct {
	DocType       string
	Page          int
	StartPosition int
	Err           error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s page %d (start %d): %v", e.DocType, e.Page, e.StartPosition, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ResolutionError means a remote reference could not be mapped to a local row.
type ResolutionError struct {
	Entity string
	Ref    string
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("resolve %s %q: %s", e.Entity, e.Ref, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// AttachmentError means an attachment could not be downloaded or stored.
type AttachmentError struct {
	AttachmentID string
	FileName     string
	Err          error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment %s (%s): %v", e.AttachmentID, e.FileName, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

// TransientError marks a failure that is worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsAuth reports whether err is fatal for the run.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
