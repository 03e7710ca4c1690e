// Package memerr classifies errors raised across the memory index into
// the taxonomy the tool surface and sync loop reason about: Unavailable,
// ProviderFailure, StoreFailure, ValidationError, ScopedDenial, and
// CancellationRequested.
package memerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies which bucket of the error taxonomy an error belongs to.
type Kind string

const (
	Unavailable           Kind = "unavailable"
	ProviderFailure       Kind = "provider_failure"
	StoreFailure          Kind = "store_failure"
	ValidationError       Kind = "validation_error"
	ScopedDenial          Kind = "scoped_denial"
	CancellationRequested Kind = "cancellation_requested"
)

// Error wraps an underlying cause with a Kind so callers can branch on
// classification without string matching.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Unavailablef(format string, args ...any) *Error {
	return New(Unavailable, fmt.Sprintf(format, args...), nil)
}

func ProviderFailuref(err error, format string, args ...any) *Error {
	return New(ProviderFailure, fmt.Sprintf(format, args...), err)
}

func StoreFailuref(err error, format string, args ...any) *Error {
	return New(StoreFailure, fmt.Sprintf(format, args...), err)
}

func ValidationErrorf(format string, args ...any) *Error {
	return New(ValidationError, fmt.Sprintf(format, args...), nil)
}

func ScopedDenialf(format string, args ...any) *Error {
	return New(ScopedDenial, fmt.Sprintf(format, args...), nil)
}

// FromContext converts ctx.Err() into a CancellationRequested *Error,
// or returns nil if ctx carries no error.
func FromContext(ctx context.Context) *Error {
	if err := ctx.Err(); err != nil {
		return New(CancellationRequested, "operation cancelled", err)
	}
	return nil
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error produced by this package. The second return is false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsCancellation reports whether err represents a cancelled operation,
// either wrapped by this package or a bare context error.
func IsCancellation(err error) bool {
	if kind, ok := KindOf(err); ok {
		return kind == CancellationRequested
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
