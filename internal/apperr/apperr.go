// Package apperr defines the error kinds shared by the alert lifecycle,
// the rate limiter and the HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindInvalidHeadline    Kind = "invalid_headline"
	KindInvalidDescription Kind = "invalid_description"
	KindInvalidArgument    Kind = "invalid_argument"
	KindInvalidPolygon     Kind = "invalid_polygon"
	KindInvalidOperation   Kind = "invalid_operation"
	KindConcurrentDecision Kind = "concurrent_decision"
	KindNotFound           Kind = "not_found"
	KindEngineUnavailable  Kind = "engine_unavailable"
	KindRateLimited        Kind = "rate_limited"
	KindInternal           Kind = "internal"
)

// Error carries a machine-readable kind plus enough context to point at the
// offending field or operation.
type Error struct {
	Kind    Kind
	Op      string
	Field   string
	Message string
	// RetryAfter is a suggested wait for availability errors.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %s)", e.Field)
	}
	if e.Err != nil && e.Message == "" {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Field builds a validation error that names the input field at fault.
func Field(kind Kind, op, field, message string) *Error {
	return &Error{Kind: kind, Op: op, Field: field, Message: message}
}

// Wrap annotates err with a kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: err.Error(), Err: err}
}

// Unavailable builds an availability error with retry guidance.
func Unavailable(kind Kind, op, message string, retryAfter time.Duration) *Error {
	return &Error{Kind: kind, Op: op, Message: message, RetryAfter: retryAfter}
}

// KindOf extracts the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

func IsValidation(err error) bool {
	switch KindOf(err) {
	case KindInvalidHeadline, KindInvalidDescription, KindInvalidArgument, KindInvalidPolygon:
		return true
	}
	return false
}

func IsConflict(err error) bool {
	switch KindOf(err) {
	case KindInvalidOperation, KindConcurrentDecision:
		return true
	}
	return false
}

func IsAvailability(err error) bool {
	switch KindOf(err) {
	case KindEngineUnavailable, KindRateLimited:
		return true
	}
	return false
}

// RetryAfterOf returns the retry hint attached to err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
