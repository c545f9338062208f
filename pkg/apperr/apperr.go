// Package apperr defines the typed error taxonomy used across the
// telemetry service. Components return these instead of bare errors so the
// API edge can map failures to HTTP status codes without string sniffing.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies the failure so callers can decide whether to retry,
// surface to the caller, or log at fatal severity.
type Kind string

const (
	Validation       Kind = "validation"
	BodyValidation   Kind = "body_validation"
	Unauthorized     Kind = "unauthorized"
	Forbidden        Kind = "forbidden"
	NotFound         Kind = "not_found"
	Conflict         Kind = "conflict"
	AlreadyProcessed Kind = "already_processed"
	RateLimited      Kind = "rate_limited"
	Transient        Kind = "transient"
	Degraded         Kind = "degraded"
	Fatal            Kind = "fatal"
)

// Error is the concrete error type carried across component boundaries.
type Error struct {
	Kind     Kind
	Message  string
	EntityID string
	err      error // wrapped cause, not shown to callers
}

func (e *Error) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.EntityID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// New creates an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithEntity attaches the offending entity's id for logging and response detail.
func (e *Error) WithEntity(id string) *Error {
	cp := *e
	cp.EntityID = id
	return &cp
}

// Wrap carries an underlying cause through without leaking it to callers.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, err: cause}
}

// KindOf extracts the Kind of err, defaulting to Fatal for unrecognized errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Fatal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
