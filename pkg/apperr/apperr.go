// Package apperr defines the service error taxonomy and its HTTP mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for policy decisions (HTTP status, retry, logging).
type Kind string

const (
	KindValidation    Kind = "validation"
	KindEngineMissing Kind = "engine_missing"
	KindTransport     Kind = "transport"
	KindProtocol      Kind = "protocol"
	KindIO            Kind = "io"
	KindParse         Kind = "parse"
	KindForfeit       Kind = "forfeit"
	KindUnknown       Kind = "unknown"
)

// Error carries a kind, an HTTP status, a caller-facing message and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithErr returns a copy of the error with the cause attached.
func (e *Error) WithErr(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

func newf(kind Kind, status int, format string, args ...any) *Error {
	return &Error{Kind: kind, Status: status, Message: fmt.Sprintf(format, args...)}
}

// Validation reports a bad request from the caller.
func Validation(format string, args ...any) *Error {
	return newf(KindValidation, http.StatusBadRequest, format, args...)
}

// EngineMissing reports that no game engine has been activated yet.
func EngineMissing(format string, args ...any) *Error {
	return newf(KindEngineMissing, http.StatusBadRequest, format, args...)
}

// Transport reports a network-level failure talking to an external system.
func Transport(format string, args ...any) *Error {
	return newf(KindTransport, http.StatusInternalServerError, format, args...)
}

// Protocol reports an unexpected status or payload from an external system.
func Protocol(format string, args ...any) *Error {
	return newf(KindProtocol, http.StatusInternalServerError, format, args...)
}

// IO reports a local filesystem failure.
func IO(format string, args ...any) *Error {
	return newf(KindIO, http.StatusInternalServerError, format, args...)
}

// Parse reports malformed runner output.
func Parse(format string, args ...any) *Error {
	return newf(KindParse, http.StatusBadRequest, format, args...)
}

// Forfeit marks a match decided by a broken bot rather than play.
func Forfeit(format string, args ...any) *Error {
	return newf(KindForfeit, http.StatusOK, format, args...)
}

// KindOf extracts the kind from an error chain, KindUnknown otherwise.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Status maps an error chain to an HTTP status code.
func Status(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// Message returns the caller-facing message, or the raw error text.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}
