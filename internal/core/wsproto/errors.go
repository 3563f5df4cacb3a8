package wsproto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Code is the short uppercase wire error code in the framed error envelope.
type Code string

const (
	CodeValidationError  Code = "VALIDATION_ERROR"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeDeleteBlocked    Code = "DELETE_BLOCKED"
	CodeTimeout          Code = "TIMEOUT"
	CodeInternalError    Code = "INTERNAL_ERROR"
	CodeConnectionLimit  Code = "CONNECTION_LIMIT"
	CodeInvalidMessage   Code = "INVALID_MESSAGE"
	CodeDecodeError      Code = "DECODE_ERROR"
	CodeSlowClient       Code = "SLOW_CLIENT"
)

// Error is the typed error every handler returns. It carries the wire code,
// an optional offending field name, and whether the underlying cause is
// worth retrying (consulted by internal/core/retry when deciding whether to
// try a failed call again; internal/core/breaker does not look at it and
// counts every error returned through Execute).
type Error struct {
	Code      Code
	Message   string
	Field     string
	retryable bool
	err       error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// Retryable satisfies the narrow interface internal/core/retry dispatches
// on, mirroring the original implementation's IsRetryable trait per entity
// rather than a central type switch.
func (e *Error) Retryable() bool { return e.retryable }

// WithField attaches the offending field name, used by validation errors.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// Frame is the JSON shape written into Envelope.Payload for KindErrorResponse.
type Frame struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// MarshalJSON implements the wire {code, message, field?} shape directly so
// *Error can be passed straight to ReplyError.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(Frame{Code: e.Code, Message: e.Message, Field: e.Field})
}

func newError(code Code, retryable bool, message string) *Error {
	return &Error{Code: code, Message: message, retryable: retryable}
}

func wrapError(code Code, retryable bool, message string, cause error) *Error {
	return &Error{Code: code, Message: message, retryable: retryable, err: cause}
}

// Validation builds a VALIDATION_ERROR, never retryable.
func Validation(message string) *Error { return newError(CodeValidationError, false, message) }

// NotFound builds a NOT_FOUND, never retryable.
func NotFound(resource string) *Error {
	return newError(CodeNotFound, false, resource+" not found")
}

// Conflict builds a CONFLICT with enough detail for the caller to refetch.
func Conflict(message string) *Error { return newError(CodeConflict, false, message) }

// Unauthorized builds an UNAUTHORIZED with no detail on which check failed,
// per spec.md §7.
func Unauthorized() *Error {
	return newError(CodeUnauthorized, false, "not authorized for this operation")
}

// DeleteBlocked builds a DELETE_BLOCKED carrying a human hint.
func DeleteBlocked(hint string) *Error { return newError(CodeDeleteBlocked, false, hint) }

// Timeout builds a TIMEOUT, not retryable by the caller (the handler's
// transaction has already been rolled back by the time this is built).
func Timeout() *Error {
	return newError(CodeTimeout, false, "handler exceeded its deadline")
}

// Internal wraps an unexpected error as INTERNAL_ERROR. retryable should be
// true only for transient causes (database busy/timeout, breaker-open).
func Internal(message string, retryable bool, cause error) *Error {
	return wrapError(CodeInternalError, retryable, message, cause)
}

// ConnectionLimit builds a CONNECTION_LIMIT, surfaced at handshake only.
func ConnectionLimit(message string) *Error {
	return newError(CodeConnectionLimit, false, message)
}

// InvalidMessage builds an INVALID_MESSAGE for an unroutable discriminant.
func InvalidMessage(message string) *Error { return newError(CodeInvalidMessage, false, message) }

// DecodeError builds a DECODE_ERROR for a frame that failed to unmarshal.
func DecodeError(cause error) *Error {
	return wrapError(CodeDecodeError, false, "could not decode message payload", cause)
}

// SlowClient builds a SLOW_CLIENT, used only in server logs today (spec.md
// Open Question 2 decides this is never sent to the client as a frame).
func SlowClient(message string) *Error { return newError(CodeSlowClient, false, message) }

// As extracts an *Error from an error chain, the way
// infrastructure/errors.GetServiceError did for ServiceError.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable reports whether err should be retried, defaulting to false for
// anything that is not a *wsproto.Error (validation/permission errors, and
// plain Go errors from places that haven't been mapped yet, are never
// retried by default).
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable()
	}
	return false
}
