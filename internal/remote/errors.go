package remote

import (
	"errors"
	"fmt"
)

// ErrorKind classifies remote failures into the retry taxonomy: network and
// internal errors are retry-worthy and absorbed by the outbox/sync cycle;
// validation and authorization errors surface to the caller.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindUnauthorized ErrorKind = "unauthorized"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindNetwork      ErrorKind = "network"
	KindInternal     ErrorKind = "internal"
)

// Error is a typed remote API failure with a human-readable message.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Kind)
}

// Retryable reports whether the failure class is worth retrying.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindInternal:
		return true
	}
	return false
}

// Retryable reports whether err should be absorbed into the outbox/sync
// cycle rather than surfaced. Untyped errors (transport failures, timeouts)
// are treated as retryable.
func Retryable(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return true
}

// serverErrorKinds maps server error-type strings onto the taxonomy.
var serverErrorKinds = map[string]ErrorKind{
	"ValidationException":             KindValidation,
	"UnauthorizedException":           KindUnauthorized,
	"ResourceNotFoundException":       KindNotFound,
	"ConditionalCheckFailedException": KindConflict,
	"NetworkError":                    KindNetwork,
}

// serverErrorMessages maps server error-type strings to user-facing text.
var serverErrorMessages = map[string]string{
	"ValidationException":             "The request was invalid.",
	"UnauthorizedException":           "You do not have permission to perform this action.",
	"ResourceNotFoundException":       "The requested record was not found.",
	"ConditionalCheckFailedException": "The operation conflicted with a concurrent change. Please try again.",
	"NetworkError":                    "Network connection error. Please check your connection.",
}

// mapServerError converts a server error-type string into a typed Error,
// preferring the mapped user-facing message over the raw one.
func mapServerError(op, errorType, rawMessage string) *Error {
	kind, ok := serverErrorKinds[errorType]
	if !ok {
		kind = KindInternal
	}
	msg, ok := serverErrorMessages[errorType]
	if !ok {
		msg = rawMessage
		if msg == "" {
			msg = "The operation failed. Please try again."
		}
	}
	return &Error{Kind: kind, Op: op, Message: msg}
}

// netError wraps a transport-level failure.
func netError(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Message: err.Error()}
}
