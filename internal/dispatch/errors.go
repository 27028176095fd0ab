package dispatch

import (
	"errors"
	"fmt"
)

// ErrUnknownEventType marks envelopes with no store handler. They are
// forwarded, not failed.
var ErrUnknownEventType = errors.New("unknown event type")

// HandlerErrorCode categorizes handler failures.
type HandlerErrorCode string

const (
	// ErrCodeInvalidPayload indicates the properties did not decode into a
	// usable record.
	ErrCodeInvalidPayload HandlerErrorCode = "INVALID_PAYLOAD"

	// ErrCodeRejected indicates the store refused a write that references an
	// unknown parent.
	ErrCodeRejected HandlerErrorCode = "REJECTED"

	// ErrCodePanic indicates the handler panicked.
	ErrCodePanic HandlerErrorCode = "HANDLER_PANIC"

	// ErrCodeStore indicates any other store failure.
	ErrCodeStore HandlerErrorCode = "STORE_FAILURE"
)

// HandlerError describes why one released envelope was not applied.
type HandlerError struct {
	Code     HandlerErrorCode
	Type     string
	EventID  string
	StreamID string
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	if e.StreamID != "" {
		return fmt.Sprintf("%s: %s (type=%s, event=%s, stream=%s)", e.Code, e.Message, e.Type, e.EventID, e.StreamID)
	}
	return fmt.Sprintf("%s: %s (type=%s, event=%s)", e.Code, e.Message, e.Type, e.EventID)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error { return e.Err }

// IsRejected reports whether err is a store integrity rejection.
func IsRejected(err error) bool {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Code == ErrCodeRejected
	}
	return false
}

// IsPanic reports whether err came from a recovered handler panic.
func IsPanic(err error) bool {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Code == ErrCodePanic
	}
	return false
}
