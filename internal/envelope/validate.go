package envelope

import (
	"errors"
	"fmt"
)

// ValidationErrorCode categorizes malformed envelopes.
type ValidationErrorCode string

const (
	ErrCodeMalformedJSON     ValidationErrorCode = "MALFORMED_JSON"
	ErrCodeMissingType       ValidationErrorCode = "MISSING_TYPE"
	ErrCodeMissingEventID    ValidationErrorCode = "MISSING_EVENT_ID"
	ErrCodeNegativeSequence  ValidationErrorCode = "NEGATIVE_SEQUENCE"
	ErrCodeInvalidTimestamp  ValidationErrorCode = "INVALID_TIMESTAMP"
	ErrCodeMissingProperties ValidationErrorCode = "MISSING_PROPERTIES"
)

// ValidationError reports an envelope that must never reach dedup or
// ordering.
type ValidationError struct {
	Code    ValidationErrorCode
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the minimum required fields of an envelope.
func Validate(e Envelope) error {
	if e.Type == "" {
		return &ValidationError{Code: ErrCodeMissingType, Field: "type", Message: "type is required"}
	}
	if e.EventID == "" {
		return &ValidationError{Code: ErrCodeMissingEventID, Field: "eventId", Message: "eventId is required"}
	}
	if e.HasSequence && e.Sequence < 0 {
		return &ValidationError{
			Code:    ErrCodeNegativeSequence,
			Field:   "sequence",
			Message: fmt.Sprintf("sequence must be >= 0, got %d", e.Sequence),
		}
	}
	if e.Timestamp <= 0 {
		return &ValidationError{
			Code:    ErrCodeInvalidTimestamp,
			Field:   "timestamp",
			Message: fmt.Sprintf("timestamp must be positive epoch ms, got %d", e.Timestamp),
		}
	}
	if e.Properties == nil {
		return &ValidationError{Code: ErrCodeMissingProperties, Field: "properties", Message: "properties object is required"}
	}
	return nil
}
