package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID      = "invalid"      // Invalid input or validation failure
	EUNAUTHORIZED = "unauthorized" // Identity missing from the request
	EFORBIDDEN    = "forbidden"    // Permission denied
	ENOTFOUND     = "not_found"    // Resource not found
	ECONFLICT     = "conflict"     // Write clashes with existing state or a concurrent update
	EUNAVAILABLE  = "unavailable"  // Persistence layer unreachable or timed out
	EINTERNAL     = "internal"     // Internal server error
)

// Sentinel errors for the quota engine. Service code wraps these with an
// operation and message, so callers match them with errors.Is.
var (
	ErrInvalidTier         = &Error{Code: EINVALID, Message: "unknown subscription tier"}
	ErrAccountNotFound     = &Error{Code: ENOTFOUND, Message: "account not found"}
	ErrAccountExists       = &Error{Code: ECONFLICT, Message: "account already exists"}
	ErrConcurrencyConflict = &Error{Code: ECONFLICT, Message: "concurrent update, please retry"}
	ErrStorageUnavailable  = &Error{Code: EUNAVAILABLE, Message: "storage temporarily unavailable"}
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "quota.try_increment")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code, op, message string) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the outermost application error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return EINVALID
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case EINTERNAL:
			return "An internal error occurred. Please try again later."
		case EUNAVAILABLE:
			return "The service is busy. Please try again shortly."
		case ECONFLICT:
			if errors.Is(err, ErrConcurrencyConflict) {
				return "The service is busy. Please try again shortly."
			}
		}
		return e.Message
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "Please correct the highlighted fields."
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the outermost application error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// IsTransient reports whether the caller may retry the operation later.
// A conflict with existing state, such as a duplicate account, is not.
func IsTransient(err error) bool {
	if ErrorCode(err) == EUNAVAILABLE {
		return true
	}
	return errors.Is(err, ErrConcurrencyConflict)
}

// Convenience constructors for common error types

// AccountNotFound wraps ErrAccountNotFound for the given account id.
func AccountNotFound(op, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("account with ID %q not found", id),
		Err:     ErrAccountNotFound,
	}
}

// AccountExists wraps ErrAccountExists for the given account id.
func AccountExists(op, id string) *Error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: fmt.Sprintf("account with ID %q already exists", id),
		Err:     ErrAccountExists,
	}
}

// InvalidTier wraps ErrInvalidTier for the rejected value.
func InvalidTier(op, value string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: fmt.Sprintf("unknown subscription tier %q", value),
		Err:     ErrInvalidTier,
	}
}

// Unavailable wraps a persistence failure as ErrStorageUnavailable.
func Unavailable(err error, op string) *Error {
	return &Error{
		Code:    EUNAVAILABLE,
		Op:      op,
		Message: ErrStorageUnavailable.Message,
		Err:     errors.Join(ErrStorageUnavailable, err),
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Unauthorized creates an authentication error.
func Unauthorized(op, message string) *Error {
	return &Error{
		Code:    EUNAUTHORIZED,
		Op:      op,
		Message: message,
	}
}

// Forbidden creates a permission error.
func Forbidden(op, message string) *Error {
	return &Error{
		Code:    EFORBIDDEN,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
func Conflict(op, message string) *Error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
		Err:     ErrConcurrencyConflict,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents field-level validation errors.
type ValidationError struct {
	Op     string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation failed", e.Op)
}

// NewValidationError creates a new validation error with the first field error.
func NewValidationError(op, field, message string) *ValidationError {
	return &ValidationError{
		Op: op,
		Fields: map[string]string{
			field: message,
		},
	}
}
