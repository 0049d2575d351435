// Package errors provides structured error types for the hayabusa system.
// All errors carry a category, code, and message so that the broker, the
// workers, and the gRPC surface classify failures the same way.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the kind of failure.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryRequest    ErrorCategory = "REQUEST"
	ErrCategoryProtocol   ErrorCategory = "PROTOCOL"
	ErrCategorySubprocess ErrorCategory = "SUBPROCESS"
	ErrCategoryDelivery   ErrorCategory = "DELIVERY"
	ErrCategoryConfig     ErrorCategory = "CONFIG"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeMissingField     = "MISSING_FIELD"
	CodeInvalidTimeRange = "INVALID_TIME_RANGE"
	CodeTimeRangeTooLong = "TIME_RANGE_TOO_LONG"
	CodeFutureTime       = "FUTURE_TIME"
	CodeUnknownUser      = "UNKNOWN_USER"
	CodePermissionDenied = "PERMISSION_DENIED"

	// Request codes
	CodeUnknownRequest   = "UNKNOWN_REQUEST"
	CodeDuplicateRequest = "DUPLICATE_REQUEST"

	// Protocol codes
	CodeTerminalRequest   = "TERMINAL_REQUEST"
	CodeIllegalTransition = "ILLEGAL_TRANSITION"
	CodeBadIndex          = "BAD_INDEX"
	CodeBadMessage        = "BAD_MESSAGE"

	// Subprocess codes
	CodeLaunchFailed = "LAUNCH_FAILED"

	// Delivery codes
	CodeUnreachable = "UNREACHABLE"
	CodeSendFailed  = "SEND_FAILED"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeUsersFile     = "USERS_FILE"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
	CodeClosed     = "CLOSED"
)

// HayabusaError is the structured error type used throughout the system.
type HayabusaError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Cause    error
}

// Error returns a formatted error string.
func (e *HayabusaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *HayabusaError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *HayabusaError) Is(target error) bool {
	var t *HayabusaError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new HayabusaError.
func New(category ErrorCategory, code, message string) *HayabusaError {
	return &HayabusaError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Newf creates a new HayabusaError with a formatted message.
func Newf(category ErrorCategory, code, format string, args ...any) *HayabusaError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new HayabusaError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *HayabusaError {
	return &HayabusaError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a HayabusaError.
func GetCategory(err error) ErrorCategory {
	var he *HayabusaError
	if errors.As(err, &he) {
		return he.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a HayabusaError.
func GetCode(err error) string {
	var he *HayabusaError
	if errors.As(err, &he) {
		return he.Code
	}
	return ""
}

// Convenience constructors for common errors.

func NewValidationError(code, format string, args ...any) *HayabusaError {
	return Newf(ErrCategoryValidation, code, format, args...)
}

func NewUnknownRequest(id string) *HayabusaError {
	return Newf(ErrCategoryRequest, CodeUnknownRequest, "unknown request id: %s", id)
}

func NewProtocolError(code, format string, args ...any) *HayabusaError {
	return Newf(ErrCategoryProtocol, code, format, args...)
}

func NewSubprocessError(message string, cause error) *HayabusaError {
	return Wrap(ErrCategorySubprocess, CodeLaunchFailed, message, cause)
}

func NewDeliveryError(code, message string, cause error) *HayabusaError {
	return Wrap(ErrCategoryDelivery, code, message, cause)
}

func NewConfigError(code, message string, cause error) *HayabusaError {
	return Wrap(ErrCategoryConfig, code, message, cause)
}

func NewInternalError(message string, cause error) *HayabusaError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return GetCategory(err) == ErrCategoryValidation
}

// IsConfig reports whether err is a startup configuration failure.
func IsConfig(err error) bool {
	return GetCategory(err) == ErrCategoryConfig
}
