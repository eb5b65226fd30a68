package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures across the server.
type ErrorCode string

const (
	CodeConfig        ErrorCode = "CONFIG_ERROR"         // invalid or missing configuration, fatal at startup
	CodeSecurity      ErrorCode = "SECURITY_ERROR"       // URL/redirect rejected by the validator, never retried
	CodeToolExecution ErrorCode = "TOOL_EXECUTION_ERROR" // tool failed after retries were exhausted
	CodeModelBehavior ErrorCode = "MODEL_BEHAVIOR_ERROR" // malformed tool-call syntax from the model
	CodeTransport     ErrorCode = "TRANSPORT_ERROR"      // transport-local I/O, timeout, or disconnect
	CodeNotFound      ErrorCode = "NOT_FOUND"            // unknown tool, session, or document id
)

// AppError carries a code, a human-readable message, and an optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a fatal configuration error.
func NewConfigError(message string) *AppError {
	return &AppError{Code: CodeConfig, Message: message}
}

// NewSecurityError creates a security violation error.
func NewSecurityError(message string) *AppError {
	return &AppError{Code: CodeSecurity, Message: message}
}

// NewToolExecutionError creates a post-retry tool failure error.
func NewToolExecutionError(message string, cause error) *AppError {
	return &AppError{Code: CodeToolExecution, Message: message, Err: cause}
}

// NewModelBehaviorError creates an error for malformed model output.
func NewModelBehaviorError(message string) *AppError {
	return &AppError{Code: CodeModelBehavior, Message: message}
}

// NewTransportError creates a transport-level error.
func NewTransportError(message string, cause error) *AppError {
	return &AppError{Code: CodeTransport, Message: message, Err: cause}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool { return is(err, CodeConfig) }

// IsSecurity reports whether err is a security violation.
// Security errors are never retried and never wrapped into tool error results.
func IsSecurity(err error) bool { return is(err, CodeSecurity) }

// IsModelBehavior reports whether err came from malformed model output.
func IsModelBehavior(err error) bool { return is(err, CodeModelBehavior) }

// IsTransport reports whether err is transport-local.
func IsTransport(err error) bool { return is(err, CodeTransport) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return is(err, CodeNotFound) }
