// Package errors provides a structured error system for levelfs with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for levelfs operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Storage Backend Errors
	ErrCodeStoreOpen    ErrorCode = "STORE_OPEN"
	ErrCodeStoreRead    ErrorCode = "STORE_READ"
	ErrCodeStoreWrite   ErrorCode = "STORE_WRITE"
	ErrCodeStoreClosed  ErrorCode = "STORE_CLOSED"
	ErrCodeIOError      ErrorCode = "IO_ERROR"
	ErrCodeCircuitOpen  ErrorCode = "CIRCUIT_OPEN"
	ErrCodeStoreBusy    ErrorCode = "STORE_BUSY"
	ErrCodeStoreInvalid ErrorCode = "STORE_INVALID_URI"

	// Filesystem Errors
	ErrCodeMountFailed     ErrorCode = "MOUNT_FAILED"
	ErrCodeUnmountFailed   ErrorCode = "UNMOUNT_FAILED"
	ErrCodeInvalidPath     ErrorCode = "INVALID_PATH"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists   ErrorCode = "ALREADY_EXISTS"
	ErrCodeIsADirectory    ErrorCode = "IS_A_DIRECTORY"
	ErrCodeNotADirectory   ErrorCode = "NOT_A_DIRECTORY"
	ErrCodeNotEmpty        ErrorCode = "NOT_EMPTY"
	ErrCodeBadHandle       ErrorCode = "BAD_HANDLE"
	ErrCodeReadOnly        ErrorCode = "READ_ONLY"
	ErrCodeCrossDevice     ErrorCode = "CROSS_DEVICE"
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	ErrCodeFileTooLarge    ErrorCode = "FILE_TOO_LARGE"

	// Operation Errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// LevelFSError represents a structured error with context and metadata.
type LevelFSError struct {
	// Core error information
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Error handling hints
	Retryable  bool `json:"retryable"`
	UserFacing bool `json:"user_facing"`

	// Debug information
	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *LevelFSError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Component != "" {
		if e.Operation != "" {
			msg = fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, msg)
		} else {
			msg = fmt.Sprintf("[%s] %s", e.Component, msg)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *LevelFSError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *LevelFSError) Is(target error) bool {
	if other, ok := target.(*LevelFSError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *LevelFSError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}

	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}

	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("LevelFSError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new levelfs error with default values.
func NewError(code ErrorCode, message string) *LevelFSError {
	return &LevelFSError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		UserFacing: IsUserFacingByDefault(code),
	}
}

// Newf is NewError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *LevelFSError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates an error with the given code and cause. A nil cause yields nil.
func Wrap(cause error, code ErrorCode, message string) *LevelFSError {
	if cause == nil {
		return nil
	}
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "STORE_") || strings.HasPrefix(codeStr, "IO_") ||
		strings.HasPrefix(codeStr, "CIRCUIT_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "MOUNT_") || strings.HasPrefix(codeStr, "UNMOUNT_") ||
		strings.HasPrefix(codeStr, "INVALID_PATH") || strings.HasPrefix(codeStr, "NOT_") ||
		strings.HasPrefix(codeStr, "ALREADY_") || strings.HasPrefix(codeStr, "IS_A_") ||
		strings.HasPrefix(codeStr, "BAD_HANDLE") || strings.HasPrefix(codeStr, "READ_ONLY") ||
		strings.HasPrefix(codeStr, "CROSS_") || strings.HasPrefix(codeStr, "INVALID_ARGUMENT") ||
		strings.HasPrefix(codeStr, "FILE_TOO_LARGE"):
		return CategoryFilesystem
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "RETRY_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeStoreBusy:     true,
		ErrCodeInternalError: true,
	}
	return retryableCodes[code]
}

// IsUserFacingByDefault determines if an error should be shown to users.
func IsUserFacingByDefault(code ErrorCode) bool {
	userFacingCodes := map[ErrorCode]bool{
		ErrCodeInvalidConfig:    true,
		ErrCodeConfigValidation: true,
		ErrCodeConfigLoad:       true,
		ErrCodeStoreOpen:        true,
		ErrCodeStoreInvalid:     true,
		ErrCodeMountFailed:      true,
		ErrCodeInvalidPath:      true,
		ErrCodeNotFound:         true,
		ErrCodeOperationTimeout: true,
	}
	return userFacingCodes[code]
}

// CodeOf returns the code of the first LevelFSError in err's chain, or
// ErrCodeUnknownError when there is none.
func CodeOf(err error) ErrorCode {
	var lerr *LevelFSError
	if errors.As(err, &lerr) {
		return lerr.Code
	}
	return ErrCodeUnknownError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var lerr *LevelFSError
	if errors.As(err, &lerr) {
		return lerr.Retryable
	}
	return false
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *LevelFSError) WithContext(key, value string) *LevelFSError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *LevelFSError) WithDetail(key string, value interface{}) *LevelFSError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *LevelFSError) WithComponent(component string) *LevelFSError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *LevelFSError) WithOperation(operation string) *LevelFSError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *LevelFSError) WithCause(cause error) *LevelFSError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retry hint.
func (e *LevelFSError) WithRetryable(retryable bool) *LevelFSError {
	e.Retryable = retryable
	return e
}

// WithStack captures the current stack trace
func (e *LevelFSError) WithStack() *LevelFSError {
	e.Stack = CaptureStack(2)
	return e
}

// GetRecommendation returns a user-friendly recommendation for fixing the error
func (e *LevelFSError) GetRecommendation() string {
	recommendations := map[ErrorCode]string{
		ErrCodeInvalidConfig: "Configuration validation failed. " +
			"Check your configuration file syntax and required parameters.",
		ErrCodeStoreOpen: "The key-value store could not be opened. " +
			"Check that the store path exists and is not locked by another process.",
		ErrCodeStoreInvalid: "The store path could not be parsed. " +
			"Use a directory path or an s3://bucket/prefix URI.",
		ErrCodeMountFailed: "Failed to mount filesystem. " +
			"Check mount point permissions and ensure FUSE is installed.",
		ErrCodeOperationTimeout: "A store operation took too long to complete. " +
			"Consider increasing backend.operation_timeout.",
		ErrCodeFileTooLarge: "The write would grow a value past the size limit. " +
			"Raise backend.max_value_size if larger values are expected.",
		ErrCodeCircuitOpen: "The store has failed repeatedly and requests are being rejected. " +
			"Check store health; requests resume automatically after the breaker timeout.",
	}

	if rec, exists := recommendations[e.Code]; exists {
		return rec
	}

	return "Please check the error message for details."
}

// DetailedDiagnostic returns a comprehensive diagnostic message
func (e *LevelFSError) DetailedDiagnostic() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Error: %s", e.Message))
	parts = append(parts, fmt.Sprintf("Code: %s", e.Code))
	parts = append(parts, fmt.Sprintf("Category: %s", e.Category))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component: %s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation: %s", e.Operation))
	}

	if len(e.Context) > 0 {
		parts = append(parts, "\nContext:")
		for k, v := range e.Context {
			parts = append(parts, fmt.Sprintf("  %s: %s", k, v))
		}
	}

	parts = append(parts, "\nRecommendation:")
	parts = append(parts, "  "+e.GetRecommendation())

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("\nUnderlying cause: %s", e.Cause.Error()))
	}

	return strings.Join(parts, "\n")
}
