package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Session pool errors
	ErrCodePoolExhausted ErrorCode = "POOL_EXHAUSTED"
	ErrCodePoolClosed    ErrorCode = "POOL_CLOSED"
	ErrCodeSessionFatal  ErrorCode = "SESSION_FATAL"

	// Step execution errors
	ErrCodeStepAction  ErrorCode = "STEP_ACTION"
	ErrCodeStepTimeout ErrorCode = "STEP_TIMEOUT"

	// Vision errors
	ErrCodeVisionParse  ErrorCode = "VISION_PARSE"
	ErrCodeVisionConfig ErrorCode = "VISION_CONFIG"
	ErrCodeVisionAPI    ErrorCode = "VISION_API"

	// Cache and storage errors
	ErrCodeCacheBackend ErrorCode = "CACHE_BACKEND"
	ErrCodeStorageRead  ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite ErrorCode = "STORAGE_WRITE"

	// Generic errors
	ErrCodeNetworkIO    ErrorCode = "NETWORK_IO"
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error represents a structured flowlens error
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any
	Retryable  bool
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap wraps an existing error with flowlens error context
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
	}
}

// WithContext adds a context key-value pair to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, v))
			first = false
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsCode reports whether err (or any error it wraps) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var fe *Error
	if !stderrors.As(err, &fe) {
		return false
	}
	return fe.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var fe *Error
	if !stderrors.As(err, &fe) {
		return ErrCodeInternal
	}
	return fe.Code
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var fe *Error
	if !stderrors.As(err, &fe) {
		return false
	}
	return fe.Retryable
}
