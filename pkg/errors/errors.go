// Package errors provides structured error handling for datalens with
// error categorization, key-value context, and stack capture.
//
// Connector failures are classified by ErrorType so that callers can map
// them to user-facing responses without string matching:
//
//	if err := conn.Connect(ctx); err != nil {
//	    if errors.IsType(err, errors.ErrorTypeAuthentication) {
//	        // surface a credentials problem
//	    }
//	}
//
// ErrorTypeTimeout is reserved for caller-supplied deadlines expiring and is
// never used for backend-reported query failures.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType categorizes an error for handling strategies and API mapping.
type ErrorType string

const (
	// ErrorTypeInternal represents unexpected internal errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnection represents backend connectivity errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeAuthentication represents credential failures
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeNotFound represents a missing database, collection, or file
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeQuery represents query execution errors
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeTimeout represents caller-deadline expiry
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeSchema represents schema introspection errors
	ErrorTypeSchema ErrorType = "schema"
	// ErrorTypeData represents data conversion errors
	ErrorTypeData ErrorType = "data"
)

// Error is a structured error carrying a type, a human-readable message,
// an optional cause, key-value details, and the call stack at creation.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is a single frame of the call stack captured at error creation.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key-value detail and returns the error for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an error with the given type and message, capturing the
// call stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates an error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps err with a type and message, preserving it as the cause.
// If err is already a structured Error its stack is kept. Returns nil
// when err is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existing.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Wrapf wraps err with a formatted message.
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return Wrap(err, errType, fmt.Sprintf(format, args...))
}

// IsType reports whether err carries the given ErrorType.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the ErrorType of err, or ErrorTypeInternal for
// unclassified errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// IsConnectionError reports whether err is any connection-class failure:
// connectivity, authentication, or a missing resource discovered while
// connecting.
func IsConnectionError(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeConnection, ErrorTypeAuthentication, ErrorTypeNotFound:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether the error is transient. Connection and
// timeout errors are retryable; the core never retries internally, this
// is a hint for the calling layer.
func IsRetryable(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeConnection, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
