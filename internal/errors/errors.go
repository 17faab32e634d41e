package errors

import (
	"fmt"
	"runtime"
)

// Error types for different categories of failures
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeBackend       ErrorType = "backend"
	ErrorTypeUsage         ErrorType = "usage"
	ErrorTypeNotFound      ErrorType = "not_found"
)

// StructuredError provides rich error context
type StructuredError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Stack     []uintptr
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// New creates a new structured error
func New(errType ErrorType, operation, message string) *StructuredError {
	return &StructuredError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, operation, message string) *StructuredError {
	if err == nil {
		return nil
	}

	return &StructuredError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
	}
}

// WithContext adds context information to an error
func (e *StructuredError) WithContext(key string, value interface{}) *StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsType reports whether err is, or wraps, a StructuredError of the given type.
// Joined errors are searched in full.
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*StructuredError); ok && se.Type == errType {
		return true
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return IsType(u.Unwrap(), errType)
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if IsType(e, errType) {
				return true
			}
		}
	}
	return false
}

// captureStack captures the current stack trace
func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, this function and the constructor
	return pcs[:n]
}

// NewValidationError creates a validation error
func NewValidationError(operation, message string) *StructuredError {
	return New(ErrorTypeValidation, operation, message)
}

// NewUsageError creates a usage error
func NewUsageError(operation, message string) *StructuredError {
	return New(ErrorTypeUsage, operation, message)
}

// NewNotFoundError creates a not-found error
func NewNotFoundError(operation, message string) *StructuredError {
	return New(ErrorTypeNotFound, operation, message)
}

// WrapBackendError wraps an error raised while acquiring or releasing backing memory
func WrapBackendError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeBackend, operation, message)
}

// WrapConfigurationError wraps an error as a configuration error
func WrapConfigurationError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeConfiguration, operation, message)
}

// WrapValidationError wraps an error as a validation error
func WrapValidationError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeValidation, operation, message)
}
