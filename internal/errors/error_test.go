package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructuredError_Error(t *testing.T) {
	// Test error without cause
	err := New(ErrorTypeValidation, "test_op", "test message")
	expected := "[validation] test_op: test message"
	assert.Equal(t, expected, err.Error())

	// Test error with cause
	cause := errors.New("underlying error")
	err = Wrap(cause, ErrorTypeBackend, "acquire", "mmap failed")
	assert.Contains(t, err.Error(), "[backend] acquire: mmap failed")
	assert.Contains(t, err.Error(), "underlying error")
	assert.Equal(t, cause, err.Unwrap())
}

func TestStructuredError_WithContext(t *testing.T) {
	err := New(ErrorTypeValidation, "test_op", "test message")
	err = err.WithContext("block_size", 0).WithContext("pool", "HOST")

	assert.Equal(t, 0, err.Context["block_size"])
	assert.Equal(t, "HOST", err.Context["pool"])
}

func TestErrorConstructors(t *testing.T) {
	assert.Equal(t, ErrorTypeValidation, NewValidationError("op", "msg").Type)
	assert.Equal(t, ErrorTypeUsage, NewUsageError("op", "msg").Type)
	assert.Equal(t, ErrorTypeNotFound, NewNotFoundError("op", "msg").Type)
}

func TestErrorWrapping(t *testing.T) {
	originalErr := errors.New("original error")

	wrapped := WrapBackendError(originalErr, "pin", "mlock failed")
	assert.Equal(t, ErrorTypeBackend, wrapped.Type)
	assert.Equal(t, "pin", wrapped.Operation)
	assert.Equal(t, "mlock failed", wrapped.Message)
	assert.Equal(t, originalErr, wrapped.Unwrap())
	assert.True(t, errors.Is(wrapped, originalErr))

	assert.Equal(t, ErrorTypeConfiguration, WrapConfigurationError(originalErr, "op", "msg").Type)
	assert.Equal(t, ErrorTypeValidation, WrapValidationError(originalErr, "op", "msg").Type)

	// Test that Wrap returns nil for nil error
	assert.Nil(t, Wrap(nil, ErrorTypeBackend, "op", "msg"))
}

func TestIsType(t *testing.T) {
	base := WrapBackendError(errors.New("boom"), "acquire", "device malloc failed")
	outer := fmt.Errorf("new pool: %w", base)

	assert.True(t, IsType(base, ErrorTypeBackend))
	assert.True(t, IsType(outer, ErrorTypeBackend))
	assert.False(t, IsType(outer, ErrorTypeValidation))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeBackend))
	assert.False(t, IsType(nil, ErrorTypeBackend))

	joined := errors.Join(errors.New("close failed"), outer)
	assert.True(t, IsType(joined, ErrorTypeBackend))
}

func TestStackTraceCapture(t *testing.T) {
	err := New(ErrorTypeValidation, "test", "message")
	// Should have captured some stack frames
	assert.Greater(t, len(err.Stack), 0)
}
