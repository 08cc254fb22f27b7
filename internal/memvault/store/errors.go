package store

import (
	"errors"
	"fmt"
)

// Common storage error types.
// These errors can be used directly or wrapped with additional context
// using the WithMessage or WithCause methods.
var (
	// ErrPoolExhausted indicates that no connection could be acquired from
	// the pool before the acquire timeout expired. This occurs when:
	// - All connections are checked out and the pool is at max size
	// - Waiters ahead in the queue consumed every released connection
	ErrPoolExhausted = &StorageError{
		Code:    "POOL_EXHAUSTED",
		Message: "connection pool exhausted",
	}

	// ErrPoolClosed indicates that the pool was closed. Acquire calls that
	// were waiting when Close ran, and any call made afterwards, receive
	// this error.
	ErrPoolClosed = &StorageError{
		Code:    "POOL_CLOSED",
		Message: "connection pool is closed",
	}

	// ErrConnUnhealthy indicates that a connection failed its health probe.
	// The pool discards such connections instead of handing them out.
	ErrConnUnhealthy = &StorageError{
		Code:    "CONN_UNHEALTHY",
		Message: "connection failed health check",
	}

	// ErrConnectionFailed indicates that an attempt to open a backend
	// connection failed. Common causes are network issues, bad credentials
	// and backend unavailability.
	ErrConnectionFailed = &StorageError{
		Code:    "CONNECTION_FAILED",
		Message: "failed to connect to storage backend",
	}

	// ErrNotFound indicates that the requested record does not exist, or
	// exists only as a soft-deleted tombstone when live data was requested.
	ErrNotFound = &StorageError{
		Code:    "NOT_FOUND",
		Message: "record not found",
	}

	// ErrValidation indicates that a request was rejected before reaching
	// the backend: empty content, an unconstrained bulk filter, a count
	// above the configured maximum.
	ErrValidation = &StorageError{
		Code:    "VALIDATION",
		Message: "request failed validation",
	}

	// ErrRollbackExpired indicates that a rollback token is older than the
	// configured restore window. It wraps ErrValidation so callers matching
	// the broader validation class catch it too.
	ErrRollbackExpired = &StorageError{
		Code:    "ROLLBACK_EXPIRED",
		Message: "rollback token is outside the restore window",
		Cause:   ErrValidation,
	}

	// ErrPartialFailure indicates that some records in a batch failed while
	// the batch itself kept going. The operation result lists the failed ids.
	ErrPartialFailure = &StorageError{
		Code:    "PARTIAL_FAILURE",
		Message: "some records in the batch failed",
	}

	// ErrStorage indicates that a backend operation failed. It is a generic
	// error and should be wrapped with the failing operation's details.
	ErrStorage = &StorageError{
		Code:    "STORAGE",
		Message: "storage operation failed",
	}
)

// StorageError represents a storage-related error with a code and message.
// It implements the error interface and provides methods for error wrapping
// and context enrichment.
type StorageError struct {
	// Code is a machine-readable error code (e.g., "POOL_EXHAUSTED")
	Code string

	// Message is a human-readable error message
	Message string

	// Cause is the underlying error that caused this error, if any
	Cause error

	// Context contains additional contextual information about the error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables the use of errors.Is() for error comparison.
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithMessage creates a new StorageError with an updated message.
// The code and cause of the original error are preserved.
//
// Example usage:
//
//	err := store.ErrValidation.WithMessage("content must not be empty")
func (e *StorageError) WithMessage(msg string) *StorageError {
	return &StorageError{
		Code:    e.Code,
		Message: msg,
		Cause:   e.Cause,
		Context: e.Context,
	}
}

// WithCause creates a new StorageError with an underlying cause.
// This is useful for wrapping backend client errors with a stable code.
//
// Example usage:
//
//	err := store.ErrStorage.WithCause(milvusErr)
func (e *StorageError) WithCause(cause error) *StorageError {
	return &StorageError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   cause,
		Context: e.Context,
	}
}

// WithContext creates a new StorageError with additional context information.
// The context map can contain any relevant data for debugging or logging.
func (e *StorageError) WithContext(ctx map[string]interface{}) *StorageError {
	newContext := make(map[string]interface{}, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		newContext[k] = v
	}
	for k, v := range ctx {
		newContext[k] = v
	}

	return &StorageError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Context: newContext,
	}
}

// GetContext retrieves a context value by key.
func (e *StorageError) GetContext(key string) (interface{}, bool) {
	if e.Context == nil {
		return nil, false
	}
	val, ok := e.Context[key]
	return val, ok
}

// IsStorageError checks if an error is a StorageError.
func IsStorageError(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}

// GetStorageError extracts a StorageError from an error chain.
func GetStorageError(err error) (*StorageError, bool) {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr, true
	}
	return nil, false
}
