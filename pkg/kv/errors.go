package kv

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrNotFound        = errors.New("key not found")
	ErrEmptyKey        = errors.New("key must not be empty")
	ErrKeyTooLarge     = errors.New("key exceeds maximum size")
	ErrValueTooLarge   = errors.New("value exceeds maximum size")
	ErrCorruptRecord   = errors.New("record checksum mismatch")
	ErrTruncatedRecord = errors.New("record truncated")
	ErrRecoveryFailed  = errors.New("recovery failed")
	ErrStoreClosed     = errors.New("store is closed")

	// ErrRetryExhausted reports a read that kept losing the race against
	// segment retirement. The key is live; the caller may retry.
	ErrRetryExhausted = errors.New("read retries exhausted")

	// errSegmentFull signals the write path to rotate. It is consumed by the
	// store and never returned to callers.
	errSegmentFull   = errors.New("segment full")
	errSegmentSealed = errors.New("segment is sealed")
)

// StoreError provides structured error information for store operations.
type StoreError struct {
	Op      string // Operation that failed (e.g., "put", "compact")
	Key     string // Key involved (if applicable)
	Segment uint64 // Segment ID (if applicable)
	Context string // Additional context
	Cause   error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s key %q: %v", e.Op, e.Key, e.Cause)
	}
	if e.Segment != 0 {
		return fmt.Sprintf("%s segment %d: %v", e.Op, e.Segment, e.Cause)
	}
	if e.Context != "" {
		return fmt.Sprintf("%s (%s): %v", e.Op, e.Context, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches this error or its cause.
func (e *StoreError) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}

// ErrorBuilder provides a fluent interface for building StoreErrors.
type ErrorBuilder struct {
	err StoreError
}

// NewError creates a new error builder with the given operation.
func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: StoreError{Op: op}}
}

// Key sets the key involved in the operation.
func (b *ErrorBuilder) Key(key []byte) *ErrorBuilder {
	b.err.Key = string(key)
	return b
}

// Segment sets the segment ID involved in the operation.
func (b *ErrorBuilder) Segment(id uint64) *ErrorBuilder {
	b.err.Segment = id
	return b
}

// Context sets additional context information.
func (b *ErrorBuilder) Context(ctx string) *ErrorBuilder {
	b.err.Context = ctx
	return b
}

// Cause sets the underlying error cause.
func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

// Err returns the error as an error interface.
func (b *ErrorBuilder) Err() error {
	return &b.err
}

// Convenience constructors for common error patterns

// NotFoundError creates a not found error for the given key.
func NotFoundError(op string, key []byte) error {
	return NewError(op).Key(key).Cause(ErrNotFound).Err()
}

// CorruptError creates a corruption error for the given segment.
func CorruptError(op string, segment uint64, cause error) error {
	return NewError(op).Segment(segment).Cause(cause).Err()
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCorrupt returns true if the error indicates on-disk corruption.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptRecord) || errors.Is(err, ErrTruncatedRecord)
}

// IsClosed returns true if the error indicates the store is closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrStoreClosed)
}
