// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-net.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrAllocationFailure  = errors.New("buffer allocation failed")
	ErrInsufficientData   = errors.New("insufficient data")
	ErrTruncatedMessage   = errors.New("truncated message")
	ErrDoubleRelease      = errors.New("buffer released more times than retained")
	ErrUseAfterRelease    = errors.New("buffer used after release")
	ErrChannelClosed      = errors.New("channel closed")
	ErrTransport          = errors.New("transport error")
	ErrLoopShutdown       = errors.New("event loop is shutting down")
	ErrUnsupportedMessage = errors.New("unsupported outbound message type")
	ErrHandlerNotFound    = errors.New("handler not found in pipeline")
	ErrFrameTooLong       = errors.New("frame exceeds maximum length")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotSupported       = errors.New("operation not supported")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeOwnership
	ErrCodeClosed
	ErrCodeTransport
	ErrCodeInternal
)

// Error represents a structured error with code and context.
// It unwraps to Err so callers can keep matching on the sentinels above.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap exposes the wrapped sentinel.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new structured error.
func NewError(code ErrorCode, cause error, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
		Err:     cause,
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// TruncatedMessageError reports bytes of an incomplete frame that were
// discarded because the connection became inactive.
type TruncatedMessageError struct {
	Pending int
}

func (e *TruncatedMessageError) Error() string {
	return fmt.Sprintf("truncated message: %d bytes pending at close", e.Pending)
}

// Is makes errors.Is(err, ErrTruncatedMessage) hold.
func (e *TruncatedMessageError) Is(target error) bool { return target == ErrTruncatedMessage }

// TransportError wraps a socket-level failure with the operation that hit it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) hold.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }
