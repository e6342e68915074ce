// Package errors defines the error taxonomy shared across the suggestion
// pipeline and the mapping from errors to HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSetup covers provider-tree construction, config parsing, and
	// resource acquisition failures. Fatal at startup, logged on reload.
	ErrSetup = errors.New("setup error")
	// ErrMisconfigured marks a provider node whose configuration cannot be
	// applied.
	ErrMisconfigured = errors.New("misconfigured provider")
	// ErrUpstream marks a failed call to a remote collaborator.
	ErrUpstream = errors.New("upstream request failed")
	// ErrTimeout marks an operation that exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")
	// ErrInternal marks a bug or invariant violation.
	ErrInternal = errors.New("internal error")
	// ErrInvalidInput marks malformed client input.
	ErrInvalidInput = errors.New("invalid input")
)

// AppError pairs a sentinel with a human-readable message and an HTTP status.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New builds an AppError from a sentinel, a status code, and a message.
func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Newf is New with a format string.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the status code the HTTP layer should
// return. Unknown errors are 500s.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpstream), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
