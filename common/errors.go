// Package common provides shared constants, types, and utilities
// used across the IKE session daemon.
package common

import "errors"

// Sentinel errors for session operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Session errors.
	ErrInvalidConfig     = errors.New("invalid session configuration")
	ErrAlreadyConnected  = errors.New("session already connected")
	ErrAlreadyInProgress = errors.New("session operation already in progress")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrDisconnectFailed  = errors.New("disconnect failed")
	ErrCancelled         = errors.New("operation cancelled")

	// Permission errors.
	ErrPermissionDenied      = errors.New("permission denied")
	ErrPermissionUnavailable = errors.New("permission gate unavailable")
	ErrRequestInFlight       = errors.New("permission request already in flight")

	// Control plane errors.
	ErrNotRunning   = errors.New("daemon is not running")
	ErrUnauthorized = errors.New("request not authorized")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
