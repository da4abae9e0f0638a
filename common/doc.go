// Package common provides shared constants, types, utilities, and logging
// used throughout the IKE session daemon.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: Daemon-wide constants like timeouts, file names, and the polkit action ID
//   - Errors: Sentinel errors for consistent error handling across packages
//   - Logger: Structured logging with multiple output destinations and rotation
//   - Utils: Common utility functions for identifiers and file operations
//
// # Usage
//
// Import the package to access shared functionality:
//
//	import "github.com/ikesession/ikesessiond/common"
//
//	// Use constants
//	timeout := common.ConnectTimeout
//
//	// Use logger
//	common.LogInfo("Session phase: %s", phase)
//
//	// Check errors
//	if errors.Is(err, common.ErrPermissionDenied) {
//	    // Offer the connect again; denial is not fatal
//	}
//
// # Error Taxonomy
//
// Every failure mode of the session lifecycle maps to one sentinel:
// ErrInvalidConfig, ErrPermissionDenied, ErrPermissionUnavailable,
// ErrAlreadyInProgress, ErrAlreadyConnected, ErrConnectionFailed,
// ErrDisconnectFailed, and ErrCancelled. Wrapping with WrapError or
// fmt.Errorf("%w: ...") preserves errors.Is matching while adding context.
// None of these are process-fatal; the session always settles in a
// well-defined phase.
package common
