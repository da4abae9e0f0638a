// Package session implements the VPN session lifecycle state machine.
// This file contains the tunnel engine contract the state machine drives.
package session

import "context"

// Engine drives one cryptographic tunnel. The state machine is the only
// caller and enforces all timeouts itself; implementations should honor
// ctx cancellation promptly but never impose their own deadlines.
type Engine interface {
	// Start establishes the tunnel described by cfg. It blocks until the
	// tunnel reports up, then returns nil. If the tunnel reports failure
	// or ctx ends first, Start returns an error and the engine has
	// released everything it acquired, including the virtual interface.
	Start(ctx context.Context, cfg Config) error

	// Stop tears the tunnel down and blocks until the engine confirms it
	// is down or ctx ends. Stopping an engine that is not running is a
	// no-op returning nil.
	Stop(ctx context.Context) error

	// Name identifies the engine implementation in logs and status output.
	Name() string
}

// DeviceNamer is implemented by engines that expose the name of the
// virtual interface backing the tunnel while it is up.
type DeviceNamer interface {
	DeviceName() string
}
