// Package common provides shared constants, types, and utilities
// used across the IKE session daemon.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "org.ikesession.ikesessiond"
	// AppName is the display name of the daemon.
	AppName = "ikesessiond"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "ikesessiond"
)

// File names used by the daemon.
const (
	ConfigFileName  = "config.yaml"
	HistoryFileName = "history.db"
	LogFileName     = "ikesessiond.log"
)

// Default timeouts and intervals.
const (
	// ConnectTimeout is the maximum time to wait for the tunnel to come up.
	ConnectTimeout = 30 * time.Second
	// TeardownTimeout bounds how long a graceful disconnect waits for the
	// engine to confirm the tunnel is down.
	TeardownTimeout = 5 * time.Second
	// AbortTimeout bounds the best-effort engine abort during a force
	// disconnect. The abort is never awaited by callers.
	AbortTimeout = 2 * time.Second
	// HealthInterval is how often the health monitor probes connectivity.
	HealthInterval = 30 * time.Second
	// ShutdownTimeout bounds the control plane's graceful shutdown.
	ShutdownTimeout = 10 * time.Second
)

// Control plane defaults.
const (
	// DefaultListenAddr is the loopback address the control plane binds to.
	DefaultListenAddr = "127.0.0.1:7737"
	// DefaultHistoryLimit is the number of attempts returned when no limit
	// is requested.
	DefaultHistoryLimit = 20
	// MaxHistoryLimit caps a requested history page size.
	MaxHistoryLimit = 200
)

// Polkit integration.
const (
	// PolkitActionID is the polkit action checked before a tunnel may be
	// established.
	PolkitActionID = "org.ikesession.manage-tunnel"
)
