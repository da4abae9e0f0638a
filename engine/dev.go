// Package engine provides tunnel engine implementations for the session
// state machine. This file contains the dev engine, which simulates
// negotiation and liveness while still acquiring a real tun device when
// the process is privileged enough.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ikesession/ikesessiond/common"
	"github.com/ikesession/ikesessiond/session"
	"github.com/ikesession/ikesessiond/tun"
)

// DevConfig configures the simulated engine.
type DevConfig struct {
	// ConnectLatency is the simulated negotiation time
	ConnectLatency time.Duration
	// DisconnectLatency is the simulated teardown time
	DisconnectLatency time.Duration
	// StartFailures makes the first N starts fail, for exercising
	// failure paths end to end
	StartFailures int
	// DeviceName is the requested tun interface name
	DeviceName string
	// Profile is the addressing applied to the interface
	Profile tun.Profile
}

// DefaultDevConfig returns the simulation defaults.
func DefaultDevConfig() DevConfig {
	return DevConfig{
		ConnectLatency:    750 * time.Millisecond,
		DisconnectLatency: 300 * time.Millisecond,
		DeviceName:        "ike0",
		Profile:           tun.DefaultProfile(),
	}
}

// DevEngine fakes the cryptographic tunnel: it waits out a configured
// negotiation latency, acquires a tun device (falling back to a purely
// simulated one without privileges), and reports up.
type DevEngine struct {
	mu           sync.Mutex
	config       DevConfig
	device       *tun.Device
	failuresLeft int
}

// NewDevEngine returns a simulated engine. Zero config fields fall back
// to DefaultDevConfig.
func NewDevEngine(config DevConfig) *DevEngine {
	defs := DefaultDevConfig()
	if config.ConnectLatency <= 0 {
		config.ConnectLatency = defs.ConnectLatency
	}
	if config.DisconnectLatency <= 0 {
		config.DisconnectLatency = defs.DisconnectLatency
	}
	if config.DeviceName == "" {
		config.DeviceName = defs.DeviceName
	}
	if config.Profile.Address == "" {
		config.Profile = defs.Profile
	}

	return &DevEngine{config: config, failuresLeft: config.StartFailures}
}

// Name identifies this engine in logs and status output.
func (e *DevEngine) Name() string { return "dev" }

// Start simulates negotiation, then acquires the tun device.
func (e *DevEngine) Start(ctx context.Context, cfg session.Config) error {
	e.mu.Lock()
	if e.device != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.mu.Unlock()

	common.LogDebug("engine: dev negotiating with %s as %s", cfg.Server, cfg.Identifier)
	select {
	case <-time.After(e.config.ConnectLatency):
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	if e.failuresLeft > 0 {
		e.failuresLeft--
		e.mu.Unlock()
		return fmt.Errorf("%w: simulated negotiation failure", common.ErrConnectionFailed)
	}
	e.mu.Unlock()

	dev, err := tun.Open(e.config.DeviceName, e.config.Profile)
	if err != nil {
		common.LogDebug("engine: tun unavailable (%v), using simulated device", err)
		dev = tun.NewSimulated(e.config.DeviceName, e.config.Profile)
	}

	e.mu.Lock()
	e.device = dev
	e.mu.Unlock()
	common.LogInfo("engine: dev tunnel up on %s", dev.Name())
	return nil
}

// Stop simulates teardown and releases the device. The device is
// released even when ctx ends first.
func (e *DevEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	dev := e.device
	e.device = nil
	e.mu.Unlock()
	if dev == nil {
		return nil
	}

	select {
	case <-time.After(e.config.DisconnectLatency):
	case <-ctx.Done():
		dev.Close()
		return ctx.Err()
	}
	return dev.Close()
}

// DeviceName reports the acquired interface while the tunnel is up.
func (e *DevEngine) DeviceName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.device == nil {
		return ""
	}
	return e.device.Name()
}
