// Package session implements the VPN session lifecycle state machine.
// This file contains the connectivity monitor that probes reachability
// through the tunnel while the session is connected.
package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ikesession/ikesessiond/common"
)

// HealthState represents the monitored connectivity of the session.
type HealthState int

const (
	// HealthUnknown indicates no probe has run, or the session is not connected
	HealthUnknown HealthState = iota
	// HealthHealthy indicates the last probe succeeded
	HealthHealthy
	// HealthDegraded indicates recent probes failed but not enough to alarm
	HealthDegraded
	// HealthUnhealthy indicates consecutive failures reached the threshold
	HealthUnhealthy
)

// String returns the string representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthUnknown:
		return "UNKNOWN"
	case HealthHealthy:
		return "HEALTHY"
	case HealthDegraded:
		return "DEGRADED"
	case HealthUnhealthy:
		return "UNHEALTHY"
	default:
		return "INVALID"
	}
}

// HealthConfig holds configuration for the connectivity monitor.
type HealthConfig struct {
	// CheckInterval is how often to probe
	CheckInterval time.Duration
	// ProbeTimeout is the per-host dial timeout
	ProbeTimeout time.Duration
	// FailureThreshold is the number of consecutive failures before the
	// state becomes HealthUnhealthy
	FailureThreshold int
	// TestHosts are dialed in order until one answers
	TestHosts []string
}

// DefaultHealthConfig returns sensible monitor defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:    common.HealthInterval,
		ProbeTimeout:     5 * time.Second,
		FailureThreshold: 3,
		TestHosts:        []string{"8.8.8.8:53", "1.1.1.1:53"},
	}
}

// Health is a snapshot of the monitor's view of the connection.
type Health struct {
	State            HealthState
	LastCheck        time.Time
	ConsecutiveFails int
	LastError        string
}

// Monitor periodically probes reachability while the session is
// connected. It only observes and reports; it never tears the session
// down itself.
type Monitor struct {
	mu       sync.RWMutex
	config   HealthConfig
	health   Health
	running  bool
	stopChan chan struct{}

	phase         func() Phase
	onStateChange func(from, to HealthState)
	dial          func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// NewMonitor creates a monitor reading the session phase through the
// given function. Zero config fields fall back to DefaultHealthConfig.
func NewMonitor(config HealthConfig, phase func() Phase) *Monitor {
	defs := DefaultHealthConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = defs.CheckInterval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defs.ProbeTimeout
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defs.FailureThreshold
	}
	if len(config.TestHosts) == 0 {
		config.TestHosts = defs.TestHosts
	}

	return &Monitor{
		config: config,
		health: Health{State: HealthUnknown},
		phase:  phase,
		dial:   net.DialTimeout,
	}
}

// SetStateChangeCallback registers a callback invoked on every health
// state change. Set it before Start.
func (mon *Monitor) SetStateChangeCallback(fn func(from, to HealthState)) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.onStateChange = fn
}

// Start begins periodic probing.
func (mon *Monitor) Start() error {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	if mon.running {
		return fmt.Errorf("connectivity monitor already running")
	}
	mon.running = true
	mon.stopChan = make(chan struct{})
	go mon.runLoop(mon.stopChan)
	return nil
}

// Stop ends periodic probing. It is safe to call when not running.
func (mon *Monitor) Stop() {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	if !mon.running {
		return
	}
	mon.running = false
	close(mon.stopChan)
}

// IsRunning reports whether the probe loop is active.
func (mon *Monitor) IsRunning() bool {
	mon.mu.RLock()
	defer mon.mu.RUnlock()
	return mon.running
}

// GetHealth returns a copy of the current health snapshot.
func (mon *Monitor) GetHealth() Health {
	mon.mu.RLock()
	defer mon.mu.RUnlock()
	return mon.health
}

func (mon *Monitor) runLoop(stop chan struct{}) {
	ticker := time.NewTicker(mon.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			mon.check()
		}
	}
}

// check runs one probe cycle. While the session is not connected the
// monitor idles in HealthUnknown rather than counting failures it can
// do nothing about.
func (mon *Monitor) check() {
	if mon.phase() != PhaseConnected {
		mon.transition(func(h *Health) {
			h.State = HealthUnknown
			h.ConsecutiveFails = 0
			h.LastError = ""
		})
		return
	}

	err := mon.probe()
	now := time.Now()
	mon.transition(func(h *Health) {
		h.LastCheck = now
		if err != nil {
			h.ConsecutiveFails++
			h.LastError = err.Error()
			if h.ConsecutiveFails >= mon.config.FailureThreshold {
				h.State = HealthUnhealthy
			} else {
				h.State = HealthDegraded
			}
			return
		}
		h.ConsecutiveFails = 0
		h.LastError = ""
		h.State = HealthHealthy
	})
}

// probe dials the test hosts in order and succeeds on the first answer.
func (mon *Monitor) probe() error {
	var lastErr error
	for _, host := range mon.config.TestHosts {
		conn, err := mon.dial("tcp", host, mon.config.ProbeTimeout)
		if err == nil {
			conn.Close()
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("all test hosts unreachable: %w", lastErr)
}

// transition applies a mutation to the health snapshot and fires the
// state change callback outside the lock.
func (mon *Monitor) transition(mutate func(*Health)) {
	mon.mu.Lock()
	prev := mon.health.State
	mutate(&mon.health)
	next := mon.health.State
	cb := mon.onStateChange
	mon.mu.Unlock()

	if next == prev {
		return
	}
	common.LogInfo("session: connectivity %s -> %s", prev, next)
	if cb != nil {
		cb(prev, next)
	}
}
