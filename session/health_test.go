package session

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestHealthState_String(t *testing.T) {
	tests := []struct {
		state    HealthState
		expected string
	}{
		{HealthUnknown, "UNKNOWN"},
		{HealthHealthy, "HEALTHY"},
		{HealthDegraded, "DEGRADED"},
		{HealthUnhealthy, "UNHEALTHY"},
		{HealthState(99), "INVALID"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("HealthState.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDefaultHealthConfig(t *testing.T) {
	config := DefaultHealthConfig()

	if config.CheckInterval != 30*time.Second {
		t.Errorf("CheckInterval = %v, want 30s", config.CheckInterval)
	}
	if config.ProbeTimeout != 5*time.Second {
		t.Errorf("ProbeTimeout = %v, want 5s", config.ProbeTimeout)
	}
	if config.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %v, want 3", config.FailureThreshold)
	}
	if len(config.TestHosts) == 0 {
		t.Error("TestHosts should not be empty")
	}
}

func TestMonitor_StartStop(t *testing.T) {
	mon := NewMonitor(HealthConfig{CheckInterval: 50 * time.Millisecond}, func() Phase { return PhaseDisabled })

	if mon.IsRunning() {
		t.Error("monitor should not be running before Start")
	}

	if err := mon.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !mon.IsRunning() {
		t.Error("monitor should be running after Start")
	}

	if err := mon.Start(); err == nil {
		t.Error("second Start() should fail while running")
	}

	mon.Stop()
	if mon.IsRunning() {
		t.Error("monitor should not be running after Stop")
	}

	// Stop again should not panic.
	mon.Stop()
}

func TestMonitor_GetHealthReturnsCopy(t *testing.T) {
	mon := NewMonitor(DefaultHealthConfig(), func() Phase { return PhaseDisabled })

	h := mon.GetHealth()
	h.State = HealthUnhealthy
	h.ConsecutiveFails = 42

	if got := mon.GetHealth(); got.State != HealthUnknown || got.ConsecutiveFails != 0 {
		t.Errorf("GetHealth() = %+v, internal state should be unaffected by mutation", got)
	}
}

func TestMonitor_FailuresEscalate(t *testing.T) {
	mon := NewMonitor(HealthConfig{
		CheckInterval:    20 * time.Millisecond,
		ProbeTimeout:     10 * time.Millisecond,
		FailureThreshold: 2,
		TestHosts:        []string{"192.0.2.1:53"},
	}, func() Phase { return PhaseConnected })

	var mu sync.Mutex
	var seen []HealthState
	mon.SetStateChangeCallback(func(from, to HealthState) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	})

	var failing atomic.Bool
	failing.Store(true)
	mon.dial = func(network, addr string, timeout time.Duration) (net.Conn, error) {
		if failing.Load() {
			return nil, errors.New("network is unreachable")
		}
		client, server := net.Pipe()
		server.Close()
		return client, nil
	}

	if err := mon.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer mon.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && mon.GetHealth().State != HealthUnhealthy {
		time.Sleep(10 * time.Millisecond)
	}

	h := mon.GetHealth()
	if h.State != HealthUnhealthy {
		t.Fatalf("health state = %v, want %v", h.State, HealthUnhealthy)
	}
	if h.ConsecutiveFails < 2 {
		t.Errorf("ConsecutiveFails = %d, want at least 2", h.ConsecutiveFails)
	}
	if h.LastError == "" {
		t.Error("LastError should be set after failed probes")
	}

	mu.Lock()
	sawUnhealthy := false
	for _, s := range seen {
		if s == HealthUnhealthy {
			sawUnhealthy = true
		}
	}
	mu.Unlock()
	if !sawUnhealthy {
		t.Error("state change callback never reported UNHEALTHY")
	}

	// Recovery: probes succeed again.
	failing.Store(false)

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && mon.GetHealth().State != HealthHealthy {
		time.Sleep(10 * time.Millisecond)
	}
	if got := mon.GetHealth(); got.State != HealthHealthy || got.ConsecutiveFails != 0 {
		t.Errorf("health after recovery = %+v, want HEALTHY with zero fails", got)
	}
}

func TestMonitor_IdleWhileNotConnected(t *testing.T) {
	mon := NewMonitor(HealthConfig{
		CheckInterval: 20 * time.Millisecond,
		TestHosts:     []string{"192.0.2.1:53"},
	}, func() Phase { return PhaseDisabled })

	mon.dial = func(network, addr string, timeout time.Duration) (net.Conn, error) {
		t.Error("monitor probed while the session was not connected")
		return nil, errors.New("unexpected dial")
	}

	if err := mon.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer mon.Stop()

	time.Sleep(100 * time.Millisecond)
	if got := mon.GetHealth().State; got != HealthUnknown {
		t.Errorf("health state = %v, want %v while not connected", got, HealthUnknown)
	}
}
