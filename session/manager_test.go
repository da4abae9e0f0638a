package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ikesession/ikesessiond/common"
	"github.com/ikesession/ikesessiond/permission"
)

// fakeEngine is a scriptable Engine. A nil release channel makes Start
// complete after startDelay; a non-nil one holds Start until the test
// releases it.
type fakeEngine struct {
	mu           sync.Mutex
	startErr     error
	startDelay   time.Duration
	startRelease chan struct{}
	ignoreCtx    bool
	stopErr      error
	stopDelay    time.Duration
	started      int
	stopped      int
	running      bool
}

func (e *fakeEngine) Start(ctx context.Context, cfg Config) error {
	e.mu.Lock()
	e.started++
	release := e.startRelease
	delay := e.startDelay
	startErr := e.startErr
	ignoreCtx := e.ignoreCtx
	e.mu.Unlock()

	if release != nil {
		if ignoreCtx {
			<-release
		} else {
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	} else if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if startErr != nil {
		return startErr
	}

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	delay := e.stopDelay
	stopErr := e.stopErr
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.mu.Lock()
	e.running = false
	e.stopped++
	e.mu.Unlock()
	return stopErr
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) DeviceName() string { return "tun-fake" }

func (e *fakeEngine) stopCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// fakeGate is a scriptable permission.Gate.
type fakeGate struct {
	mu         sync.Mutex
	granted    bool
	checkErr   error
	outcome    permission.Outcome
	requestErr error
	requests   int
}

func (g *fakeGate) Check(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.granted, g.checkErr
}

func (g *fakeGate) Request(ctx context.Context) (permission.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests++
	return g.outcome, g.requestErr
}

func (g *fakeGate) requestCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests
}

func testConfig() Config {
	return Config{Server: "vpn.example.com", Identifier: "user@example.com", PSK: []byte("secret")}
}

func newTestManager(engine Engine, gate permission.Gate) *Manager {
	return NewManager(engine, gate, Options{
		ConnectTimeout:  2 * time.Second,
		TeardownTimeout: 500 * time.Millisecond,
		AbortTimeout:    200 * time.Millisecond,
	})
}

func waitForPhase(t *testing.T, m *Manager, want Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State().Phase == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached %v, phase is %v", want, m.State().Phase)
}

func waitForEvents(t *testing.T, c *collector, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.states)
		c.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("saw %v events, want at least %d", c.phases(), n)
}

func TestManager_ConnectHappyPath(t *testing.T) {
	engine := &fakeEngine{}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)
	c := &collector{}
	m.Subscribe(c.collect)

	if err := m.Connect(context.Background(), testConfig()); err != nil {
		t.Fatalf("Connect() error = %v, want nil", err)
	}

	// The resolved call implies the committed transition; no settling
	// time is allowed here.
	st := m.State()
	if st.Phase != PhaseConnected {
		t.Errorf("State().Phase = %v, want %v", st.Phase, PhaseConnected)
	}
	if st.Err != nil {
		t.Errorf("State().Err = %v, want nil", st.Err)
	}
	if st.Generation != 1 {
		t.Errorf("State().Generation = %v, want 1", st.Generation)
	}
	if st.Server != "vpn.example.com" || st.Identifier != "user@example.com" {
		t.Errorf("State() config echo = %q/%q, want vpn.example.com/user@example.com", st.Server, st.Identifier)
	}

	waitForEvents(t, c, 2)
	want := []Phase{PhaseConnecting, PhaseConnected}
	if got := c.phases(); !phasesEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	if m.DeviceName() != "tun-fake" {
		t.Errorf("DeviceName() = %q, want tun-fake", m.DeviceName())
	}
	if _, ok := m.ConnectedSince(); !ok {
		t.Error("ConnectedSince() should report a time while connected")
	}
}

func TestManager_ConnectInvalidConfig(t *testing.T) {
	engine := &fakeEngine{}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)
	c := &collector{}
	m.Subscribe(c.collect)

	err := m.Connect(context.Background(), Config{Server: "vpn.example.com"})
	if !errors.Is(err, common.ErrInvalidConfig) {
		t.Fatalf("Connect() error = %v, want ErrInvalidConfig", err)
	}

	st := m.State()
	if st.Phase != PhaseDisabled || st.Generation != 0 {
		t.Errorf("rejected connect changed state: phase %v generation %d", st.Phase, st.Generation)
	}

	time.Sleep(50 * time.Millisecond)
	if got := c.phases(); len(got) != 0 {
		t.Errorf("rejected connect published events: %v", got)
	}
}

func TestManager_ConnectPermissionDenied(t *testing.T) {
	engine := &fakeEngine{}
	gate := &fakeGate{granted: false, outcome: permission.OutcomeDenied}
	m := newTestManager(engine, gate)
	c := &collector{}
	m.Subscribe(c.collect)

	err := m.Connect(context.Background(), testConfig())
	if !errors.Is(err, common.ErrPermissionDenied) {
		t.Fatalf("Connect() error = %v, want ErrPermissionDenied", err)
	}

	if got := m.State().Phase; got != PhaseDisabled {
		t.Errorf("State().Phase = %v, want %v", got, PhaseDisabled)
	}
	if gate.requestCount() != 1 {
		t.Errorf("gate request count = %d, want 1", gate.requestCount())
	}

	waitForEvents(t, c, 2)
	want := []Phase{PhaseConnecting, PhaseDisabled}
	if got := c.phases(); !phasesEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	c.mu.Lock()
	last := c.states[len(c.states)-1]
	c.mu.Unlock()
	if !errors.Is(last.Err, common.ErrPermissionDenied) {
		t.Errorf("final event error = %v, want ErrPermissionDenied", last.Err)
	}
}

func TestManager_ConnectPermissionUnavailable(t *testing.T) {
	engine := &fakeEngine{}
	gate := &fakeGate{checkErr: errors.New("no session bus")}
	m := newTestManager(engine, gate)

	err := m.Connect(context.Background(), testConfig())
	if !errors.Is(err, common.ErrPermissionUnavailable) {
		t.Fatalf("Connect() error = %v, want ErrPermissionUnavailable", err)
	}
	if got := m.State().Phase; got != PhaseDisabled {
		t.Errorf("State().Phase = %v, want %v", got, PhaseDisabled)
	}
}

func TestManager_ConnectEngineFailure(t *testing.T) {
	engine := &fakeEngine{startErr: errors.New("handshake rejected")}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)
	c := &collector{}
	m.Subscribe(c.collect)

	err := m.Connect(context.Background(), testConfig())
	if !errors.Is(err, common.ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if !strings.Contains(err.Error(), "handshake rejected") {
		t.Errorf("Connect() error %q should carry the engine reason", err)
	}

	waitForEvents(t, c, 2)
	want := []Phase{PhaseConnecting, PhaseDisabled}
	if got := c.phases(); !phasesEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestManager_ConnectTimeout(t *testing.T) {
	engine := &fakeEngine{startRelease: make(chan struct{})}
	gate := &fakeGate{granted: true}
	m := NewManager(engine, gate, Options{
		ConnectTimeout:  100 * time.Millisecond,
		TeardownTimeout: 500 * time.Millisecond,
		AbortTimeout:    200 * time.Millisecond,
	})

	err := m.Connect(context.Background(), testConfig())
	if !errors.Is(err, common.ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if got := m.State().Phase; got != PhaseDisabled {
		t.Errorf("State().Phase = %v, want %v", got, PhaseDisabled)
	}
}

func TestManager_ConnectConflicts(t *testing.T) {
	release := make(chan struct{})
	engine := &fakeEngine{startRelease: release}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- m.Connect(context.Background(), testConfig())
	}()
	waitForPhase(t, m, PhaseConnecting)

	if err := m.Connect(context.Background(), testConfig()); !errors.Is(err, common.ErrAlreadyInProgress) {
		t.Errorf("Connect() while connecting error = %v, want ErrAlreadyInProgress", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first Connect() error = %v, want nil", err)
	}

	if err := m.Connect(context.Background(), testConfig()); !errors.Is(err, common.ErrAlreadyConnected) {
		t.Errorf("Connect() while connected error = %v, want ErrAlreadyConnected", err)
	}
}

func TestManager_ConcurrentConnectsOneWins(t *testing.T) {
	release := make(chan struct{})
	engine := &fakeEngine{startRelease: release}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- m.Connect(context.Background(), testConfig())
		}()
	}

	// The winner is parked on the engine, so the first result to land
	// has to be the loser's rejection.
	if err := <-results; !errors.Is(err, common.ErrAlreadyInProgress) {
		t.Fatalf("losing Connect() error = %v, want ErrAlreadyInProgress", err)
	}

	close(release)
	if err := <-results; err != nil {
		t.Errorf("winning Connect() error = %v, want nil", err)
	}

	if got := m.State().Generation; got != 1 {
		t.Errorf("State().Generation = %d, want 1 (one accepted attempt)", got)
	}
}

func TestManager_DisconnectIdempotentFromDisabled(t *testing.T) {
	engine := &fakeEngine{}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)
	c := &collector{}
	m.Subscribe(c.collect)

	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() from disabled error = %v, want nil", err)
	}

	st := m.State()
	if st.Phase != PhaseDisabled || st.Generation != 0 {
		t.Errorf("idempotent disconnect changed state: phase %v generation %d", st.Phase, st.Generation)
	}

	time.Sleep(50 * time.Millisecond)
	if got := c.phases(); len(got) != 0 {
		t.Errorf("idempotent disconnect published events: %v", got)
	}
}

func TestManager_DisconnectFromConnected(t *testing.T) {
	engine := &fakeEngine{stopDelay: 100 * time.Millisecond}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)
	c := &collector{}
	m.Subscribe(c.collect)

	if err := m.Connect(context.Background(), testConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v, want nil", err)
	}

	st := m.State()
	if st.Phase != PhaseDisabled {
		t.Errorf("State().Phase = %v, want %v", st.Phase, PhaseDisabled)
	}
	if st.Server != "" {
		t.Errorf("State().Server = %q, want empty after session ended", st.Server)
	}
	if engine.stopCount() != 1 {
		t.Errorf("engine stop count = %d, want 1", engine.stopCount())
	}

	waitForEvents(t, c, 4)
	want := []Phase{PhaseConnecting, PhaseConnected, PhaseDisconnecting, PhaseDisabled}
	if got := c.phases(); !phasesEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestManager_DisconnectTeardownTimeoutRecovers(t *testing.T) {
	engine := &fakeEngine{stopDelay: 5 * time.Second}
	gate := &fakeGate{granted: true}
	m := NewManager(engine, gate, Options{
		ConnectTimeout:  2 * time.Second,
		TeardownTimeout: 100 * time.Millisecond,
		AbortTimeout:    100 * time.Millisecond,
	})

	if err := m.Connect(context.Background(), testConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	start := time.Now()
	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v, want nil even on teardown timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Disconnect() took %v, should give up at the teardown timeout", elapsed)
	}

	if got := m.State().Phase; got != PhaseDisabled {
		t.Errorf("State().Phase = %v, want %v after timed-out teardown", got, PhaseDisabled)
	}
}

func TestManager_DisconnectCancelsInFlightAttempt(t *testing.T) {
	release := make(chan struct{})
	engine := &fakeEngine{startRelease: release}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)
	c := &collector{}
	m.Subscribe(c.collect)

	connectDone := make(chan error, 1)
	go func() {
		connectDone <- m.Connect(context.Background(), testConfig())
	}()
	waitForPhase(t, m, PhaseConnecting)

	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v, want nil", err)
	}
	if err := <-connectDone; !errors.Is(err, common.ErrCancelled) {
		t.Errorf("cancelled Connect() error = %v, want ErrCancelled", err)
	}

	waitForEvents(t, c, 3)
	want := []Phase{PhaseConnecting, PhaseDisconnecting, PhaseDisabled}
	if got := c.phases(); !phasesEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	if got := m.State().Generation; got != 1 {
		t.Errorf("State().Generation = %d, want 1 (plain disconnect does not bump)", got)
	}
}

func TestManager_ForceDisconnectDuringConnecting(t *testing.T) {
	release := make(chan struct{})
	engine := &fakeEngine{startRelease: release}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)
	c := &collector{}
	m.Subscribe(c.collect)

	connectDone := make(chan error, 1)
	go func() {
		connectDone <- m.Connect(context.Background(), testConfig())
	}()
	waitForPhase(t, m, PhaseConnecting)

	if err := m.ForceDisconnect(); err != nil {
		t.Fatalf("ForceDisconnect() error = %v, want nil", err)
	}

	// Disabled must hold the moment the call returns.
	st := m.State()
	if st.Phase != PhaseDisabled {
		t.Fatalf("State().Phase = %v immediately after ForceDisconnect(), want %v", st.Phase, PhaseDisabled)
	}
	if st.Generation != 2 {
		t.Errorf("State().Generation = %d, want 2 (bumped by force)", st.Generation)
	}

	if err := <-connectDone; !errors.Is(err, common.ErrCancelled) {
		t.Errorf("cancelled Connect() error = %v, want ErrCancelled", err)
	}

	// A late engine response belongs to the superseded attempt and
	// must not resurrect the session.
	close(release)
	time.Sleep(100 * time.Millisecond)
	if got := m.State().Phase; got != PhaseDisabled {
		t.Errorf("State().Phase = %v after late engine response, want %v", got, PhaseDisabled)
	}

	waitForEvents(t, c, 3)
	want := []Phase{PhaseConnecting, PhaseDisconnecting, PhaseDisabled}
	if got := c.phases(); !phasesEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestManager_ForceDisconnectFromConnected(t *testing.T) {
	engine := &fakeEngine{}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)
	c := &collector{}
	m.Subscribe(c.collect)

	if err := m.Connect(context.Background(), testConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.ForceDisconnect(); err != nil {
		t.Fatalf("ForceDisconnect() error = %v, want nil", err)
	}

	if got := m.State().Phase; got != PhaseDisabled {
		t.Errorf("State().Phase = %v, want %v", got, PhaseDisabled)
	}

	waitForEvents(t, c, 3)
	want := []Phase{PhaseConnecting, PhaseConnected, PhaseDisabled}
	if got := c.phases(); !phasesEqual(got, want) {
		t.Errorf("events = %v, want %v (force bypasses teardown wait)", got, want)
	}

	// The abort is fire-and-forget but must reach the engine.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && engine.stopCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if engine.stopCount() == 0 {
		t.Error("force disconnect never aborted the engine")
	}
}

func TestManager_ForceDisconnectWhileDisabled(t *testing.T) {
	engine := &fakeEngine{}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)
	c := &collector{}
	m.Subscribe(c.collect)

	if err := m.ForceDisconnect(); err != nil {
		t.Fatalf("ForceDisconnect() error = %v, want nil", err)
	}

	st := m.State()
	if st.Phase != PhaseDisabled {
		t.Errorf("State().Phase = %v, want %v", st.Phase, PhaseDisabled)
	}
	if st.Generation != 1 {
		t.Errorf("State().Generation = %d, want 1 (force always bumps)", st.Generation)
	}

	time.Sleep(50 * time.Millisecond)
	if got := c.phases(); len(got) != 0 {
		t.Errorf("force disconnect while disabled published events: %v", got)
	}
}

func TestManager_LateEngineSuccessAborted(t *testing.T) {
	release := make(chan struct{})
	engine := &fakeEngine{startRelease: release, ignoreCtx: true}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)

	go func() {
		_ = m.Connect(context.Background(), testConfig())
	}()
	waitForPhase(t, m, PhaseConnecting)

	if err := m.ForceDisconnect(); err != nil {
		t.Fatalf("ForceDisconnect() error = %v", err)
	}

	// The engine ignores cancellation and comes up anyway; the stale
	// success must be discarded and the engine shut back down.
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		engine.mu.Lock()
		running := engine.running
		engine.mu.Unlock()
		if !running && engine.stopCount() > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	engine.mu.Lock()
	running := engine.running
	engine.mu.Unlock()
	if running {
		t.Error("engine still running after its stale success was discarded")
	}
	if got := m.State().Phase; got != PhaseDisabled {
		t.Errorf("State().Phase = %v, want %v", got, PhaseDisabled)
	}
}

func TestManager_CallerAbandonmentDoesNotCancelAttempt(t *testing.T) {
	release := make(chan struct{})
	engine := &fakeEngine{startRelease: release}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)

	ctx, cancel := context.WithCancel(context.Background())
	connectDone := make(chan error, 1)
	go func() {
		connectDone <- m.Connect(ctx, testConfig())
	}()
	waitForPhase(t, m, PhaseConnecting)
	cancel()

	if err := <-connectDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("abandoned Connect() error = %v, want context.Canceled", err)
	}

	// The attempt itself keeps going and still lands in Connected.
	close(release)
	waitForPhase(t, m, PhaseConnected)
}

func TestManager_ReconnectAfterDisconnect(t *testing.T) {
	engine := &fakeEngine{}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)

	if err := m.Connect(context.Background(), testConfig()); err != nil {
		t.Fatalf("first Connect() error = %v", err)
	}
	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := m.Connect(context.Background(), testConfig()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}

	st := m.State()
	if st.Phase != PhaseConnected {
		t.Errorf("State().Phase = %v, want %v", st.Phase, PhaseConnected)
	}
	if st.Generation != 2 {
		t.Errorf("State().Generation = %d, want 2", st.Generation)
	}
}

func TestManager_LateSubscriberConsistentWithState(t *testing.T) {
	engine := &fakeEngine{}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)

	if err := m.Connect(context.Background(), testConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	late := &collector{}
	m.Subscribe(late.collect)

	if got := m.State().Phase; got != PhaseConnected {
		t.Errorf("State().Phase = %v, want %v", got, PhaseConnected)
	}

	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	waitForEvents(t, late, 2)
	want := []Phase{PhaseDisconnecting, PhaseDisabled}
	if got := late.phases(); !phasesEqual(got, want) {
		t.Errorf("late subscriber events = %v, want %v", got, want)
	}
}

func TestManager_TransitionsFollowTable(t *testing.T) {
	engine := &fakeEngine{}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)
	c := &collector{}
	m.Subscribe(c.collect)

	// Exercise a connect/disconnect cycle, a denied attempt, a failed
	// attempt, and a force disconnect.
	_ = m.Connect(context.Background(), testConfig())
	_ = m.Disconnect(context.Background())

	gate.mu.Lock()
	gate.granted = false
	gate.outcome = permission.OutcomeDenied
	gate.mu.Unlock()
	_ = m.Connect(context.Background(), testConfig())

	gate.mu.Lock()
	gate.granted = true
	gate.mu.Unlock()
	engine.mu.Lock()
	engine.startErr = errors.New("negotiation failed")
	engine.mu.Unlock()
	_ = m.Connect(context.Background(), testConfig())

	engine.mu.Lock()
	engine.startErr = nil
	engine.mu.Unlock()
	_ = m.Connect(context.Background(), testConfig())
	_ = m.ForceDisconnect()

	m.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	prev := PhaseDisabled
	for i, st := range c.states {
		if !CanTransition(prev, st.Phase) {
			t.Errorf("event %d: illegal transition %v -> %v", i, prev, st.Phase)
		}
		prev = st.Phase
	}
}

func TestManager_CloseRefusesConnect(t *testing.T) {
	engine := &fakeEngine{}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := m.Connect(context.Background(), testConfig()); err == nil {
		t.Error("Connect() after Close() should fail")
	}
}

func TestManager_ConnectedSinceUsesClock(t *testing.T) {
	engine := &fakeEngine{}
	gate := &fakeGate{granted: true}
	m := newTestManager(engine, gate)

	fixed := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	if err := m.Connect(context.Background(), testConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	since, ok := m.ConnectedSince()
	if !ok {
		t.Fatal("ConnectedSince() should report a time while connected")
	}
	if !since.Equal(fixed) {
		t.Errorf("ConnectedSince() = %v, want %v", since, fixed)
	}

	if err := m.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if _, ok := m.ConnectedSince(); ok {
		t.Error("ConnectedSince() should report nothing after disconnect")
	}
}
