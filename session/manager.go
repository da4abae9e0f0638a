// Package session implements the VPN session lifecycle state machine.
// This file contains the manager that owns the single session, sequences
// permission acquisition and engine start/stop, and arbitrates between
// overlapping requests.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ikesession/ikesessiond/common"
	"github.com/ikesession/ikesessiond/permission"
)

// Options tunes the timeouts the manager enforces on its collaborators.
// The engine itself never imposes deadlines; the manager does.
type Options struct {
	// ConnectTimeout bounds an entire connect attempt, from permission
	// prompt through engine negotiation.
	ConnectTimeout time.Duration
	// TeardownTimeout bounds how long disconnect waits for the engine to
	// confirm it is down before declaring the session disabled anyway.
	TeardownTimeout time.Duration
	// AbortTimeout bounds the best-effort engine abort issued by
	// ForceDisconnect. The abort is never awaited by the caller.
	AbortTimeout time.Duration
}

// DefaultOptions returns the timeouts used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:  common.ConnectTimeout,
		TeardownTimeout: common.TeardownTimeout,
		AbortTimeout:    common.AbortTimeout,
	}
}

// pendingConnect represents a caller blocked in Connect awaiting the
// attempt's resolution. err is written exactly once before done closes.
type pendingConnect struct {
	done chan struct{}
	err  error
}

// Manager owns the one VPN session of the process.
//
// All phase and generation mutations happen under a single mutex, so two
// near-simultaneous connects cannot both observe PhaseDisabled. The
// mutex is never held across a permission prompt or an engine
// operation; those run with the lock released and their completions are
// re-validated against the current generation and phase before they may
// touch the session. A completion that lost that race is discarded.
type Manager struct {
	mu   sync.Mutex
	opts Options

	engine Engine
	gate   permission.Gate
	feed   *Feed

	phase       Phase
	generation  uint64
	lastErr     error
	cfg         *Config
	pending     *pendingConnect
	abortFunc   context.CancelFunc
	connectedAt time.Time
	closed      bool

	now func() time.Time
}

// NewManager creates a manager in PhaseDisabled driving the given engine
// behind the given permission gate. Both collaborators are required.
func NewManager(engine Engine, gate permission.Gate, opts Options) *Manager {
	defs := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defs.ConnectTimeout
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = defs.TeardownTimeout
	}
	if opts.AbortTimeout <= 0 {
		opts.AbortTimeout = defs.AbortTimeout
	}

	return &Manager{
		opts:   opts,
		engine: engine,
		gate:   gate,
		feed:   NewFeed(),
		phase:  PhaseDisabled,
		now:    time.Now,
	}
}

// Connect starts a connection attempt with the given config and blocks
// until the session reaches PhaseConnected or falls back to
// PhaseDisabled. It is accepted only from PhaseDisabled; any other phase
// fails fast with a conflict error instead of queuing.
//
// Cancelling ctx abandons the wait but not the attempt: the session
// still resolves on its own and remains consistent. Only Disconnect,
// ForceDisconnect, or the connect timeout stop an accepted attempt.
func (m *Manager) Connect(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("session manager is closed")
	}
	switch m.phase {
	case PhaseConnected:
		m.mu.Unlock()
		return common.ErrAlreadyConnected
	case PhaseConnecting, PhaseDisconnecting:
		phase := m.phase
		m.mu.Unlock()
		return fmt.Errorf("%w: session phase is %s", common.ErrAlreadyInProgress, phase)
	}

	captured := cfg.clone()
	m.generation++
	gen := m.generation
	m.cfg = &captured
	pend := &pendingConnect{done: make(chan struct{})}
	m.pending = pend
	attemptCtx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout)
	m.abortFunc = cancel
	m.setPhaseLocked(PhaseConnecting, nil)
	m.mu.Unlock()

	common.LogInfo("session: connect accepted (generation %d, %s)", gen, captured)
	go m.runAttempt(attemptCtx, gen, captured)

	select {
	case <-pend.done:
		return pend.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runAttempt performs the suspended part of a connect attempt with the
// manager lock released.
func (m *Manager) runAttempt(ctx context.Context, gen uint64, cfg Config) {
	m.finishAttempt(gen, m.establish(ctx, cfg))
}

// establish acquires permission and brings the engine up. Every error it
// returns is already classified into the session error taxonomy.
func (m *Manager) establish(ctx context.Context, cfg Config) error {
	granted, err := m.gate.Check(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return common.ErrCancelled
		}
		return fmt.Errorf("%w: %v", common.ErrPermissionUnavailable, err)
	}
	if !granted {
		outcome, err := m.gate.Request(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return common.ErrCancelled
			}
			if errors.Is(err, common.ErrRequestInFlight) {
				return err
			}
			return fmt.Errorf("%w: %v", common.ErrPermissionUnavailable, err)
		}
		if outcome != permission.OutcomeGranted {
			return common.ErrPermissionDenied
		}
	}

	common.LogDebug("session: permission granted, starting %s engine", m.engine.Name())
	if err := m.runEngineStart(ctx, cfg); err != nil {
		switch ctx.Err() {
		case context.Canceled:
			return common.ErrCancelled
		case context.DeadlineExceeded:
			return fmt.Errorf("%w: engine did not come up within %v", common.ErrConnectionFailed, m.opts.ConnectTimeout)
		}
		if errors.Is(err, common.ErrConnectionFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", common.ErrConnectionFailed, err)
	}
	return nil
}

// finishAttempt applies an attempt's outcome to the session, unless the
// attempt has been superseded in the meantime. A completion is current
// only while its generation matches and the session is still
// PhaseConnecting; anything else is discarded.
func (m *Manager) finishAttempt(gen uint64, attemptErr error) {
	m.mu.Lock()
	if m.generation != gen || m.phase != PhaseConnecting {
		m.mu.Unlock()
		common.LogDebug("session: discarding completion for superseded attempt (generation %d)", gen)
		if attemptErr == nil {
			// The engine came up for an attempt nobody wants anymore.
			m.abortEngine()
		}
		return
	}

	if cancel := m.abortFunc; cancel != nil {
		m.abortFunc = nil
		defer cancel()
	}

	if attemptErr == nil {
		m.connectedAt = m.now()
		m.setPhaseLocked(PhaseConnected, nil)
		m.resolvePendingLocked(nil)
		m.mu.Unlock()
		common.LogInfo("session: connected (generation %d)", gen)
		return
	}

	m.setPhaseLocked(PhaseDisabled, attemptErr)
	m.resolvePendingLocked(attemptErr)
	m.clearSessionLocked()
	m.mu.Unlock()
	common.LogWarn("session: connect attempt failed (generation %d): %v", gen, attemptErr)
}

// Disconnect tears the session down and blocks until the engine confirms
// it is down or the teardown timeout elapses. The timeout is a recovery
// path, not a failure: the session still ends up PhaseDisabled and
// Disconnect returns nil. From PhaseDisabled it is an idempotent no-op
// that publishes nothing.
//
// Cancelling ctx abandons the wait only; teardown continues in the
// background and the session still reaches PhaseDisabled.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	switch m.phase {
	case PhaseDisabled:
		m.mu.Unlock()
		return nil

	case PhaseDisconnecting:
		m.mu.Unlock()
		return fmt.Errorf("%w: disconnect already in progress", common.ErrAlreadyInProgress)

	case PhaseConnecting:
		gen := m.generation
		cancel := m.abortFunc
		m.abortFunc = nil
		m.setPhaseLocked(PhaseDisconnecting, nil)
		m.resolvePendingLocked(common.ErrCancelled)
		m.mu.Unlock()

		common.LogInfo("session: disconnect cancelling in-flight attempt (generation %d)", gen)
		if cancel != nil {
			cancel()
		}
		return m.awaitTeardown(ctx)

	case PhaseConnected:
		m.setPhaseLocked(PhaseDisconnecting, nil)
		m.mu.Unlock()

		common.LogInfo("session: disconnecting")
		return m.awaitTeardown(ctx)
	}

	m.mu.Unlock()
	return nil
}

func (m *Manager) awaitTeardown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.teardown()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teardown stops the engine and completes the transition to
// PhaseDisabled, unless a force disconnect got there first.
func (m *Manager) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.TeardownTimeout)
	defer cancel()
	if err := m.runEngineStop(ctx); err != nil {
		common.LogWarn("session: %v, proceeding to disabled: %v", common.ErrDisconnectFailed, err)
	}

	m.mu.Lock()
	if m.phase == PhaseDisconnecting {
		m.setPhaseLocked(PhaseDisabled, nil)
		m.clearSessionLocked()
	}
	m.mu.Unlock()
}

// ForceDisconnect is the recovery path. It is valid from any phase,
// resolves a pending connect with a cancellation error, bumps the
// generation so in-flight completions are discarded, and has the session
// in PhaseDisabled before it returns. The engine abort it issues is
// bounded best-effort and deliberately not awaited.
func (m *Manager) ForceDisconnect() error {
	m.mu.Lock()
	prev := m.phase
	m.generation++
	if cancel := m.abortFunc; cancel != nil {
		m.abortFunc = nil
		defer cancel()
	}
	m.resolvePendingLocked(common.ErrCancelled)
	switch prev {
	case PhaseConnecting:
		m.setPhaseLocked(PhaseDisconnecting, nil)
		m.setPhaseLocked(PhaseDisabled, nil)
	case PhaseConnected, PhaseDisconnecting:
		m.setPhaseLocked(PhaseDisabled, nil)
	}
	m.clearSessionLocked()
	m.mu.Unlock()

	if prev != PhaseDisabled {
		common.LogInfo("session: force disconnect from %s", prev)
	}
	m.abortEngine()
	return nil
}

// abortEngine issues a bounded, fire-and-forget engine stop. Errors are
// logged and swallowed; a consistent disabled session matters more than
// teardown noise.
func (m *Manager) abortEngine() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.AbortTimeout)
		defer cancel()
		if err := m.runEngineStop(ctx); err != nil {
			common.LogWarn("session: best-effort engine abort: %v", err)
		}
	}()
}

// runEngineStart invokes engine.Start so that the manager can abandon an
// engine that ignores ctx. The spawned goroutine sends into a buffered
// channel and never leaks.
func (m *Manager) runEngineStart(ctx context.Context, cfg Config) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.engine.Start(ctx, cfg)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) runEngineStop(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.engine.Stop(ctx)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current session snapshot. It is never stale: the
// snapshot reflects every transition committed before the call.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := State{Phase: m.phase, Generation: m.generation, Err: m.lastErr}
	if m.cfg != nil {
		st.Server = m.cfg.Server
		st.Identifier = m.cfg.Identifier
	}
	return st
}

// Subscribe registers a callback for session state changes and returns
// the function that removes it.
func (m *Manager) Subscribe(fn Callback) (unsubscribe func()) {
	return m.feed.Subscribe(fn)
}

// ConnectedSince reports when the current connection was established.
// The second return value is false unless the session is connected.
func (m *Manager) ConnectedSince() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseConnected || m.connectedAt.IsZero() {
		return time.Time{}, false
	}
	return m.connectedAt, true
}

// EngineName identifies the engine driving this session.
func (m *Manager) EngineName() string {
	return m.engine.Name()
}

// DeviceName returns the virtual interface backing the tunnel, or ""
// when the session is not connected or the engine does not expose one.
func (m *Manager) DeviceName() string {
	m.mu.Lock()
	phase := m.phase
	m.mu.Unlock()
	if phase != PhaseConnected {
		return ""
	}
	if dn, ok := m.engine.(DeviceNamer); ok {
		return dn.DeviceName()
	}
	return ""
}

// Close force-disconnects any active session, refuses further connects,
// and stops the event feed after all queued events have been delivered.
// It must not be called from a subscriber callback.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	_ = m.ForceDisconnect()
	m.feed.Close()
	return nil
}

// setPhaseLocked commits a transition and publishes the resulting
// snapshot. Callers hold m.mu and only follow edges in the transition
// table; see CanTransition.
func (m *Manager) setPhaseLocked(to Phase, err error) {
	from := m.phase
	m.phase = to
	m.lastErr = err
	st := State{Phase: to, Generation: m.generation, Err: err}
	if m.cfg != nil {
		st.Server = m.cfg.Server
		st.Identifier = m.cfg.Identifier
	}
	m.feed.Publish(st)
	common.LogDebug("session: phase %s -> %s", from, to)
}

func (m *Manager) resolvePendingLocked(err error) {
	if m.pending == nil {
		return
	}
	m.pending.err = err
	close(m.pending.done)
	m.pending = nil
}

// clearSessionLocked destroys the per-attempt state once the session is
// back in PhaseDisabled. The captured PSK is wiped, not just dropped.
func (m *Manager) clearSessionLocked() {
	if m.cfg != nil {
		m.cfg.Zero()
		m.cfg = nil
	}
	m.connectedAt = time.Time{}
}
