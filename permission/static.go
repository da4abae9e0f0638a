// Package permission decides whether the daemon may manage tunnels.
// This file contains the static gate used when polkit is unavailable or
// deliberately bypassed.
package permission

import (
	"context"
	"fmt"
	"sync"

	"github.com/ikesession/ikesessiond/common"
)

// StaticGate answers every query from a fixed policy without prompting.
type StaticGate struct {
	requestGuard
	mu      sync.Mutex
	granted bool
}

// NewStaticGate returns a gate with the given fixed answer.
func NewStaticGate(granted bool) *StaticGate {
	return &StaticGate{granted: granted}
}

// Check reports the configured policy.
func (s *StaticGate) Check(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.granted, nil
}

// Request resolves immediately against the configured policy.
func (s *StaticGate) Request(ctx context.Context) (Outcome, error) {
	if err := s.begin(); err != nil {
		return OutcomeDenied, err
	}
	defer s.end()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.granted {
		return OutcomeGranted, nil
	}
	return OutcomeDenied, nil
}

// SetGranted changes the policy at runtime.
func (s *StaticGate) SetGranted(granted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted = granted
}

// UnavailableGate stands in when the configured backend could not be
// reached. Every query fails with common.ErrPermissionUnavailable
// instead of answering yes or no.
type UnavailableGate struct {
	requestGuard
	reason error
}

// NewUnavailableGate records why the real backend is out of reach.
func NewUnavailableGate(reason error) *UnavailableGate {
	return &UnavailableGate{reason: reason}
}

// Check fails with the recorded reason.
func (u *UnavailableGate) Check(ctx context.Context) (bool, error) {
	return false, fmt.Errorf("%w: %v", common.ErrPermissionUnavailable, u.reason)
}

// Request fails with the recorded reason without prompting.
func (u *UnavailableGate) Request(ctx context.Context) (Outcome, error) {
	if err := u.begin(); err != nil {
		return OutcomeDenied, err
	}
	defer u.end()
	return OutcomeDenied, fmt.Errorf("%w: %v", common.ErrPermissionUnavailable, u.reason)
}
