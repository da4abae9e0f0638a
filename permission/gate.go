// Package permission decides whether the daemon may manage tunnels.
//
// The default gate asks polkit over the system bus and can trigger an
// interactive authentication prompt. A static gate exists for setups
// without polkit and for tests. Whatever the implementation, at most one
// interactive request may be in flight at a time; concurrent requests
// are rejected rather than double-prompting the user.
package permission

import (
	"context"
	"sync"

	"github.com/ikesession/ikesessiond/common"
)

// Outcome is the terminal result of an interactive permission request.
type Outcome int

const (
	// OutcomeDenied indicates the user declined or failed to authenticate
	OutcomeDenied Outcome = iota
	// OutcomeGranted indicates authorization was given
	OutcomeGranted
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeGranted:
		return "GRANTED"
	case OutcomeDenied:
		return "DENIED"
	default:
		return "UNKNOWN"
	}
}

// Gate answers whether tunnel management is authorized.
type Gate interface {
	// Check is a synchronous query with no side effect; it never prompts.
	Check(ctx context.Context) (bool, error)

	// Request may prompt the user and blocks until they answer or ctx
	// ends. A second Request while one is in flight fails with
	// common.ErrRequestInFlight.
	Request(ctx context.Context) (Outcome, error)
}

// requestGuard enforces the single-prompt rule for gate implementations
// that embed it.
type requestGuard struct {
	mu       sync.Mutex
	inFlight bool
}

func (g *requestGuard) begin() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight {
		return common.ErrRequestInFlight
	}
	g.inFlight = true
	return nil
}

func (g *requestGuard) end() {
	g.mu.Lock()
	g.inFlight = false
	g.mu.Unlock()
}
