// Package permission decides whether the daemon may manage tunnels.
// This file contains the polkit-backed gate.
package permission

import (
	"context"
	"os"

	"github.com/godbus/dbus/v5"

	"github.com/ikesession/ikesessiond/common"
)

const (
	polkitDest      = "org.freedesktop.PolicyKit1"
	polkitPath      = dbus.ObjectPath("/org/freedesktop/PolicyKit1/Authority")
	polkitInterface = "org.freedesktop.PolicyKit1.Authority"

	// CheckAuthorization flag asking polkit to open an interactive
	// authentication dialog when needed.
	flagAllowUserInteraction uint32 = 1
)

// polkitSubject is the (sa{sv}) subject argument of CheckAuthorization.
type polkitSubject struct {
	Kind    string
	Details map[string]dbus.Variant
}

// polkitProcessSubject describes the calling process to polkit. A zero
// start-time lets polkit resolve it from /proc itself.
func polkitProcessSubject() polkitSubject {
	return polkitSubject{
		Kind: "unix-process",
		Details: map[string]dbus.Variant{
			"pid":        dbus.MakeVariant(uint32(os.Getpid())),
			"start-time": dbus.MakeVariant(uint64(0)),
		},
	}
}

// authorizationResult is the (bba{ss}) reply of CheckAuthorization.
type authorizationResult struct {
	IsAuthorized bool
	IsChallenge  bool
	Details      map[string]string
}

// PolkitGate asks the polkit authority on the system bus whether this
// process may manage tunnels.
type PolkitGate struct {
	requestGuard
	actionID string
	conn     *dbus.Conn
}

// NewPolkitGate connects to the system bus and returns a gate for the
// given polkit action. An empty actionID selects the daemon's default
// action.
func NewPolkitGate(actionID string) (*PolkitGate, error) {
	if actionID == "" {
		actionID = common.PolkitActionID
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, common.WrapError(err, "connect to system bus")
	}
	return &PolkitGate{actionID: actionID, conn: conn}, nil
}

// Close releases the bus connection.
func (p *PolkitGate) Close() error {
	return p.conn.Close()
}

// Check queries the authority without allowing interaction.
func (p *PolkitGate) Check(ctx context.Context) (bool, error) {
	res, err := p.checkAuthorization(ctx, 0, "")
	if err != nil {
		return false, err
	}
	return res.IsAuthorized, nil
}

// Request asks the authority with interaction allowed, which may open an
// authentication prompt on the user's session. Cancelling ctx cancels
// the pending prompt through the authority as well.
func (p *PolkitGate) Request(ctx context.Context) (Outcome, error) {
	if err := p.begin(); err != nil {
		return OutcomeDenied, err
	}
	defer p.end()

	cancelID := common.GenerateID()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.cancelCheck(cancelID)
		case <-done:
		}
	}()

	common.LogDebug("permission: requesting authorization for %s", p.actionID)
	res, err := p.checkAuthorization(ctx, flagAllowUserInteraction, cancelID)
	if err != nil {
		return OutcomeDenied, err
	}
	if res.IsAuthorized {
		return OutcomeGranted, nil
	}
	return OutcomeDenied, nil
}

func (p *PolkitGate) checkAuthorization(ctx context.Context, flags uint32, cancelID string) (authorizationResult, error) {
	var res authorizationResult
	obj := p.conn.Object(polkitDest, polkitPath)
	call := obj.CallWithContext(ctx, polkitInterface+".CheckAuthorization", 0,
		polkitProcessSubject(), p.actionID, map[string]string{}, flags, cancelID)
	if call.Err != nil {
		return res, common.WrapError(call.Err, "polkit CheckAuthorization")
	}
	if err := call.Store(&res); err != nil {
		return res, common.WrapError(err, "decode polkit reply")
	}
	return res, nil
}

// cancelCheck withdraws a pending interactive check so the user is not
// left with an orphaned prompt.
func (p *PolkitGate) cancelCheck(cancelID string) {
	obj := p.conn.Object(polkitDest, polkitPath)
	if call := obj.Call(polkitInterface+".CancelCheckAuthorization", 0, cancelID); call.Err != nil {
		common.LogWarn("permission: cancel authorization check: %v", call.Err)
	}
}
