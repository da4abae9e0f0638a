// Package session implements the VPN session lifecycle state machine.
// This file contains the session phase enum, the legal transition table,
// and the state snapshot published to observers.
package session

import (
	"encoding/json"
	"fmt"
)

// Phase represents the lifecycle phase of the VPN session.
type Phase int

const (
	// PhaseDisabled indicates no session activity (initial and rest state)
	PhaseDisabled Phase = iota
	// PhaseConnecting indicates a connection attempt is in flight
	PhaseConnecting
	// PhaseConnected indicates the tunnel is established
	PhaseConnected
	// PhaseDisconnecting indicates teardown is in progress
	PhaseDisconnecting
)

var phaseNames = map[Phase]string{
	PhaseDisabled:      "DISABLED",
	PhaseConnecting:    "CONNECTING",
	PhaseConnected:     "CONNECTED",
	PhaseDisconnecting: "DISCONNECTING",
}

var phaseValues = map[string]Phase{
	"DISABLED":      PhaseDisabled,
	"CONNECTING":    PhaseConnecting,
	"CONNECTED":     PhaseConnected,
	"DISCONNECTING": PhaseDisconnecting,
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalJSON implements json.Marshaler.
func (p Phase) MarshalJSON() ([]byte, error) {
	name, ok := phaseNames[p]
	if !ok {
		return nil, fmt.Errorf("unknown session phase: %d", int(p))
	}
	return json.Marshal(name)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	value, ok := phaseValues[name]
	if !ok {
		return fmt.Errorf("unknown session phase: %q", name)
	}
	*p = value
	return nil
}

// CanTransition reports whether moving from one phase to another follows
// a legal lifecycle edge. Connect acceptance is the only way out of
// PhaseDisabled; every other phase eventually funnels back into it.
func CanTransition(from, to Phase) bool {
	switch from {
	case PhaseDisabled:
		return to == PhaseConnecting
	case PhaseConnecting:
		return to == PhaseConnected || to == PhaseDisconnecting || to == PhaseDisabled
	case PhaseConnected:
		return to == PhaseDisconnecting || to == PhaseDisabled
	case PhaseDisconnecting:
		return to == PhaseDisabled
	default:
		return false
	}
}

// State is a point-in-time snapshot of the session. It is the payload of
// every event published to subscribers and the result of Manager.State.
//
// Server and Identifier are populated while an attempt is active,
// including on the final event that returns the session to
// PhaseDisabled. The pre-shared key is never part of a snapshot.
type State struct {
	Phase      Phase
	Generation uint64
	Server     string
	Identifier string
	Err        error
}
