// Package session implements the VPN session lifecycle: a state machine
// that owns the connect/disconnect/force-disconnect protocol for the one
// IKEv2 session of the process.
//
// # Lifecycle
//
// A session is always in exactly one of four phases: DISABLED,
// CONNECTING, CONNECTED, or DISCONNECTING. Connect is accepted only from
// DISABLED and resolves end-to-end: the call returns once the session is
// CONNECTED or has fallen back to DISABLED with a classified error.
// Conflicting connects fail fast instead of queuing. Disconnect drives
// an orderly teardown and treats a teardown timeout as recovery rather
// than failure. ForceDisconnect is the escape hatch: valid from any
// phase, it cancels whatever is in flight and has the session DISABLED
// before it returns.
//
// Every accepted connect bumps a monotonically increasing generation
// counter. Completions arriving from the permission gate or the tunnel
// engine carry the generation they were initiated under; a completion
// whose generation no longer matches belongs to a superseded attempt and
// is discarded.
//
// # Collaborators
//
// The manager drives two collaborators it does not implement: a
// permission gate (see the permission package) asked before every
// attempt, and a tunnel Engine that negotiates and maintains the actual
// tunnel. Both may suspend for seconds; the manager never holds its
// lock across either, and it enforces every timeout itself.
//
// # Events
//
// State transitions are published on a Feed. Subscribers observe
// transitions in the exact order they occurred, none skipped or
// coalesced, and one subscriber's panic never starves the rest.
// Manager.State is always current the moment a transition commits.
//
// # Usage
//
//	mgr := session.NewManager(engine, gate, session.DefaultOptions())
//	defer mgr.Close()
//
//	unsubscribe := mgr.Subscribe(func(st session.State) {
//		log.Printf("phase: %s", st.Phase)
//	})
//	defer unsubscribe()
//
//	err := mgr.Connect(ctx, session.Config{
//		Server:     "vpn.example.com",
//		Identifier: "user@example.com",
//		PSK:        psk,
//	})
package session
