// Package history persists the daemon's connection attempt journal.
// This file contains the recorder, which turns session phase events
// into journal writes.
package history

import (
	"context"
	"time"

	"github.com/ikesession/ikesessiond/common"
	"github.com/ikesession/ikesessiond/session"
)

// storeTimeout bounds each journal write. The recorder runs on the
// session event dispatcher, which must not be wedged by a slow disk.
const storeTimeout = 5 * time.Second

// Recorder journals connection attempts as session phase events arrive.
// Subscribe its Handle method to the session manager.
//
// The recorder tracks the single attempt the session can have open at
// a time: it opens a row when the session starts connecting and closes
// it on the return to disabled, whatever triggered that return.
type Recorder struct {
	store     *Store
	retention int

	open *openAttempt

	// test seams
	now   func() time.Time
	newID func() string
}

type openAttempt struct {
	id               string
	reachedConnected bool
}

// NewRecorder returns a recorder writing to store. After each closed
// attempt the journal is pruned to the newest retention rows; a
// retention of zero or less keeps everything.
func NewRecorder(store *Store, retention int) *Recorder {
	return &Recorder{
		store:     store,
		retention: retention,
		now:       time.Now,
		newID:     common.GenerateID,
	}
}

// Handle consumes one session phase event. Events arrive in order on a
// single dispatcher goroutine, so no locking is needed here.
func (r *Recorder) Handle(st session.State) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	switch st.Phase {
	case session.PhaseConnecting:
		r.open = &openAttempt{id: r.newID()}
		err := r.store.RecordStart(ctx, Attempt{
			ID:         r.open.id,
			Generation: st.Generation,
			Server:     st.Server,
			Identifier: st.Identifier,
			StartedAt:  r.now(),
		})
		if err != nil {
			common.LogWarn("history: record attempt start: %v", err)
		}

	case session.PhaseConnected:
		if r.open == nil {
			return
		}
		r.open.reachedConnected = true
		if err := r.store.MarkConnected(ctx, r.open.id, r.now()); err != nil {
			common.LogWarn("history: mark attempt connected: %v", err)
		}

	case session.PhaseDisabled:
		if r.open == nil {
			return
		}
		outcome, errText := classify(r.open.reachedConnected, st.Err)
		if err := r.store.RecordOutcome(ctx, r.open.id, outcome, errText, r.now()); err != nil {
			common.LogWarn("history: record attempt outcome: %v", err)
		}
		if err := r.store.Prune(ctx, r.retention); err != nil {
			common.LogWarn("history: prune journal: %v", err)
		}
		r.open = nil
	}
}

// classify derives the journal outcome from how the attempt ended. A
// session that reached connected and came down without an error was
// disconnected; one that never connected and carries no error was
// cancelled before completion; an error means the attempt failed.
func classify(reachedConnected bool, err error) (outcome, errText string) {
	if err != nil {
		return OutcomeFailed, err.Error()
	}
	if reachedConnected {
		return OutcomeDisconnected, ""
	}
	return OutcomeCancelled, ""
}
