package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ikesession/ikesessiond/common"
	"github.com/ikesession/ikesessiond/session"
)

// newTestRecorder returns a recorder with a stepping clock so journal
// rows order deterministically.
func newTestRecorder(t *testing.T, retention int) (*Recorder, *Store) {
	t.Helper()
	store := openTestStore(t)
	rec := NewRecorder(store, retention)

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	step := 0
	rec.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}
	seq := 0
	rec.newID = func() string {
		seq++
		return fmt.Sprintf("attempt-%d", seq)
	}
	return rec, store
}

func latestAttempt(t *testing.T, store *Store) Attempt {
	t.Helper()
	attempts, err := store.List(context.Background(), 1)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(attempts) == 0 {
		t.Fatal("journal is empty")
	}
	return attempts[0]
}

func TestRecorderJournalsDisconnect(t *testing.T) {
	rec, store := newTestRecorder(t, 0)

	rec.Handle(session.State{Phase: session.PhaseConnecting, Generation: 1, Server: "vpn.example.com", Identifier: "user@example.com"})
	rec.Handle(session.State{Phase: session.PhaseConnected, Generation: 1, Server: "vpn.example.com", Identifier: "user@example.com"})
	rec.Handle(session.State{Phase: session.PhaseDisconnecting, Generation: 1, Server: "vpn.example.com", Identifier: "user@example.com"})
	rec.Handle(session.State{Phase: session.PhaseDisabled, Generation: 1})

	a := latestAttempt(t, store)
	if a.Outcome != OutcomeDisconnected {
		t.Errorf("Outcome = %q, want %q", a.Outcome, OutcomeDisconnected)
	}
	if a.Server != "vpn.example.com" || a.Identifier != "user@example.com" {
		t.Errorf("endpoint = %q/%q, want the connecting event's values", a.Server, a.Identifier)
	}
	if a.ConnectedAt == nil {
		t.Error("ConnectedAt not stamped")
	}
	if a.EndedAt == nil {
		t.Error("EndedAt not stamped")
	}
	if a.Error != "" {
		t.Errorf("Error = %q, want empty", a.Error)
	}
}

func TestRecorderJournalsFailure(t *testing.T) {
	rec, store := newTestRecorder(t, 0)

	rec.Handle(session.State{Phase: session.PhaseConnecting, Generation: 1, Server: "vpn.example.com"})
	rec.Handle(session.State{
		Phase:      session.PhaseDisabled,
		Generation: 1,
		Err:        fmt.Errorf("%w: gateway unreachable", common.ErrConnectionFailed),
	})

	a := latestAttempt(t, store)
	if a.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %q, want %q", a.Outcome, OutcomeFailed)
	}
	if a.Error == "" {
		t.Error("failed attempt should record the error text")
	}
	if a.ConnectedAt != nil {
		t.Error("never-connected attempt should have no ConnectedAt")
	}
}

func TestRecorderJournalsCancellation(t *testing.T) {
	rec, store := newTestRecorder(t, 0)

	// A force disconnect bumps the generation before the final disabled
	// event, so the closing event does not match the opening one.
	rec.Handle(session.State{Phase: session.PhaseConnecting, Generation: 1, Server: "vpn.example.com"})
	rec.Handle(session.State{Phase: session.PhaseDisconnecting, Generation: 2})
	rec.Handle(session.State{Phase: session.PhaseDisabled, Generation: 2})

	a := latestAttempt(t, store)
	if a.Outcome != OutcomeCancelled {
		t.Errorf("Outcome = %q, want %q", a.Outcome, OutcomeCancelled)
	}
	if a.Generation != 1 {
		t.Errorf("Generation = %d, want the opening event's 1", a.Generation)
	}
	if a.EndedAt == nil {
		t.Error("cancelled attempt should still be closed")
	}
}

func TestRecorderIgnoresIdleDisable(t *testing.T) {
	rec, store := newTestRecorder(t, 0)

	rec.Handle(session.State{Phase: session.PhaseDisabled})

	attempts, err := store.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(attempts) != 0 {
		t.Errorf("idle disable wrote %d rows, want 0", len(attempts))
	}
}

func TestRecorderPrunesJournal(t *testing.T) {
	rec, store := newTestRecorder(t, 2)

	for gen := uint64(1); gen <= 3; gen++ {
		rec.Handle(session.State{Phase: session.PhaseConnecting, Generation: gen, Server: "vpn.example.com"})
		rec.Handle(session.State{Phase: session.PhaseDisabled, Generation: gen})
	}

	attempts, err := store.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("journal has %d attempts, want retention of 2", len(attempts))
	}
	if attempts[0].Generation != 3 || attempts[1].Generation != 2 {
		t.Errorf("retained generations [%d %d], want the newest [3 2]",
			attempts[0].Generation, attempts[1].Generation)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name             string
		reachedConnected bool
		err              error
		wantOutcome      string
		wantErrText      bool
	}{
		{"clean disconnect", true, nil, OutcomeDisconnected, false},
		{"cancelled before up", false, nil, OutcomeCancelled, false},
		{"failed attempt", false, common.ErrConnectionFailed, OutcomeFailed, true},
		{"failure after connect", true, common.ErrConnectionFailed, OutcomeFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, errText := classify(tt.reachedConnected, tt.err)
			if outcome != tt.wantOutcome {
				t.Errorf("classify() outcome = %q, want %q", outcome, tt.wantOutcome)
			}
			if (errText != "") != tt.wantErrText {
				t.Errorf("classify() errText = %q, wantErrText = %v", errText, tt.wantErrText)
			}
		})
	}
}
