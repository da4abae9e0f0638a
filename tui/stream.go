// Package tui renders a live dashboard for the session daemon in the
// terminal. This file bridges the daemon's WebSocket event feed into
// Bubble Tea messages.
package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ikesession/ikesessiond/control"
)

// EventMsg is one frame from the daemon's event feed.
type EventMsg control.EventMessage

// DisconnectedMsg reports that the event feed ended. The model decides
// whether to retry.
type DisconnectedMsg struct {
	Err error
}

// Stream pumps daemon events into a channel so the model can consume
// them one command at a time.
type Stream struct {
	client *control.Client
	events chan control.EventMessage
	errs   chan error
}

// NewStream returns a stream over the given client. Nothing runs until
// Open.
func NewStream(client *control.Client) *Stream {
	return &Stream{
		client: client,
		events: make(chan control.EventMessage, 16),
		errs:   make(chan error, 1),
	}
}

// Open starts the event feed and returns a command that delivers the
// first frame. Frames after that come from Wait. Calling Open again
// after a DisconnectedMsg reconnects.
func (s *Stream) Open(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		// Drop frames left over from a previous connection. The new
		// feed opens with a fresh snapshot anyway.
		for len(s.events) > 0 {
			<-s.events
		}
		for len(s.errs) > 0 {
			<-s.errs
		}
		go s.pump(ctx)
		return s.next(ctx)
	}
}

// Wait returns a command that delivers the next frame, or a
// DisconnectedMsg when the feed ends.
func (s *Stream) Wait(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		return s.next(ctx)
	}
}

func (s *Stream) next(ctx context.Context) tea.Msg {
	select {
	case msg := <-s.events:
		return EventMsg(msg)
	case err := <-s.errs:
		return DisconnectedMsg{Err: err}
	case <-ctx.Done():
		return DisconnectedMsg{Err: ctx.Err()}
	}
}

func (s *Stream) pump(ctx context.Context) {
	err := s.client.Watch(ctx, func(msg control.EventMessage) {
		select {
		case s.events <- msg:
		case <-ctx.Done():
		}
	})
	select {
	case s.errs <- err:
	default:
	}
}
