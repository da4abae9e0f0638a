// Package tui renders a live dashboard for the session daemon in the
// terminal. This file contains the Bubble Tea model: state, messages,
// and the update loop.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ikesession/ikesessiond/control"
	"github.com/ikesession/ikesessiond/keyring"
)

// historyRows is how many recent attempts the dashboard shows.
const historyRows = 8

// reconnectDelay is how long to wait before redialing a lost event feed.
const reconnectDelay = 2 * time.Second

// gateway identifies the peer the dashboard would connect to. It is
// inferred from the daemon's state, falling back to the newest journal
// entry.
type gateway struct {
	Server     string
	Identifier string
}

// statusMsg carries the result of a status refresh.
type statusMsg struct {
	resp control.StatusResponse
	err  error
}

// historyMsg carries the result of a journal refresh.
type historyMsg struct {
	attempts []control.Attempt
	err      error
}

// actionMsg reports a finished connect, disconnect, or reset.
type actionMsg struct {
	verb string
	err  error
}

// reconnectMsg fires when the feed retry timer elapses.
type reconnectMsg struct{}

// Model is the dashboard. It mirrors the daemon's state and issues
// commands over the control API.
type Model struct {
	client *control.Client
	stream *Stream
	ctx    context.Context
	cancel context.CancelFunc

	keys    KeyMap
	spinner spinner.Model
	width   int
	height  int

	state      control.StateView
	status     control.StatusResponse
	haveStatus bool
	attempts   []control.Attempt
	gw         gateway

	feedLive bool
	busy     bool
	notice   string
}

// New builds a dashboard model for the daemon at addr.
func New(addr, token string) Model {
	ctx, cancel := context.WithCancel(context.Background())
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ColorConnecting)

	client := control.NewClient(addr, token)
	return Model{
		client:  client,
		stream:  NewStream(client),
		ctx:     ctx,
		cancel:  cancel,
		keys:    DefaultKeyMap(),
		spinner: sp,
	}
}

// Run starts the dashboard and blocks until the user quits.
func Run(addr, token string) error {
	m := New(addr, token)
	defer m.cancel()
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// Init opens the event feed and requests the first snapshot.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.stream.Open(m.ctx),
		m.refreshStatus(),
		m.refreshHistory(),
		m.spinner.Tick,
	)
}

// Update advances the model for one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case EventMsg:
		m.feedLive = true
		m.state = msg.State
		if msg.State.Server != "" {
			m.gw = gateway{Server: msg.State.Server, Identifier: msg.State.Identifier}
		}
		// Settled phases also move uptime, health, and the journal.
		cmds := []tea.Cmd{m.stream.Wait(m.ctx)}
		if msg.Type == control.MsgState && (msg.State.Phase == "CONNECTED" || msg.State.Phase == "DISABLED") {
			cmds = append(cmds, m.refreshStatus(), m.refreshHistory())
		}
		return m, tea.Batch(cmds...)

	case DisconnectedMsg:
		m.feedLive = false
		if m.ctx.Err() != nil {
			return m, nil
		}
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, tea.Batch(m.stream.Open(m.ctx), m.refreshStatus())

	case statusMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
			return m, nil
		}
		m.status = msg.resp
		m.haveStatus = true
		m.state = msg.resp.State
		if msg.resp.State.Server != "" {
			m.gw = gateway{Server: msg.resp.State.Server, Identifier: msg.resp.State.Identifier}
		}
		return m, nil

	case historyMsg:
		if msg.err != nil {
			return m, nil
		}
		m.attempts = msg.attempts
		if m.gw.Server == "" && len(msg.attempts) > 0 {
			m.gw = gateway{Server: msg.attempts[0].Server, Identifier: msg.attempts[0].Identifier}
		}
		return m, nil

	case actionMsg:
		m.busy = false
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s: %v", msg.verb, msg.err)
		} else {
			m.notice = ""
		}
		return m, tea.Batch(m.refreshStatus(), m.refreshHistory())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Connect):
		if m.busy {
			return m, nil
		}
		if m.gw.Server == "" {
			m.notice = "no gateway on record; run: ikesession connect <server> --save-psk"
			return m, nil
		}
		m.busy = true
		m.notice = ""
		return m, m.connectCmd()

	case key.Matches(msg, m.keys.Disconnect):
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.notice = ""
		return m, m.disconnectCmd()

	case key.Matches(msg, m.keys.Force):
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.notice = ""
		return m, m.forceCmd()

	case key.Matches(msg, m.keys.Refresh):
		return m, tea.Batch(m.refreshStatus(), m.refreshHistory())
	}
	return m, nil
}

func (m Model) refreshStatus() tea.Cmd {
	return func() tea.Msg {
		resp, err := m.client.Status(m.ctx)
		return statusMsg{resp: resp, err: err}
	}
}

func (m Model) refreshHistory() tea.Cmd {
	return func() tea.Msg {
		attempts, err := m.client.History(m.ctx, historyRows)
		return historyMsg{attempts: attempts, err: err}
	}
}

// connectCmd redials the remembered gateway with its stored key. The
// key never appears on screen.
func (m Model) connectCmd() tea.Cmd {
	gw := m.gw
	return func() tea.Msg {
		psk, err := keyring.Get(gw.Server, gw.Identifier)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				err = fmt.Errorf("no saved key for %s; run: ikesession connect %s --save-psk", gw.Server, gw.Server)
			}
			return actionMsg{verb: "connect", err: err}
		}
		_, err = m.client.Connect(m.ctx, control.ConnectRequest{
			Server:     gw.Server,
			Identifier: gw.Identifier,
			PSK:        string(psk),
		})
		return actionMsg{verb: "connect", err: err}
	}
}

func (m Model) disconnectCmd() tea.Cmd {
	return func() tea.Msg {
		_, err := m.client.Disconnect(m.ctx)
		return actionMsg{verb: "disconnect", err: err}
	}
}

func (m Model) forceCmd() tea.Cmd {
	return func() tea.Msg {
		_, err := m.client.ForceDisconnect(m.ctx)
		return actionMsg{verb: "reset", err: err}
	}
}
