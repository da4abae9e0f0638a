// Package tray puts a session indicator in the system tray. Like the
// command line client it drives a running daemon over the control API,
// so quitting the indicator never touches the tunnel itself. This file
// contains the menu and the event loop behind it.
package tray

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fyne.io/systray"

	"github.com/ikesession/ikesessiond/common"
	"github.com/ikesession/ikesessiond/control"
	"github.com/ikesession/ikesessiond/keyring"
)

// reconnectDelay is how long to wait before redialing a lost event feed.
const reconnectDelay = 2 * time.Second

// Indicator is the tray menu for a running daemon. Menu items update
// from the daemon's event feed; clicks call back into the control API.
type Indicator struct {
	client *control.Client
	ctx    context.Context
	cancel context.CancelFunc

	statusItem     *systray.MenuItem
	uptimeItem     *systray.MenuItem
	connectItem    *systray.MenuItem
	disconnectItem *systray.MenuItem

	mu         sync.Mutex
	phase      string
	server     string
	identifier string

	connectedAt time.Time
	uptimeStop  chan struct{}
}

// Run starts the indicator and blocks until Quit is chosen.
func Run(addr, token string) error {
	ind := &Indicator{client: control.NewClient(addr, token)}
	ind.ctx, ind.cancel = context.WithCancel(context.Background())
	systray.Run(ind.onReady, ind.onExit)
	return nil
}

// onReady builds the menu once the tray is available.
func (ind *Indicator) onReady() {
	systray.SetIcon(iconDisabled)
	systray.SetTitle(common.AppName)
	systray.SetTooltip(tooltipFor("DISABLED", ""))

	ind.statusItem = systray.AddMenuItem(statusLabel("DISABLED", ""), "Current session phase")
	ind.statusItem.Disable()

	ind.uptimeItem = systray.AddMenuItem("    uptime 00:00:00", "Connection duration")
	ind.uptimeItem.Disable()
	ind.uptimeItem.Hide()

	systray.AddSeparator()

	ind.connectItem = systray.AddMenuItem("Connect", "Redial the remembered gateway")
	ind.connectItem.Hide()
	go func() {
		for range ind.connectItem.ClickedCh {
			ind.connect()
		}
	}()

	ind.disconnectItem = systray.AddMenuItem("Disconnect", "Tear the tunnel down")
	ind.disconnectItem.Hide()
	go func() {
		for range ind.disconnectItem.ClickedCh {
			ind.disconnect()
		}
	}()

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Close the indicator")
	go func() {
		for range quitItem.ClickedCh {
			ind.cancel()
			systray.Quit()
		}
	}()

	go ind.seedGateway()
	go ind.watchLoop()
}

// onExit runs when the tray is torn down. The daemon keeps running.
func (ind *Indicator) onExit() {
	ind.stopUptime()
	ind.cancel()
	common.LogInfo("Tray indicator stopped")
}

// watchLoop follows the daemon's event feed, redialing when it drops.
func (ind *Indicator) watchLoop() {
	for {
		err := ind.client.Watch(ind.ctx, func(msg control.EventMessage) {
			ind.apply(msg.State)
		})
		if ind.ctx.Err() != nil {
			return
		}
		common.LogWarn("Tray: event feed lost: %v", err)
		ind.setUnreachable()
		select {
		case <-time.After(reconnectDelay):
		case <-ind.ctx.Done():
			return
		}
	}
}

// seedGateway fills the remembered gateway from the journal so the
// Connect item works while the daemon sits idle.
func (ind *Indicator) seedGateway() {
	ctx, cancel := context.WithTimeout(ind.ctx, 3*time.Second)
	defer cancel()

	attempts, err := ind.client.History(ctx, 1)
	if err != nil || len(attempts) == 0 {
		return
	}
	ind.mu.Lock()
	if ind.server == "" {
		ind.server = attempts[0].Server
		ind.identifier = attempts[0].Identifier
	}
	ind.mu.Unlock()
	ind.refreshConnectItem()
}

// apply moves the menu to a new session state.
func (ind *Indicator) apply(st control.StateView) {
	ind.mu.Lock()
	prev := ind.phase
	ind.phase = st.Phase
	if st.Server != "" {
		ind.server = st.Server
		ind.identifier = st.Identifier
	}
	server := ind.server
	ind.mu.Unlock()

	systray.SetIcon(iconFor(st.Phase, st.Error != ""))
	systray.SetTooltip(tooltipFor(st.Phase, server))
	ind.statusItem.SetTitle(statusLabel(st.Phase, server))

	switch st.Phase {
	case "CONNECTED":
		if prev != "CONNECTED" {
			go ind.startUptime()
		}
		ind.connectItem.Hide()
		ind.disconnectItem.Show()
	case "CONNECTING", "DISCONNECTING":
		ind.connectItem.Hide()
		ind.disconnectItem.Show()
	default:
		ind.stopUptime()
		ind.disconnectItem.Hide()
		ind.refreshConnectItem()
	}
}

// setUnreachable marks the daemon as gone without guessing a phase.
func (ind *Indicator) setUnreachable() {
	systray.SetIcon(iconDisabled)
	systray.SetTooltip(common.AppName + " - daemon unreachable")
	ind.statusItem.SetTitle("○  Daemon unreachable")
	ind.disconnectItem.Hide()
	ind.stopUptime()
}

// refreshConnectItem shows the Connect entry when a gateway is known.
func (ind *Indicator) refreshConnectItem() {
	ind.mu.Lock()
	server := ind.server
	ind.mu.Unlock()

	if server == "" {
		ind.connectItem.Hide()
		return
	}
	ind.connectItem.SetTitle("Connect: " + server)
	ind.connectItem.Show()
}

// connect redials the remembered gateway with its stored key. The key
// itself never reaches a label or the log.
func (ind *Indicator) connect() {
	ind.mu.Lock()
	server, identifier := ind.server, ind.identifier
	ind.mu.Unlock()
	if server == "" {
		return
	}

	psk, err := keyring.Get(server, identifier)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			ind.statusItem.SetTitle(fmt.Sprintf("○  No saved key for %s", server))
		}
		common.LogWarn("Tray: no usable key for %s: %v", server, err)
		return
	}

	if _, err := ind.client.Connect(ind.ctx, control.ConnectRequest{
		Server:     server,
		Identifier: identifier,
		PSK:        string(psk),
	}); err != nil {
		common.LogWarn("Tray: connect to %s failed: %v", server, err)
	}
}

func (ind *Indicator) disconnect() {
	if _, err := ind.client.Disconnect(ind.ctx); err != nil {
		common.LogWarn("Tray: disconnect failed: %v", err)
	}
}

// startUptime begins ticking the uptime entry. The daemon's own uptime
// wins over the local clock so a restarted tray shows the real figure.
func (ind *Indicator) startUptime() {
	ind.stopUptime()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ind.ctx, 2*time.Second)
	if resp, err := ind.client.Status(ctx); err == nil && resp.UptimeSec > 0 {
		start = time.Now().Add(-time.Duration(resp.UptimeSec) * time.Second)
	}
	cancel()

	stop := make(chan struct{})
	ind.mu.Lock()
	if ind.phase != "CONNECTED" {
		// The session dropped while we were fetching the status.
		ind.mu.Unlock()
		return
	}
	ind.connectedAt = start
	ind.uptimeStop = stop
	ind.mu.Unlock()

	ind.uptimeItem.SetTitle("    uptime " + formatUptime(time.Since(start)))
	ind.uptimeItem.Show()

	ticker := time.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ind.mu.Lock()
				d := time.Since(ind.connectedAt)
				ind.mu.Unlock()
				ind.uptimeItem.SetTitle("    uptime " + formatUptime(d))
			case <-stop:
				return
			case <-ind.ctx.Done():
				return
			}
		}
	}()
}

func (ind *Indicator) stopUptime() {
	ind.mu.Lock()
	if ind.uptimeStop != nil {
		close(ind.uptimeStop)
		ind.uptimeStop = nil
	}
	ind.mu.Unlock()
	ind.uptimeItem.Hide()
}

// statusLabel renders the disabled status entry for a phase.
func statusLabel(phase, server string) string {
	switch phase {
	case "CONNECTED":
		return "●  Connected: " + server
	case "CONNECTING":
		return "⟳  Connecting: " + server + "..."
	case "DISCONNECTING":
		return "⟳  Disconnecting..."
	default:
		return "○  Disconnected"
	}
}

// tooltipFor renders the hover text for a phase.
func tooltipFor(phase, server string) string {
	switch phase {
	case "CONNECTED":
		return fmt.Sprintf("%s - connected to %s", common.AppName, server)
	case "CONNECTING":
		return fmt.Sprintf("%s - connecting to %s", common.AppName, server)
	case "DISCONNECTING":
		return common.AppName + " - disconnecting"
	default:
		return common.AppName + " - disconnected"
	}
}

// formatUptime renders a duration as hh:mm:ss.
func formatUptime(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
