// Package tui renders a live dashboard for the session daemon in the
// terminal. This file contains the view: layout, panels, and the
// formatting helpers they share.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/ikesession/ikesessiond/common"
	"github.com/ikesession/ikesessiond/control"
)

// View renders the whole dashboard.
func (m Model) View() string {
	if m.width == 0 {
		return "starting..."
	}

	sections := []string{
		m.titleView(),
		m.statusView(),
		m.historyView(),
	}
	if m.notice != "" {
		sections = append(sections, StyleNotice.Render(truncate(m.notice, m.contentWidth())))
	}
	sections = append(sections, m.helpView())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// contentWidth is the usable inner width for panels and text rows.
func (m Model) contentWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 96 {
		w = 96
	}
	return w
}

func (m Model) titleView() string {
	title := StyleTitle.Render(common.AppName)
	if m.haveStatus && m.status.Version != "" {
		title += StyleDimmed.Render(" v" + m.status.Version)
	}

	feed := StyleDimmed.Render("○ offline")
	if m.feedLive {
		feed = lipgloss.NewStyle().Foreground(ColorConnected).Render("● live")
	}

	gap := m.contentWidth() - lipgloss.Width(title) - lipgloss.Width(feed)
	if gap < 1 {
		gap = 1
	}
	return title + strings.Repeat(" ", gap) + feed
}

func (m Model) statusView() string {
	phase := m.state.Phase
	if phase == "" {
		phase = "DISABLED"
	}

	phaseText := lipgloss.NewStyle().Foreground(PhaseColor(phase)).Render(PhaseGlyph(phase) + " " + phase)
	if m.busy || phase == "CONNECTING" || phase == "DISCONNECTING" {
		phaseText += " " + m.spinner.View()
	}

	rows := []string{renderRow("Phase", phaseText)}

	if m.gw.Server != "" {
		gw := m.gw.Server
		if m.gw.Identifier != "" {
			gw += " (" + m.gw.Identifier + ")"
		}
		rows = append(rows, renderRow("Gateway", gw))
	}
	if m.haveStatus {
		rows = append(rows, renderRow("Engine", m.status.Engine))
		if m.status.Device != "" {
			rows = append(rows, renderRow("Device", m.status.Device))
		}
		if phase == "CONNECTED" && m.status.UptimeSec > 0 {
			rows = append(rows, renderRow("Uptime", formatDuration(time.Duration(m.status.UptimeSec)*time.Second)))
		}
		if m.status.Health.State != "" {
			health := lipgloss.NewStyle().Foreground(HealthColor(m.status.Health.State)).Render(m.status.Health.State)
			if m.status.Health.ConsecutiveFails > 0 {
				health += StyleDimmed.Render(fmt.Sprintf(" (%d fails)", m.status.Health.ConsecutiveFails))
			}
			rows = append(rows, renderRow("Health", health))
		}
		if m.status.Stats != nil {
			traffic := fmt.Sprintf("↑ %s  ↓ %s", formatBytes(m.status.Stats.BytesSent), formatBytes(m.status.Stats.BytesRecv))
			rows = append(rows, renderRow("Traffic", traffic))
		}
	}
	if m.state.Error != "" {
		rows = append(rows, renderRow("Last error", StyleError.Render(truncate(m.state.Error, m.contentWidth()-14))))
	}

	return StyleBorder.Width(m.contentWidth()).Render(strings.Join(rows, "\n"))
}

func (m Model) historyView() string {
	header := StyleTitle.Render("Recent attempts")
	if len(m.attempts) == 0 {
		return header + "\n" + StyleDimmed.Render("No connection attempts recorded.")
	}

	rows := []string{header}
	for i, a := range m.attempts {
		if i >= historyRows {
			break
		}
		glyph := lipgloss.NewStyle().Foreground(outcomeColor(a.Outcome)).Render(OutcomeGlyph(a.Outcome))
		line := fmt.Sprintf("%s %s  %-22s  %-12s  %-8s",
			glyph, formatClock(a.StartedAt), truncate(a.Server, 22), a.Outcome, attemptDuration(a))
		if a.Error != "" {
			line += "  " + StyleDimmed.Render(truncate(a.Error, m.contentWidth()-56))
		}
		rows = append(rows, line)
	}
	return strings.Join(rows, "\n")
}

func (m Model) helpView() string {
	bindings := []key.Binding{m.keys.Connect, m.keys.Disconnect, m.keys.Force, m.keys.Refresh, m.keys.Quit}
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return StyleDimmed.Render(strings.Join(parts, "  ·  "))
}

// renderRow lays out one labelled status line.
func renderRow(label, value string) string {
	return StyleLabel.Render(label) + value
}

func outcomeColor(outcome string) lipgloss.Color {
	switch outcome {
	case "connected", "disconnected":
		return ColorConnected
	case "failed":
		return ColorError
	case "connecting":
		return ColorConnecting
	default:
		return ColorDimmed
	}
}

// formatClock renders an RFC 3339 timestamp as local wall-clock time.
func formatClock(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return "-"
	}
	return t.Local().Format("15:04:05")
}

// attemptDuration is how long an attempt lasted, or "-" while it is
// still open.
func attemptDuration(a control.Attempt) string {
	if a.EndedAt == "" {
		return "-"
	}
	started, err1 := time.Parse(time.RFC3339, a.StartedAt)
	ended, err2 := time.Parse(time.RFC3339, a.EndedAt)
	if err1 != nil || err2 != nil {
		return "-"
	}
	return formatDuration(ended.Sub(started))
}

// formatDuration renders a duration in a compact human form.
func formatDuration(d time.Duration) string {
	if d >= time.Hour {
		return fmt.Sprintf("%dh %dm %ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// truncate shortens s to max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
