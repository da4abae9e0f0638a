// Package tui renders a live dashboard for the session daemon in the
// terminal. It is a thin client of the control API and holds no session
// state of its own. This file contains the color palette and reusable
// styles.
package tui

import "github.com/charmbracelet/lipgloss"

// Phase colors.
var (
	ColorConnected     = lipgloss.Color("#22c55e")
	ColorConnecting    = lipgloss.Color("#d97706")
	ColorDisconnecting = lipgloss.Color("#d97706")
	ColorDisabled      = lipgloss.Color("#6b7280")
	ColorError         = lipgloss.Color("#dc2626")
)

// Health colors.
var (
	ColorHealthy   = lipgloss.Color("#22c55e")
	ColorDegraded  = lipgloss.Color("#d97706")
	ColorUnhealthy = lipgloss.Color("#dc2626")
	ColorUnknown   = lipgloss.Color("#6b7280")
)

// UI chrome colors.
var (
	ColorBorder = lipgloss.Color("#4b5563")
	ColorDimmed = lipgloss.Color("#6b7280")
	ColorBright = lipgloss.Color("#f9fafb")
)

// Reusable styles.
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleLabel = lipgloss.NewStyle().
			Foreground(ColorDimmed).
			Width(12)

	StyleNotice = lipgloss.NewStyle().
			Foreground(ColorConnecting)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorError)
)

// PhaseColor returns the color for a session phase string.
func PhaseColor(phase string) lipgloss.Color {
	switch phase {
	case "CONNECTED":
		return ColorConnected
	case "CONNECTING":
		return ColorConnecting
	case "DISCONNECTING":
		return ColorDisconnecting
	case "DISABLED":
		return ColorDisabled
	default:
		return ColorDimmed
	}
}

// PhaseGlyph returns a Unicode glyph representing a session phase.
func PhaseGlyph(phase string) string {
	switch phase {
	case "CONNECTED":
		return "●"
	case "CONNECTING":
		return "◌"
	case "DISCONNECTING":
		return "◌"
	case "DISABLED":
		return "○"
	default:
		return "·"
	}
}

// HealthColor returns the color for a health state string.
func HealthColor(state string) lipgloss.Color {
	switch state {
	case "HEALTHY":
		return ColorHealthy
	case "DEGRADED":
		return ColorDegraded
	case "UNHEALTHY":
		return ColorUnhealthy
	default:
		return ColorUnknown
	}
}

// OutcomeGlyph returns a glyph for a recorded attempt outcome.
func OutcomeGlyph(outcome string) string {
	switch outcome {
	case "connected", "disconnected":
		return "✓"
	case "failed":
		return "✗"
	case "cancelled":
		return "-"
	default:
		return "·"
	}
}
