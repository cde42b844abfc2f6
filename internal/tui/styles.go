// Package tui provides shared styling for the jean terminal interface.
package tui

import "github.com/charmbracelet/lipgloss"

// Tokyo Night inspired color palette
var (
	ColorBg        = lipgloss.Color("#1a1b26")
	ColorBgAlt     = lipgloss.Color("#24283b")
	ColorFg        = lipgloss.Color("#c0caf5")
	ColorFgMuted   = lipgloss.Color("#565f89")
	ColorStreaming = lipgloss.Color("#9ece6a")
	ColorPending   = lipgloss.Color("#e0af68")
	ColorError     = lipgloss.Color("#f7768e")
	ColorWaiting   = lipgloss.Color("#7aa2f7")
	ColorAccent    = lipgloss.Color("#d4a373")
)

// StatusColor returns the color for a worktree or stream status.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "streaming", "ready":
		return ColorStreaming
	case "pending":
		return ColorPending
	case "error", "stalled":
		return ColorError
	case "waiting":
		return ColorWaiting
	default:
		return ColorFgMuted
	}
}

// Common styles
var (
	StyleTitle = lipgloss.NewStyle().
			Foreground(ColorFg).
			Bold(true)

	StyleHeader = lipgloss.NewStyle().
			Foreground(ColorFgMuted).
			Bold(true)

	StyleSelected = lipgloss.NewStyle().
			Background(ColorBgAlt).
			Foreground(ColorFg)

	StyleNormal = lipgloss.NewStyle().
			Foreground(ColorFg)

	StyleMuted = lipgloss.NewStyle().
			Foreground(ColorFgMuted)

	StyleAccent = lipgloss.NewStyle().
			Foreground(ColorAccent)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorError)

	StyleHelp = lipgloss.NewStyle().
			Foreground(ColorFgMuted).
			MarginTop(1)

	StyleBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorFgMuted).
			Padding(0, 1)
)

// StatusStyle returns styled text for a status.
func StatusStyle(status string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(StatusColor(status))
}
