// Package render formats CLI output. Styling is applied only when the
// output is a terminal and NO_COLOR is unset.
package render

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/roombot/internal/bot"
)

var (
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	InfoColor      = lipgloss.Color("#60A5FA") // Blue

	Header  = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor)
	Muted   = lipgloss.NewStyle().Foreground(MutedColor)
	Success = lipgloss.NewStyle().Foreground(SecondaryColor)
	Warning = lipgloss.NewStyle().Foreground(WarningColor)
	Failure = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
)

// StatusStyle returns the style used for a bot status.
func StatusStyle(s bot.Status) lipgloss.Style {
	switch s {
	case bot.StatusRunning:
		return lipgloss.NewStyle().Foreground(SecondaryColor).Bold(true)
	case bot.StatusPending:
		return lipgloss.NewStyle().Foreground(InfoColor)
	case bot.StatusStopped:
		return lipgloss.NewStyle().Foreground(MutedColor)
	case bot.StatusError:
		return lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(WarningColor)
	}
}

// LevelStyle returns the style used for a log level.
func LevelStyle(level string) lipgloss.Style {
	switch level {
	case "DEBUG":
		return Muted
	case "WARN":
		return Warning
	case "ERROR":
		return Failure
	default:
		return lipgloss.NewStyle().Foreground(InfoColor)
	}
}
