package theme

import "github.com/charmbracelet/lipgloss"

// Color palette - dark theme inspired by Catppuccin Mocha
var (
	ColorOverlay0 = lipgloss.Color("#6c7086")
	ColorText     = lipgloss.Color("#cdd6f4")
	ColorSubtext0 = lipgloss.Color("#a6adc8")

	ColorRed      = lipgloss.Color("#f38ba8")
	ColorGreen    = lipgloss.Color("#a6e3a1")
	ColorYellow   = lipgloss.Color("#f9e2af")
	ColorBlue     = lipgloss.Color("#89b4fa")
	ColorMauve    = lipgloss.Color("#cba6f7")
	ColorLavender = lipgloss.Color("#b4befe")
)

// Diagram styles
var (
	Section = lipgloss.NewStyle().Foreground(ColorMauve).Bold(true)
	Header  = lipgloss.NewStyle().Foreground(ColorLavender).Bold(true)
	Muted   = lipgloss.NewStyle().Foreground(ColorOverlay0)
	Child   = lipgloss.NewStyle().Foreground(ColorSubtext0)
)

// Task status styles
var (
	StatusScheduled = lipgloss.NewStyle().Foreground(ColorBlue)
	StatusRunning   = lipgloss.NewStyle().Foreground(ColorYellow).Bold(true)
	StatusDone      = lipgloss.NewStyle().Foreground(ColorGreen).Bold(true)
	StatusUnknown   = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
	StatusOther     = lipgloss.NewStyle().Foreground(ColorText)
)

// TaskStatus returns the style for a task or child status. Child statuses
// use the wrapped tool's vocabulary (running, completed, error).
func TaskStatus(status string) lipgloss.Style {
	switch status {
	case "scheduled", "pending":
		return StatusScheduled
	case "running":
		return StatusRunning
	case "done", "completed":
		return StatusDone
	case "unknown", "error":
		return StatusUnknown
	default:
		return StatusOther
	}
}
