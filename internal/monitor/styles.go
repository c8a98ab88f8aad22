package monitor

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent  = lipgloss.Color("#2e7d32")
	colorSuccess = lipgloss.Color("#30d158")
	colorWarning = lipgloss.Color("#ffd60a")
	colorError   = lipgloss.Color("#ff453a")
	colorMuted   = lipgloss.Color("#808080")
)

type styles struct {
	Title     lipgloss.Style
	Section   lipgloss.Style
	Banner    lipgloss.Style
	Connected lipgloss.Style
	Pending   lipgloss.Style
	Offline   lipgloss.Style
	Muted     lipgloss.Style
	Error     lipgloss.Style
	HelpKey   lipgloss.Style
	Help      lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		Section:   lipgloss.NewStyle().Bold(true).Underline(true),
		Banner:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffffff")).Background(colorError).Padding(0, 1),
		Connected: lipgloss.NewStyle().Foreground(colorSuccess),
		Pending:   lipgloss.NewStyle().Foreground(colorWarning),
		Offline:   lipgloss.NewStyle().Foreground(colorError),
		Muted:     lipgloss.NewStyle().Foreground(colorMuted),
		Error:     lipgloss.NewStyle().Foreground(colorError),
		HelpKey:   lipgloss.NewStyle().Foreground(colorAccent),
		Help:      lipgloss.NewStyle().Foreground(colorMuted),
	}
}
