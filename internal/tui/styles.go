package tui

import "github.com/charmbracelet/lipgloss"

var (
	accent      = lipgloss.Color("#8BC34A")
	muted       = lipgloss.Color("#6B7280")
	destructive = lipgloss.Color("#E53935")
	warning     = lipgloss.Color("#FFC107")
	info        = lipgloss.Color("#2196F3")
)

// Styles groups the dashboard's lipgloss styles.
type Styles struct {
	Title    lipgloss.Style
	Address  lipgloss.Style
	Flag     lipgloss.Style
	FlagOn   lipgloss.Style
	Header   lipgloss.Style
	Row      lipgloss.Style
	Selected lipgloss.Style
	Failed   lipgloss.Style
	Degraded lipgloss.Style
	Loading  lipgloss.Style
	Help     lipgloss.Style
	Toast    map[string]lipgloss.Style
}

// DefaultStyles returns the dashboard palette.
func DefaultStyles() Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(accent),
		Address:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted).Padding(0, 1),
		Flag:     lipgloss.NewStyle().Foreground(muted),
		FlagOn:   lipgloss.NewStyle().Bold(true).Foreground(accent),
		Header:   lipgloss.NewStyle().Bold(true).Underline(true),
		Row:      lipgloss.NewStyle(),
		Selected: lipgloss.NewStyle().Bold(true).Foreground(info),
		Failed:   lipgloss.NewStyle().Foreground(destructive),
		Degraded: lipgloss.NewStyle().Foreground(warning),
		Loading:  lipgloss.NewStyle().Foreground(muted).Italic(true),
		Help:     lipgloss.NewStyle().Foreground(muted),
		Toast: map[string]lipgloss.Style{
			"error":   lipgloss.NewStyle().Foreground(destructive),
			"network": lipgloss.NewStyle().Foreground(warning),
			"log":     lipgloss.NewStyle().Foreground(info),
			"success": lipgloss.NewStyle().Foreground(accent),
		},
	}
}
