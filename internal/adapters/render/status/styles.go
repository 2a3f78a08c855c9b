package status

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title     lipgloss.Style
	header    lipgloss.Style
	session   lipgloss.Style
	detail    lipgloss.Style
	warning   lipgloss.Style
	section   lipgloss.Style
	empty     lipgloss.Style
	key       lipgloss.Style
	meta      lipgloss.Style
	codeBox   lipgloss.Style
	codeLabel lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:     lipgloss.NewStyle().Bold(true),
		header:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		session:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		detail:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		warning:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		section:   lipgloss.NewStyle().MarginTop(1),
		empty:     lipgloss.NewStyle().Faint(true),
		key:       lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		meta:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		codeBox:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220")).Border(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("220")).Padding(0, 3),
		codeLabel: lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
	}
}

func stateColor(state string) lipgloss.Color {
	switch state {
	case "connected":
		return lipgloss.Color("42")
	case "pairing_requested":
		return lipgloss.Color("220")
	case "reconnecting":
		return lipgloss.Color("214")
	case "logged_out":
		return lipgloss.Color("203")
	default:
		return lipgloss.Color("245")
	}
}
