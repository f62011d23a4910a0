package tui

import "github.com/charmbracelet/lipgloss"

// Theme groups the lipgloss styles used by the chat surface.
type Theme struct {
	Sidebar      lipgloss.Style
	SidebarTitle lipgloss.Style
	Selected     lipgloss.Style

	ChatPane  lipgloss.Style
	InputPane lipgloss.Style
	Status    lipgloss.Style
	Error     lipgloss.Style

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
}

func NewTheme() Theme {
	border := lipgloss.Color("240")
	return Theme{
		Sidebar: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(0, 1),
		SidebarTitle: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")),
		Selected:     lipgloss.NewStyle().Reverse(true),

		ChatPane: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(0, 1),
		InputPane: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")),
		Status: lipgloss.NewStyle().Faint(true),
		Error:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),

		UserLabel:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		AssistantLabel: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
	}
}
