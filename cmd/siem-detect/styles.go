package main

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	primary    = lipgloss.Color("#7C3AED")
	secondary  = lipgloss.Color("#10B981")
	warning    = lipgloss.Color("#F59E0B")
	errorColor = lipgloss.Color("#EF4444")
	mutedColor = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primary)

	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)

	// Status styles
	passStyle = lipgloss.NewStyle().
			Foreground(secondary).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(warning).
			Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primary).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(mutedColor)
)

// severityStyle colors a severity name by urgency.
func severityStyle(name string) lipgloss.Style {
	switch name {
	case "CRITICAL", "HIGH":
		return failStyle
	case "MEDIUM":
		return warnStyle
	}
	return mutedStyle
}
