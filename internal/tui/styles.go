package tui

import "github.com/charmbracelet/lipgloss"

var (
	accent   = lipgloss.Color("#14B8A6") // teal
	green    = lipgloss.Color("#22C55E")
	yellow   = lipgloss.Color("#F59E0B")
	red      = lipgloss.Color("#EF4444")
	blue     = lipgloss.Color("#38BDF8")
	slate    = lipgloss.Color("#94A3B8")
	slateDim = lipgloss.Color("#64748B")
	panelBg  = lipgloss.Color("#111827")
	bgDark   = lipgloss.Color("#0B1220")
	line     = lipgloss.Color("#1F2937")
	ink      = lipgloss.Color("#E5E7EB")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ink).
			Background(bgDark).
			BorderStyle(lipgloss.ThickBorder()).
			BorderLeft(true).
			BorderTop(false).
			BorderRight(false).
			BorderBottom(false).
			BorderForeground(accent).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(red)
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(yellow)
	infoStyle  = lipgloss.NewStyle().Foreground(blue)
	okStyle    = lipgloss.NewStyle().Foreground(green)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(line).
			Background(panelBg).
			Padding(1, 2)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(line).
			Background(panelBg).
			Padding(1, 1)

	panelHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ink)

	mutedBadgeStyle = lipgloss.NewStyle().
			Foreground(slate).
			Background(bgDark).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(line).
			Padding(0, 1)

	keycapStyle = lipgloss.NewStyle().
			Foreground(ink).
			Background(lipgloss.Color("#1E293B")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(line).
			Padding(0, 1)

	dimStyle = lipgloss.NewStyle().Foreground(slateDim)
)

func levelStyle(level string) lipgloss.Style {
	switch level {
	case "ERROR":
		return errorStyle
	case "WARNING":
		return warnStyle
	case "DEBUG":
		return dimStyle
	default:
		return infoStyle
	}
}

func statusBadge(status string) string {
	style := mutedBadgeStyle
	switch status {
	case "completed", "working":
		style = lipgloss.NewStyle().Foreground(bgDark).Background(green).Padding(0, 1)
	case "failed":
		style = lipgloss.NewStyle().Foreground(bgDark).Background(red).Padding(0, 1)
	case "running", "waiting":
		style = lipgloss.NewStyle().Foreground(bgDark).Background(blue).Padding(0, 1)
	case "paused":
		style = lipgloss.NewStyle().Foreground(bgDark).Background(yellow).Padding(0, 1)
	}
	return style.Render(status)
}
