package tui

import "github.com/charmbracelet/lipgloss"

var (
	accentColor = lipgloss.Color("99")
	selectedFg  = lipgloss.Color("229")
	selectedBg  = lipgloss.Color("57")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(accentColor).BorderStyle(lipgloss.DoubleBorder()).BorderBottom(true).Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	detailStyle = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(accentColor).Padding(0, 1).MarginLeft(2)

	executedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	skippedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	unsupportedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "EXECUTED":
		return executedStyle
	case "SKIPPED":
		return skippedStyle
	case "FAILED":
		return failedStyle
	case "UNSUPPORTED":
		return unsupportedStyle
	}
	return dimStyle
}

// Summary renders a one-line coloured status summary for non-interactive
// output.
func Summary(summary map[string]int) string {
	return summaryLine(summary)
}
