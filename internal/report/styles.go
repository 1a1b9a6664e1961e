package report

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	Primary   = lipgloss.Color("205")
	Secondary = lipgloss.Color("86")
	Subtle    = lipgloss.Color("241")
	Success   = lipgloss.Color("46")
	Warning   = lipgloss.Color("214")
	Error     = lipgloss.Color("196")

	TitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary)

	SectionTitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Secondary)

	LabelStyle = lipgloss.NewStyle().
		Foreground(Subtle).
		Width(12)

	AddedStyle = lipgloss.NewStyle().
		Foreground(Success)

	RemovedStyle = lipgloss.NewStyle().
		Foreground(Error)

	ChangedStyle = lipgloss.NewStyle().
		Foreground(Warning)

	DimStyle = lipgloss.NewStyle().
		Foreground(Subtle).
		Italic(true)

	ErrorStyle = lipgloss.NewStyle().
		Foreground(Error).
		Bold(true)
)

// RenderStatus returns a styled status indicator.
func RenderStatus(ok bool, okText, failText string) string {
	if ok {
		return AddedStyle.Render("✓ " + okText)
	}
	return ErrorStyle.Render("✗ " + failText)
}
