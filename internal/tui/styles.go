package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/user/attackdiff/internal/report"
)

var (
	// Header styles
	HeaderStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(report.Primary).
		Padding(0, 2).
		Align(lipgloss.Center)

	// Section styles
	SectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(report.Subtle)

	// Status styles
	StatusStyle = lipgloss.NewStyle().
		Foreground(report.Warning)

	ErrorStyle = lipgloss.NewStyle().
		Foreground(report.Error).
		Bold(true)

	// Dim style
	DimStyle = lipgloss.NewStyle().
		Foreground(report.Subtle).
		Italic(true)

	// Help style
	HelpStyle = lipgloss.NewStyle().
		Foreground(report.Subtle).
		MarginTop(1)

	// Loading style
	LoadingStyle = lipgloss.NewStyle().
		Foreground(report.Primary).
		Padding(2, 4)

	// Table styles
	TableHeaderStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(report.Subtle).
		Padding(0, 1)

	TableSelectedStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("229")).
		Background(report.Primary)
)
