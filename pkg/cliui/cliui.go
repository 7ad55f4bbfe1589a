// Package cliui provides the terminal styles shared by the switchboard CLI
// commands.
package cliui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	SuccessMark = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")

	HeaderStyle = lipgloss.NewStyle().Bold(true)
	KeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	NameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	ValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	DimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	WarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)
