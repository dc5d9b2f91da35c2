package tui

import "charm.land/lipgloss/v2"

var (
	headerStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	helpStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	activityStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).Bold(true)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	sessionStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	selectedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("236"))
	dividerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	connectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("70"))
	degradedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("179"))
	permissionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("136")).Bold(true)
)
