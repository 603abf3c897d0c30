package cmd

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

// Color palette
var (
	colorPrimary = lipgloss.Color("86")  // Cyan
	colorSuccess = lipgloss.Color("42")  // Green
	colorWarning = lipgloss.Color("214") // Orange
	colorError   = lipgloss.Color("196") // Red
	colorMuted   = lipgloss.Color("240") // Gray
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(18)

	successStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	summaryBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)
)

// Per-table progress markers.
var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	skipMark = color.New(color.FgYellow).SprintFunc()
	failMark = color.New(color.FgRed, color.Bold).SprintFunc()
)

const (
	iconSuccess = "✓"
	iconSkip    = "-"
	iconError   = "✗"
)
