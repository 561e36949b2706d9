// Package shell provides the interactive terminal UI for a
// circuitshell session: a transcript viewport, a prompt line, and a
// status bar wired to the session controller.
package shell

import (
	"github.com/charmbracelet/lipgloss"
)

// Semantic colors. Errors are always distinguishable from output.
var (
	promptColor   = lipgloss.Color("#8BC34A") // lime
	outputColor   = lipgloss.Color("#f2f2f2")
	errorColor    = lipgloss.Color("#e53935") // red
	infoColor     = lipgloss.Color("#2196F3") // blue
	mutedColor    = lipgloss.Color("#6c7b8a")
	warningColor  = lipgloss.Color("#FFC107") // yellow
	statusBgColor = lipgloss.Color("#1e2a3d")
)

// Styles bundles the lipgloss styles used by the shell view.
type Styles struct {
	Prompt    lipgloss.Style
	UserLine  lipgloss.Style
	Output    lipgloss.Style
	Error     lipgloss.Style
	Info      lipgloss.Style
	Muted     lipgloss.Style
	Warning   lipgloss.Style
	StatusBar lipgloss.Style
	StatusTag lipgloss.Style
}

// DefaultStyles returns the shell's style set.
func DefaultStyles() Styles {
	return Styles{
		Prompt:    lipgloss.NewStyle().Foreground(promptColor).Bold(true),
		UserLine:  lipgloss.NewStyle().Foreground(promptColor),
		Output:    lipgloss.NewStyle().Foreground(outputColor),
		Error:     lipgloss.NewStyle().Foreground(errorColor),
		Info:      lipgloss.NewStyle().Foreground(infoColor),
		Muted:     lipgloss.NewStyle().Foreground(mutedColor),
		Warning:   lipgloss.NewStyle().Foreground(warningColor),
		StatusBar: lipgloss.NewStyle().Background(statusBgColor).Foreground(outputColor).Padding(0, 1),
		StatusTag: lipgloss.NewStyle().Background(statusBgColor).Foreground(promptColor).Bold(true).Padding(0, 1),
	}
}
