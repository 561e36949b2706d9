package shell

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"circuitshell/internal/session"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.sized {
		return "starting..."
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		m.renderPromptLine(),
		m.renderStatusBar(),
	)
}

// refreshViewport re-renders the transcript and pins the view to the
// bottom.
func (m *Model) refreshViewport() {
	if !m.sized {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	var sb strings.Builder
	for _, e := range m.transcript {
		switch e.kind {
		case entryUser:
			sb.WriteString(m.styles.UserLine.Render(e.text))
		case entryError:
			sb.WriteString(m.styles.Error.Render(e.text))
		case entryInfo:
			sb.WriteString(m.styles.Info.Render(e.text))
		case entryMarkdown:
			sb.WriteString(m.renderMarkdown(e.text))
		default:
			sb.WriteString(m.styles.Output.Render(e.text))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// renderMarkdown renders help text through glamour, falling back to
// plain text if the renderer is unavailable or panics.
func (m Model) renderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()

	if m.renderer != nil {
		if rendered, err := m.renderer.Render(content); err == nil {
			return rendered
		}
	}
	return content
}

func (m Model) renderPromptLine() string {
	switch m.ctrl.State() {
	case session.StateAwaitingRuntime:
		return m.styles.Muted.Render(m.spinner.View() + " starting runtime...")
	case session.StateExecuting:
		return m.styles.Muted.Render(m.spinner.View() + " running... (Ctrl+C to interrupt)")
	case session.StateError:
		return m.styles.Error.Render("session failed; Ctrl+R to restart, Ctrl+C to quit")
	default:
		return m.input.View()
	}
}

func (m Model) renderStatusBar() string {
	state := m.ctrl.State().String()
	if m.ctrl.InPasteMode() {
		state = "paste"
	}

	tag := m.styles.StatusTag.Render("circuitshell")
	info := fmt.Sprintf("%s | %s | %s", state, m.ctrl.Mode(), m.ctrl.TransportName())

	bar := m.styles.StatusBar.Render(info)
	gap := m.width - lipgloss.Width(tag) - lipgloss.Width(bar)
	if gap < 0 {
		gap = 0
	}
	filler := m.styles.StatusBar.Render(strings.Repeat(" ", gap))
	return tag + filler + bar
}
