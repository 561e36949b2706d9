package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"circuitshell/internal/protocol"
	"circuitshell/internal/session"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if !m.sized {
			m.viewport = viewport.New(msg.Width, msg.Height-2)
			m.sized = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 2
		}
		m.input.Width = msg.Width - len(m.input.Prompt) - 1
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case readyMsg:
		m.ctrl.HandleReady()
		var info protocol.QueryResult
		if msg.resp.Result != nil {
			// Best effort; the banner works without it.
			_ = unmarshalResult(msg.resp.Result, &info)
		}
		if info.HeapSizeBytes > 0 {
			m.append(entryInfo, fmt.Sprintf("runtime ready (heap %d bytes)", info.HeapSizeBytes))
		} else {
			m.append(entryInfo, "runtime ready")
		}
		m.refreshViewport()
		return m, nil

	case progressMsg:
		if line, shown := m.ctrl.HandleProgress(protocol.ProgressEvent(msg)); shown {
			m.append(entryInfo, line)
			m.refreshViewport()
		}
		return m, waitProgress(m.progress)

	case initFailMsg:
		m.ctrl.Fail(msg.err)
		m.appendResult(session.Result{
			Text:    fmt.Sprintf("runtime failed to start: %v", msg.err),
			IsError: true,
		})
		m.append(entryInfo, "press Ctrl+R to restart or Ctrl+C to quit")
		m.refreshViewport()
		return m, nil

	case outcomeMsg:
		res := m.ctrl.Resolve(msg.id, msg.outcome)
		m.appendResult(res)
		m.refreshViewport()
		return m, nil

	case faultMsg:
		m.ctrl.Fail(msg.err)
		m.append(entryError, fmt.Sprintf("worker channel failed: %v", msg.err))
		m.append(entryInfo, "press Ctrl+C to quit")
		m.refreshViewport()
		return m, nil

	case ptyDataMsg:
		m.append(entryOutput, string(msg))
		m.refreshViewport()
		return m, readPTY(m.ctrl.PassThrough())

	case ptyGoneMsg:
		m.append(entryInfo, "device connection closed")
		m.refreshViewport()
		return m, nil
	}

	m.input, tiCmd = m.input.Update(msg)
	if m.sized {
		m.viewport, vpCmd = m.viewport.Update(msg)
	}
	m.spinner, spCmd = m.spinner.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Pass-through sessions forward raw keystrokes to the device pty.
	if pt := m.ctrl.PassThrough(); pt != nil {
		if msg.Type == tea.KeyCtrlC {
			m.quitting = true
			return m, tea.Quit
		}
		_ = pt.Write(keyBytes(msg))
		return m, nil
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		return m.handleInterrupt()

	case tea.KeyCtrlD:
		return m.handleCtrlD()

	case tea.KeyCtrlE:
		m.ctrl.EnterPasteMode()
		m.input.Prompt = "... "
		m.append(entryInfo, "paste mode: enter lines, Ctrl+D to run the buffer")
		m.refreshViewport()
		return m, nil

	case tea.KeyCtrlR:
		if m.ctrl.Restart() {
			m.append(entryInfo, "session restarted")
			m.refreshViewport()
		}
		return m, nil

	case tea.KeyTab:
		value, changed := m.ctrl.CompleteNext(context.Background(), m.input.Value(), m.input.Position())
		if changed {
			m.input.SetValue(value)
			m.input.CursorEnd()
		}
		return m, nil

	case tea.KeyUp:
		m.historyPrev()
		return m, nil

	case tea.KeyDown:
		m.historyNext()
		return m, nil

	case tea.KeyEnter:
		return m.handleSubmit()
	}

	// Any other keystroke abandons an in-flight completion cycle.
	m.ctrl.CompleteReset()
	m.histIndex = len(m.ctrl.History())

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleInterrupt() (tea.Model, tea.Cmd) {
	// Ctrl+C on an empty idle prompt quits, like a REPL.
	if m.ctrl.State() != session.StateExecuting && !m.ctrl.InPasteMode() && m.input.Value() == "" {
		m.quitting = true
		return m, tea.Quit
	}

	m.ctrl.Interrupt()
	m.input.SetValue("")
	m.input.Prompt = ">>> "
	m.append(entryError, "^C")
	m.refreshViewport()
	return m, nil
}

func (m Model) handleCtrlD() (tea.Model, tea.Cmd) {
	if m.ctrl.InPasteMode() {
		m.input.Prompt = ">>> "
		d, err := m.ctrl.ClosePasteMode()
		if err != nil {
			m.append(entryError, err.Error())
			m.refreshViewport()
			return m, nil
		}
		if d == nil {
			m.append(entryInfo, "paste buffer empty")
			m.refreshViewport()
			return m, nil
		}
		m.append(entryUser, "(paste buffer)")
		m.refreshViewport()
		return m, tea.Batch(m.spinner.Tick, awaitOutcome(d))
	}

	d, _, err := m.ctrl.SoftRestart()
	m.append(entryInfo, "soft restart")
	if err != nil {
		m.append(entryError, err.Error())
	}
	m.refreshViewport()
	if d != nil {
		return m, awaitOutcome(d)
	}
	return m, nil
}

func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	m.input.SetValue("")
	m.ctrl.CompleteReset()

	if m.ctrl.InPasteMode() {
		_, _ = m.ctrl.Submit(line)
		m.append(entryUser, "... "+line)
		m.refreshViewport()
		return m, nil
	}

	if line != "" {
		m.append(entryUser, ">>> "+line)
	}

	d, err := m.ctrl.Submit(line)
	m.histIndex = len(m.ctrl.History())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrBusy):
			m.append(entryError, "still running; Ctrl+C to interrupt")
		case errors.Is(err, session.ErrNotAcceptingInput):
			m.append(entryError, "session is not ready for input")
		default:
			m.append(entryError, err.Error())
		}
		m.refreshViewport()
		return m, nil
	}

	cmd := m.appendDispatch(line, d)
	m.refreshViewport()
	if cmd != nil {
		return m, tea.Batch(m.spinner.Tick, cmd)
	}
	return m, nil
}

func (m *Model) historyPrev() {
	history := m.ctrl.History()
	if len(history) == 0 || m.histIndex == 0 {
		return
	}
	if m.histIndex == len(history) {
		m.savedLine = m.input.Value()
	}
	m.histIndex--
	m.input.SetValue(history[m.histIndex])
	m.input.CursorEnd()
}

func (m *Model) historyNext() {
	history := m.ctrl.History()
	if m.histIndex >= len(history) {
		return
	}
	m.histIndex++
	if m.histIndex == len(history) {
		m.input.SetValue(m.savedLine)
	} else {
		m.input.SetValue(history[m.histIndex])
	}
	m.input.CursorEnd()
}

// keyBytes converts a bubbletea key event back into the bytes a pty
// expects.
func keyBytes(msg tea.KeyMsg) []byte {
	switch msg.Type {
	case tea.KeyEnter:
		return []byte("\r")
	case tea.KeyBackspace:
		return []byte{0x7f}
	case tea.KeyTab:
		return []byte("\t")
	case tea.KeyCtrlD:
		return []byte{0x04}
	case tea.KeySpace:
		return []byte(" ")
	case tea.KeyRunes:
		return []byte(string(msg.Runes))
	default:
		return nil
	}
}

func unmarshalResult(raw []byte, v interface{}) error {
	return json.Unmarshal(raw, v)
}
