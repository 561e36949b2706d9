package shell

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"circuitshell/internal/channel"
	"circuitshell/internal/protocol"
	"circuitshell/internal/session"
)

// entryKind classifies a transcript line for styling.
type entryKind int

const (
	entryUser entryKind = iota
	entryOutput
	entryError
	entryInfo
	entryMarkdown
)

type entry struct {
	kind entryKind
	text string
}

// Options wires a Model to its session.
type Options struct {
	Controller *session.Controller
	// Channel is nil for pass-through sessions.
	Channel *channel.Channel
	// Faults delivers at most one unrecoverable transport fault.
	Faults <-chan error
	// Progress delivers runtime provisioning updates until ready.
	Progress <-chan protocol.ProgressEvent
}

// Model is the bubbletea model for the interactive shell.
type Model struct {
	ctrl     *session.Controller
	ch       *channel.Channel
	faults   <-chan error
	progress <-chan protocol.ProgressEvent

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	styles   Styles

	transcript []entry

	// histIndex is the Up/Down cursor into the controller's history;
	// len(history) means "editing a fresh line".
	histIndex int
	savedLine string

	width, height int
	sized         bool
	quitting      bool
}

// Messages delivered by async commands.
type (
	readyMsg    struct{ resp protocol.Response }
	initFailMsg struct{ err error }
	outcomeMsg  struct {
		id      string
		outcome channel.Outcome
	}
	progressMsg protocol.ProgressEvent
	faultMsg    struct{ err error }
	ptyDataMsg []byte
	ptyGoneMsg struct{}
)

// New builds the shell model. The program is not started here.
func New(opts Options) Model {
	input := textinput.New()
	input.Prompt = ">>> "
	input.Placeholder = "code or /help"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		renderer = nil
	}

	return Model{
		ctrl:     opts.Controller,
		ch:       opts.Channel,
		faults:   opts.Faults,
		progress: opts.Progress,
		input:    input,
		spinner:  sp,
		renderer: renderer,
		styles:   DefaultStyles(),
		transcript: []entry{
			{kind: entryInfo, text: "circuitshell - embedded CircuitPython-style playground"},
			{kind: entryInfo, text: "type /help for commands, Ctrl+C to interrupt"},
		},
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick}
	if m.ch != nil {
		cmds = append(cmds, waitReady(m.ch))
	}
	if m.faults != nil {
		cmds = append(cmds, waitFault(m.faults))
	}
	if m.progress != nil {
		cmds = append(cmds, waitProgress(m.progress))
	}
	if pt := m.ctrl.PassThrough(); pt != nil {
		cmds = append(cmds, readPTY(pt))
	}
	return tea.Batch(cmds...)
}

// waitReady blocks on the worker's one-time init report.
func waitReady(ch *channel.Channel) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resp, err := ch.WaitReady(ctx)
		if err != nil {
			return initFailMsg{err: err}
		}
		return readyMsg{resp: resp}
	}
}

// waitFault forwards an unrecoverable transport fault into the UI.
func waitFault(faults <-chan error) tea.Cmd {
	return func() tea.Msg {
		err, ok := <-faults
		if !ok {
			return nil
		}
		return faultMsg{err: err}
	}
}

// waitProgress forwards one provisioning update into the UI.
func waitProgress(progress <-chan protocol.ProgressEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-progress
		if !ok {
			return nil
		}
		return progressMsg(ev)
	}
}

// awaitOutcome resolves one dispatched command.
func awaitOutcome(d *session.Dispatch) tea.Cmd {
	return func() tea.Msg {
		return outcomeMsg{id: d.ID, outcome: <-d.Outcome}
	}
}

// readPTY streams pass-through terminal output.
func readPTY(pt *session.PTYProcess) tea.Cmd {
	return func() tea.Msg {
		data, ok := <-pt.Output()
		if !ok {
			return ptyGoneMsg{}
		}
		return ptyDataMsg(data)
	}
}

func (m *Model) append(kind entryKind, text string) {
	if text == "" {
		return
	}
	m.transcript = append(m.transcript, entry{kind: kind, text: text})
}

func (m *Model) appendResult(res session.Result) {
	kind := entryOutput
	if res.IsError {
		kind = entryError
	}
	m.append(kind, res.Text)
}

// appendDispatch records the local part of a dispatch and returns the
// command that will resolve it, if any.
func (m *Model) appendDispatch(line string, d *session.Dispatch) tea.Cmd {
	if d == nil {
		return nil
	}
	if d.Local != "" {
		if strings.HasPrefix(line, "/help") {
			m.append(entryMarkdown, d.Local)
		} else {
			m.append(entryOutput, d.Local)
		}
		return nil
	}
	return awaitOutcome(d)
}
