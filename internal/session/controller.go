// Package session implements the session controller: the front-end
// state machine that owns a terminal session's lifecycle, issues
// correlated commands over the worker channel, enforces the submit
// discipline, and handles control signals that bypass it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"circuitshell/internal/channel"
	"circuitshell/internal/completion"
	"circuitshell/internal/logging"
	"circuitshell/internal/protocol"
)

// State is the controller's lifecycle state.
type State int

const (
	// StateAwaitingRuntime means no worker is ready yet; input is not
	// accepted and progress events may be rendered.
	StateAwaitingRuntime State = iota
	// StateIdle accepts input.
	StateIdle
	// StateExecuting has one submitted command in flight.
	StateExecuting
	// StateError is entered on unrecoverable channel failure and left
	// only via an explicit restart.
	StateError
)

func (s State) String() string {
	switch s {
	case StateAwaitingRuntime:
		return "awaiting_runtime"
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode distinguishes the simulated shell from a connected device REPL.
type Mode string

const (
	ModeShell      Mode = "shell"
	ModeDeviceREPL Mode = "device-repl"
)

// ErrBusy is returned when a line is submitted while a command is
// already in flight.
var ErrBusy = errors.New("a command is already executing")

// ErrNotAcceptingInput is returned for submits outside the idle state.
var ErrNotAcceptingInput = errors.New("session is not accepting input")

// HistoryStore persists submitted lines. Implementations must tolerate
// concurrent sessions appending under distinct session ids.
type HistoryStore interface {
	Append(sessionID, line string) error
	Recent(limit int) ([]string, error)
}

// Options configures a Controller.
type Options struct {
	// Mode defaults to ModeShell.
	Mode Mode

	// Transport is the immutable transport variant, chosen by the host
	// from its capability-readiness signal before the session exists.
	Transport Transport

	// Bridge answers completion requests. Nil disables completion.
	Bridge completion.Bridge

	// History persists submitted lines. Nil disables persistence.
	History HistoryStore

	// HistoryLimit bounds the in-memory history. Zero means 500.
	HistoryLimit int
}

// Dispatch describes what a submit produced: either an issued command
// (ID + Outcome) or a locally served result (Local set, no envelope).
type Dispatch struct {
	ID      string
	Kind    channel.CommandKind
	Outcome <-chan channel.Outcome
	Local   string
}

// Result is a rendered command outcome ready for display.
type Result struct {
	Text    string
	IsError bool
	// InitFailure marks the one-time initialization error, which the
	// host additionally surfaces as a notification.
	InitFailure bool
}

// Controller is the session state machine. It is not goroutine-safe:
// it belongs to the UI reactor and must only be driven from there.
type Controller struct {
	id        string
	mode      Mode
	transport Transport
	state     State

	ch     *channel.Channel // nil in pass-through mode
	cycler *completion.Cycler

	history      []string
	historyLimit int
	store        HistoryStore

	pasteMode bool
	pasteBuf  []string

	views map[string]pendingView

	currentID string
	lastError error
}

// New creates a session controller. The transport variant is fixed
// here, once, for the session's lifetime.
func New(opts Options) *Controller {
	if opts.Mode == "" {
		opts.Mode = ModeShell
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 500
	}

	c := &Controller{
		id:           uuid.NewString(),
		mode:         opts.Mode,
		transport:    opts.Transport,
		state:        StateAwaitingRuntime,
		historyLimit: opts.HistoryLimit,
		store:        opts.History,
		views:        make(map[string]pendingView),
	}
	if direct, ok := opts.Transport.(Direct); ok {
		c.ch = direct.Channel
	}
	if opts.Bridge != nil {
		c.cycler = completion.NewCycler(opts.Bridge)
	}
	if c.store != nil {
		if lines, err := c.store.Recent(opts.HistoryLimit); err == nil {
			c.history = lines
		} else {
			logging.Get(logging.CategoryHistory).Warn("loading history: %v", err)
		}
	}

	logging.Session("session %s created (mode=%s transport=%s)", c.id, c.mode, opts.Transport.transportName())
	return c
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// State returns the current FSM state.
func (c *Controller) State() State { return c.state }

// Mode returns the session mode.
func (c *Controller) Mode() Mode { return c.mode }

// TransportName reports the immutable transport choice.
func (c *Controller) TransportName() string { return c.transport.transportName() }

// PassThrough returns the pty process for pass-through sessions, nil
// otherwise.
func (c *Controller) PassThrough() *PTYProcess {
	if pt, ok := c.transport.(PassThrough); ok {
		return pt.Proc
	}
	return nil
}

// History returns the submitted-line history, oldest first.
func (c *Controller) History() []string { return c.history }

// InPasteMode reports whether the paste minor mode is active.
func (c *Controller) InPasteMode() bool { return c.pasteMode }

// setState performs a guarded FSM transition.
func (c *Controller) setState(next State) {
	if c.state == next {
		return
	}
	logging.SessionDebug("session %s: %s -> %s", c.id, c.state, next)
	c.state = next
}

// HandleProgress renders a runtime-provisioning progress event. Only
// meaningful while awaiting the runtime; otherwise it is dropped.
func (c *Controller) HandleProgress(ev protocol.ProgressEvent) (string, bool) {
	if c.state != StateAwaitingRuntime {
		return "", false
	}
	return fmt.Sprintf("[%3d%%] %s", ev.Progress, ev.Message), true
}

// HandleReady moves the session to idle on the external readiness
// signal. A ready signal in any other state is ignored.
func (c *Controller) HandleReady() bool {
	if c.state != StateAwaitingRuntime {
		return false
	}
	c.setState(StateIdle)
	return true
}

// Fail records an unrecoverable channel fault: any state -> error.
func (c *Controller) Fail(err error) {
	c.lastError = err
	c.setState(StateError)
	logging.Get(logging.CategorySession).Error("session %s failed: %v", c.id, err)
}

// LastError returns the fault that put the session into error state.
func (c *Controller) LastError() error { return c.lastError }

// Restart leaves the error state on the explicit restart signal.
func (c *Controller) Restart() bool {
	if c.state != StateError {
		return false
	}
	c.lastError = nil
	c.setState(StateIdle)
	return true
}

// Submit processes one input line. In paste mode the line is buffered
// and nothing is dispatched. Otherwise a non-empty line is classified
// as a structured slash command or a plain REPL line and issued over
// the channel; the session moves to executing until Resolve is called
// with the dispatch's outcome.
func (c *Controller) Submit(line string) (*Dispatch, error) {
	if c.pasteMode {
		c.pasteBuf = append(c.pasteBuf, line)
		return nil, nil
	}

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, nil
	}

	switch c.state {
	case StateExecuting:
		return nil, ErrBusy
	case StateIdle:
	default:
		return nil, ErrNotAcceptingInput
	}

	c.recordHistory(trimmed)

	if strings.HasPrefix(trimmed, "/") {
		return c.submitCommand(trimmed)
	}
	return c.submitCode(trimmed, protocol.ModeREPL)
}

// submitCode issues an execute envelope for a REPL line or buffer.
func (c *Controller) submitCode(code string, mode protocol.ExecMode) (*Dispatch, error) {
	if c.ch == nil {
		return nil, fmt.Errorf("structured execution unavailable on %s transport", c.TransportName())
	}

	id, outcome, err := c.ch.Issue(channel.KindExecute, protocol.TypeExecute, protocol.ExecutePayload{
		Code:                     code,
		Mode:                     mode,
		EnableHardwareMonitoring: true,
	})
	if err != nil {
		return nil, err
	}

	c.views[id] = pendingView{kind: channel.KindExecute, view: "execute"}
	c.currentID = id
	c.setState(StateExecuting)
	return &Dispatch{ID: id, Kind: channel.KindExecute, Outcome: outcome}, nil
}

// SubmitBuffer runs a whole buffer in file mode (used by paste mode
// close and the one-shot exec path).
func (c *Controller) SubmitBuffer(code string) (*Dispatch, error) {
	if strings.TrimSpace(code) == "" {
		return nil, nil
	}
	if c.state != StateIdle {
		return nil, ErrNotAcceptingInput
	}
	c.recordHistory(code)
	return c.submitCode(code, protocol.ModeFile)
}

// Resolve consumes a command outcome. If it matches the in-flight
// command the session returns to idle; outcomes for background
// commands (soft-restart resets, stale ids) are rendered without a
// state change.
func (c *Controller) Resolve(id string, outcome channel.Outcome) Result {
	pv := c.views[id]
	delete(c.views, id)

	if c.state == StateExecuting && id == c.currentID {
		c.currentID = ""
		c.setState(StateIdle)
	}
	return c.render(pv, outcome)
}

// Interrupt handles the session-wide interrupt signal: the entire
// pending set is cleared locally and the session is forced to idle.
// The worker is not told; a response for an in-flight command may still
// arrive later and will be dropped as unmatched.
func (c *Controller) Interrupt() protocol.Signal {
	sig := newSignal(protocol.SignalInterrupt)

	if c.ch != nil {
		c.ch.InterruptAll()
	}
	c.currentID = ""
	c.pasteMode = false
	c.pasteBuf = nil
	if c.state != StateError {
		c.setState(StateIdle)
	}

	logging.Session("session %s interrupted", c.id)
	return sig
}

// SoftRestart clears the pending set, asks the worker to reset, and
// forces the session to idle. The reset's own outcome arrives as a
// background resolution.
func (c *Controller) SoftRestart() (*Dispatch, protocol.Signal, error) {
	sig := newSignal(protocol.SignalSoftRestart)

	if c.ch != nil {
		c.ch.InterruptAll()
	}
	c.currentID = ""
	if c.state != StateError {
		c.setState(StateIdle)
	}

	if c.ch == nil {
		return nil, sig, nil
	}
	id, outcome, err := c.ch.Issue(channel.KindControl, protocol.TypeReset, nil)
	if err != nil {
		return nil, sig, err
	}
	c.views[id] = pendingView{kind: channel.KindControl, view: "reset"}

	logging.Session("session %s soft-restarted", c.id)
	return &Dispatch{ID: id, Kind: channel.KindControl, Outcome: outcome}, sig, nil
}

// EnterPasteMode starts the paste minor mode. It buffers lines without
// touching the main FSM.
func (c *Controller) EnterPasteMode() protocol.Signal {
	c.pasteMode = true
	c.pasteBuf = nil
	return newSignal(protocol.SignalPasteModeEnter)
}

// ClosePasteMode leaves paste mode and submits the accumulated buffer
// as one file-mode execution. Returns nil when the buffer was empty.
func (c *Controller) ClosePasteMode() (*Dispatch, error) {
	if !c.pasteMode {
		return nil, nil
	}
	c.pasteMode = false
	buf := strings.Join(c.pasteBuf, "\n")
	c.pasteBuf = nil
	return c.SubmitBuffer(buf)
}

// CompleteNext advances the completion cycle for the given input.
func (c *Controller) CompleteNext(ctx context.Context, input string, cursor int) (string, bool) {
	if c.cycler == nil {
		return input, false
	}
	return c.cycler.Next(ctx, input, cursor)
}

// CompleteReset abandons the completion cycle; call on any keystroke
// that is not the completion key.
func (c *Controller) CompleteReset() {
	if c.cycler != nil {
		c.cycler.Reset()
	}
}

// Dispose releases the session's transport resources.
func (c *Controller) Dispose() error {
	logging.Session("session %s disposed", c.id)
	if c.ch != nil {
		return c.ch.Close()
	}
	if pt := c.PassThrough(); pt != nil {
		return pt.Close()
	}
	return nil
}

func (c *Controller) recordHistory(line string) {
	c.history = append(c.history, line)
	if len(c.history) > c.historyLimit {
		c.history = c.history[len(c.history)-c.historyLimit:]
	}
	if c.store != nil {
		if err := c.store.Append(c.id, line); err != nil {
			logging.Get(logging.CategoryHistory).Warn("appending history: %v", err)
		}
	}
}

func newSignal(kind protocol.SignalKind) protocol.Signal {
	return protocol.Signal{Kind: kind, ID: uuid.NewString(), Timestamp: time.Now()}
}
