package shell

import (
	"context"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circuitshell/internal/channel"
	"circuitshell/internal/protocol"
	"circuitshell/internal/session"
)

type stubTransport struct {
	mu         sync.Mutex
	sent       []protocol.Request
	onResponse func(protocol.Response)
}

func (t *stubTransport) Start(ctx context.Context, onResponse func(protocol.Response), onFault func(error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onResponse = onResponse
	return nil
}

func (t *stubTransport) Send(req protocol.Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, req)
	return nil
}

func (t *stubTransport) Close() error { return nil }

func newTestModel(t *testing.T) (Model, *stubTransport) {
	t.Helper()

	tr := &stubTransport{}
	ch := channel.New(tr, channel.Options{SweepInterval: time.Hour})
	require.NoError(t, ch.Start(context.Background()))
	t.Cleanup(func() { _ = ch.Close() })

	ctrl := session.New(session.Options{Transport: session.Direct{Channel: ch}})
	ctrl.HandleReady()

	m := New(Options{Controller: ctrl, Channel: ch})
	sized, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return sized.(Model), tr
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestProgressShownOnlyWhileAwaitingRuntime(t *testing.T) {
	tr := &stubTransport{}
	ch := channel.New(tr, channel.Options{SweepInterval: time.Hour})
	require.NoError(t, ch.Start(context.Background()))
	t.Cleanup(func() { _ = ch.Close() })

	ctrl := session.New(session.Options{Transport: session.Direct{Channel: ch}})
	m := New(Options{Controller: ctrl, Channel: ch})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m = next.(Model)

	next, _ = m.Update(progressMsg{Progress: 40, Message: "waiting for runtime"})
	m = next.(Model)
	last := m.transcript[len(m.transcript)-1]
	assert.Equal(t, entryInfo, last.kind)
	assert.Equal(t, "[ 40%] waiting for runtime", last.text)

	// Once ready, stray progress updates are dropped.
	next, _ = m.Update(readyMsg{resp: protocol.Response{ID: protocol.InitResponseID, Success: true}})
	m = next.(Model)
	before := len(m.transcript)
	next, _ = m.Update(progressMsg{Progress: 100, Message: "runtime ready"})
	m = next.(Model)
	assert.Len(t, m.transcript, before)
}

func TestSubmitAppendsUserLineAndDispatches(t *testing.T) {
	m, tr := newTestModel(t)

	m.input.SetValue("1 + 2")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)

	require.NotNil(t, cmd, "a dispatched line must produce an outcome command")
	assert.Equal(t, session.StateExecuting, m.ctrl.State())

	tr.mu.Lock()
	require.Len(t, tr.sent, 1)
	tr.mu.Unlock()

	last := m.transcript[len(m.transcript)-1]
	assert.Equal(t, entryUser, last.kind)
	assert.Equal(t, ">>> 1 + 2", last.text)
	assert.Empty(t, m.input.Value(), "input clears on submit")
}

func TestHelpRendersLocally(t *testing.T) {
	m, tr := newTestModel(t)

	m.input.SetValue("/help")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)

	assert.Nil(t, cmd, "local commands need no outcome command")
	assert.Equal(t, session.StateIdle, m.ctrl.State())

	tr.mu.Lock()
	assert.Empty(t, tr.sent)
	tr.mu.Unlock()

	last := m.transcript[len(m.transcript)-1]
	assert.Equal(t, entryMarkdown, last.kind)
}

func TestOutcomeMsgResolvesAndRendersOutput(t *testing.T) {
	m, tr := newTestModel(t)

	m.input.SetValue("6 * 7")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)

	tr.mu.Lock()
	require.NotEmpty(t, tr.sent)
	id := tr.sent[len(tr.sent)-1].ID
	tr.mu.Unlock()

	raw, err := protocol.MarshalPayload(protocol.ExecuteResult{Output: "42\n"})
	require.NoError(t, err)

	next, _ = m.Update(outcomeMsg{
		id:      id,
		outcome: channel.Outcome{Response: protocol.Response{ID: id, Success: true, Result: raw}},
	})
	m = next.(Model)

	assert.Equal(t, session.StateIdle, m.ctrl.State())
	last := m.transcript[len(m.transcript)-1]
	assert.Equal(t, entryOutput, last.kind)
	assert.Equal(t, "42", last.text)
}

func TestCtrlCOnEmptyIdlePromptQuits(t *testing.T) {
	m, _ := newTestModel(t)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = next.(Model)

	assert.True(t, m.quitting)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestCtrlCWhileExecutingInterrupts(t *testing.T) {
	m, _ := newTestModel(t)

	m.input.SetValue("for {}")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.Equal(t, session.StateExecuting, m.ctrl.State())

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = next.(Model)

	assert.False(t, m.quitting)
	assert.Equal(t, session.StateIdle, m.ctrl.State())
	assert.Equal(t, "^C", m.transcript[len(m.transcript)-1].text)
}

func TestPasteModeRoundTrip(t *testing.T) {
	m, tr := newTestModel(t)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlE})
	m = next.(Model)
	require.True(t, m.ctrl.InPasteMode())
	assert.Equal(t, "... ", m.input.Prompt)

	for _, line := range []string{"a := 2", "a + 3"} {
		m.input.SetValue(line)
		next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		m = next.(Model)
	}

	tr.mu.Lock()
	assert.Empty(t, tr.sent, "buffered lines must not dispatch")
	tr.mu.Unlock()

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlD})
	m = next.(Model)
	assert.False(t, m.ctrl.InPasteMode())
	assert.Equal(t, ">>> ", m.input.Prompt)
	require.NotNil(t, cmd)

	tr.mu.Lock()
	require.Len(t, tr.sent, 1)
	tr.mu.Unlock()
}

func TestHistoryNavigationRecallsLines(t *testing.T) {
	m, tr := newTestModel(t)

	for _, line := range []string{"first", "second"} {
		m.input.SetValue(line)
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		m = next.(Model)

		tr.mu.Lock()
		id := tr.sent[len(tr.sent)-1].ID
		deliver := tr.onResponse
		tr.mu.Unlock()
		deliver(protocol.Response{ID: id, Success: true})
		m.ctrl.Resolve(id, channel.Outcome{Response: protocol.Response{ID: id, Success: true}})
	}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(Model)
	assert.Equal(t, "second", m.input.Value())

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(Model)
	assert.Equal(t, "first", m.input.Value())

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, "second", m.input.Value())
}

func TestTypingAfterTabResetsCompletion(t *testing.T) {
	m, _ := newTestModel(t)

	m.input.SetValue("board.LE")
	m.input.CursorEnd()
	next, _ := m.Update(keyRunes("D"))
	m = next.(Model)
	assert.Equal(t, "board.LED", m.input.Value())
}
