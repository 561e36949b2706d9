package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circuitshell/internal/channel"
	"circuitshell/internal/protocol"
)

// recordingTransport is an in-memory channel.Transport that records
// requests and lets tests inject responses.
type recordingTransport struct {
	mu         sync.Mutex
	sent       []protocol.Request
	onResponse func(protocol.Response)
}

func (t *recordingTransport) Start(ctx context.Context, onResponse func(protocol.Response), onFault func(error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onResponse = onResponse
	return nil
}

func (t *recordingTransport) Send(req protocol.Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, req)
	return nil
}

func (t *recordingTransport) Close() error { return nil }

func (t *recordingTransport) lastSent(tb testing.TB) protocol.Request {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		tb.Fatal("no request was sent")
	}
	return t.sent[len(t.sent)-1]
}

func (t *recordingTransport) deliver(resp protocol.Response) {
	t.mu.Lock()
	fn := t.onResponse
	t.mu.Unlock()
	fn(resp)
}

func newTestController(t *testing.T) (*Controller, *recordingTransport) {
	t.Helper()

	tr := &recordingTransport{}
	ch := channel.New(tr, channel.Options{SweepInterval: time.Hour})
	require.NoError(t, ch.Start(context.Background()))
	t.Cleanup(func() { _ = ch.Close() })

	c := New(Options{Transport: Direct{Channel: ch}})
	c.HandleReady()
	return c, tr
}

func executeResult(t *testing.T, output string) json.RawMessage {
	t.Helper()
	raw, err := protocol.MarshalPayload(protocol.ExecuteResult{Output: output, Mode: protocol.ModeREPL})
	require.NoError(t, err)
	return raw
}

func TestSubmitRejectedBeforeRuntimeReady(t *testing.T) {
	tr := &recordingTransport{}
	ch := channel.New(tr, channel.Options{SweepInterval: time.Hour})
	require.NoError(t, ch.Start(context.Background()))
	t.Cleanup(func() { _ = ch.Close() })

	c := New(Options{Transport: Direct{Channel: ch}})
	require.Equal(t, StateAwaitingRuntime, c.State())

	_, err := c.Submit("1 + 2")
	assert.ErrorIs(t, err, ErrNotAcceptingInput)

	require.True(t, c.HandleReady())
	assert.Equal(t, StateIdle, c.State())
	assert.False(t, c.HandleReady(), "duplicate readiness should be ignored")
}

func TestProgressOnlyWhileAwaitingRuntime(t *testing.T) {
	c, _ := newTestController(t)

	_, shown := c.HandleProgress(protocol.ProgressEvent{Progress: 50, Message: "loading"})
	assert.False(t, shown, "progress after readiness should be dropped")
}

func TestSubmitExecutesAndResolves(t *testing.T) {
	c, tr := newTestController(t)

	d, err := c.Submit("1 + 2")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, StateExecuting, c.State())

	req := tr.lastSent(t)
	assert.Equal(t, protocol.TypeExecute, req.Type)
	assert.Equal(t, d.ID, req.ID)

	var payload protocol.ExecutePayload
	require.NoError(t, json.Unmarshal(req.Payload, &payload))
	assert.Equal(t, "1 + 2", payload.Code)
	assert.Equal(t, protocol.ModeREPL, payload.Mode)
	assert.True(t, payload.EnableHardwareMonitoring)

	tr.deliver(protocol.Response{ID: d.ID, Success: true, Result: executeResult(t, "3\n")})

	outcome := <-d.Outcome
	res := c.Resolve(d.ID, outcome)
	assert.Equal(t, StateIdle, c.State())
	assert.False(t, res.IsError)
	assert.Equal(t, "3", res.Text)
}

func TestSubmitWhileExecutingReturnsErrBusy(t *testing.T) {
	c, _ := newTestController(t)

	_, err := c.Submit("for {}")
	require.NoError(t, err)

	_, err = c.Submit("1 + 2")
	assert.ErrorIs(t, err, ErrBusy)
}

func TestExecuteFailureShowsPartialOutput(t *testing.T) {
	c, tr := newTestController(t)

	d, err := c.Submit("doomed()")
	require.NoError(t, err)

	raw, merr := protocol.MarshalPayload(protocol.ExecuteResult{Output: "partial", Error: "boom"})
	require.NoError(t, merr)
	tr.deliver(protocol.Response{ID: d.ID, Success: false, Error: "boom", Result: raw})

	res := c.Resolve(d.ID, <-d.Outcome)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text, "partial")
	assert.Contains(t, res.Text, "boom")
	assert.Equal(t, StateIdle, c.State())
}

func TestLocalCommandsNeedNoRoundTrip(t *testing.T) {
	c, tr := newTestController(t)

	for _, line := range []string{"/help", "/mode", "/history"} {
		d, err := c.Submit(line)
		require.NoError(t, err, line)
		require.NotNil(t, d, line)
		assert.NotEmpty(t, d.Local, line)
		assert.Nil(t, d.Outcome, line)
		assert.Equal(t, StateIdle, c.State(), line)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Empty(t, tr.sent, "local commands must not reach the worker")
}

func TestUnknownCommandRejected(t *testing.T) {
	c, _ := newTestController(t)

	_, err := c.Submit("/frobnicate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/frobnicate")
	assert.Equal(t, StateIdle, c.State())
}

func TestPinsCommandRendersSnapshot(t *testing.T) {
	c, tr := newTestController(t)

	d, err := c.Submit("/pins")
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeHardwareQuery, tr.lastSent(t).Type)

	snap := &protocol.HardwareSnapshot{
		Pins: map[int]protocol.PinState{
			13: {Pin: 13, Mode: "output", Value: true},
			0:  {Pin: 0, Mode: "input", Value: false},
		},
		Timestamp: time.Now(),
	}
	tr.deliver(protocol.Response{ID: d.ID, Success: true, HardwareSnapshot: snap})

	res := c.Resolve(d.ID, <-d.Outcome)
	require.False(t, res.IsError)
	lines := strings.Split(res.Text, "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "D0")
	assert.Contains(t, lines[2], "D13")
	assert.Contains(t, lines[2], "high")
}

func TestParseSetArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(t *testing.T, p protocol.HardwareSetPayload)
	}{
		{
			name: "pin high",
			args: []string{"pin", "13", "high"},
			check: func(t *testing.T, p protocol.HardwareSetPayload) {
				require.Len(t, p.Pins, 1)
				assert.Equal(t, 13, p.Pins[0].Pin)
				assert.True(t, p.Pins[0].Value)
			},
		},
		{
			name: "pin with D prefix",
			args: []string{"pin", "D4", "low"},
			check: func(t *testing.T, p protocol.HardwareSetPayload) {
				require.Len(t, p.Pins, 1)
				assert.Equal(t, 4, p.Pins[0].Pin)
				assert.False(t, p.Pins[0].Value)
			},
		},
		{
			name: "sensor value",
			args: []string{"sensor", "temp0", "37.5"},
			check: func(t *testing.T, p protocol.HardwareSetPayload) {
				require.Len(t, p.Sensors, 1)
				assert.Equal(t, "temp0", p.Sensors[0].ID)
				assert.Equal(t, 37.5, p.Sensors[0].Value)
			},
		},
		{name: "missing args", args: []string{"pin", "3"}, wantErr: true},
		{name: "bad target", args: []string{"servo", "1", "90"}, wantErr: true},
		{name: "bad pin value", args: []string{"pin", "3", "spin"}, wantErr: true},
		{name: "bad sensor value", args: []string{"sensor", "temp0", "hot"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := parseSetArgs(tc.args)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.check(t, p)
		})
	}
}

func TestInterruptClearsPendingAndForcesIdle(t *testing.T) {
	c, _ := newTestController(t)

	d, err := c.Submit("for {}")
	require.NoError(t, err)
	require.Equal(t, StateExecuting, c.State())

	sig := c.Interrupt()
	assert.Equal(t, protocol.SignalInterrupt, sig.Kind)
	assert.Equal(t, StateIdle, c.State())

	outcome := <-d.Outcome
	require.Error(t, outcome.Err)
	assert.True(t, protocol.IsInterrupted(outcome.Err))

	res := c.Resolve(d.ID, outcome)
	assert.True(t, res.IsError)
	assert.Equal(t, "interrupted", res.Text)
}

func TestSoftRestartIssuesResetAndForcesIdle(t *testing.T) {
	c, tr := newTestController(t)

	_, err := c.Submit("for {}")
	require.NoError(t, err)

	d, sig, err := c.SoftRestart()
	require.NoError(t, err)
	assert.Equal(t, protocol.SignalSoftRestart, sig.Kind)
	assert.Equal(t, StateIdle, c.State())
	require.NotNil(t, d)

	req := tr.lastSent(t)
	assert.Equal(t, protocol.TypeReset, req.Type)
	assert.Equal(t, d.ID, req.ID)

	// The reset resolves in the background without a state change.
	tr.deliver(protocol.Response{ID: d.ID, Success: true})
	res := c.Resolve(d.ID, <-d.Outcome)
	assert.False(t, res.IsError)
	assert.Equal(t, StateIdle, c.State())
}

func TestPasteModeBuffersThenRunsAsFile(t *testing.T) {
	c, tr := newTestController(t)

	sig := c.EnterPasteMode()
	assert.Equal(t, protocol.SignalPasteModeEnter, sig.Kind)
	require.True(t, c.InPasteMode())

	for _, line := range []string{"a := 2", "b := 3", "a + b"} {
		d, err := c.Submit(line)
		require.NoError(t, err)
		assert.Nil(t, d, "buffered lines must not dispatch")
	}
	assert.Equal(t, StateIdle, c.State())

	d, err := c.ClosePasteMode()
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.False(t, c.InPasteMode())
	assert.Equal(t, StateExecuting, c.State())

	var payload protocol.ExecutePayload
	require.NoError(t, json.Unmarshal(tr.lastSent(t).Payload, &payload))
	assert.Equal(t, protocol.ModeFile, payload.Mode)
	assert.Equal(t, "a := 2\nb := 3\na + b", payload.Code)
}

func TestClosePasteModeWithEmptyBufferIsNoop(t *testing.T) {
	c, tr := newTestController(t)

	c.EnterPasteMode()
	d, err := c.ClosePasteMode()
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.Equal(t, StateIdle, c.State())

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Empty(t, tr.sent)
}

func TestInterruptAbandonsPasteBuffer(t *testing.T) {
	c, _ := newTestController(t)

	c.EnterPasteMode()
	_, err := c.Submit("doomed := true")
	require.NoError(t, err)

	c.Interrupt()
	assert.False(t, c.InPasteMode())

	d, err := c.ClosePasteMode()
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestErrorStateOnlyLeavesViaRestart(t *testing.T) {
	c, _ := newTestController(t)

	c.Fail(protocol.ErrChannelClosed)
	require.Equal(t, StateError, c.State())
	assert.Error(t, c.LastError())

	_, err := c.Submit("1 + 2")
	assert.ErrorIs(t, err, ErrNotAcceptingInput)

	c.Interrupt()
	assert.Equal(t, StateError, c.State(), "interrupt must not clear the error state")

	require.True(t, c.Restart())
	assert.Equal(t, StateIdle, c.State())
	assert.NoError(t, c.LastError())
	assert.False(t, c.Restart(), "restart outside error state is a no-op")
}

func TestHistoryRecordsAndTrims(t *testing.T) {
	tr := &recordingTransport{}
	ch := channel.New(tr, channel.Options{SweepInterval: time.Hour})
	require.NoError(t, ch.Start(context.Background()))
	t.Cleanup(func() { _ = ch.Close() })

	c := New(Options{Transport: Direct{Channel: ch}, HistoryLimit: 3})
	c.HandleReady()

	for _, line := range []string{"one", "two", "three", "four"} {
		d, err := c.Submit(line)
		require.NoError(t, err)
		tr.deliver(protocol.Response{ID: d.ID, Success: true, Result: executeResult(t, "")})
		c.Resolve(d.ID, <-d.Outcome)
	}

	assert.Equal(t, []string{"two", "three", "four"}, c.History())

	d, err := c.Submit("/history")
	require.NoError(t, err)
	assert.Contains(t, d.Local, "four")
	assert.NotContains(t, d.Local, "one")
}

func TestRenderErrorClassification(t *testing.T) {
	timeout := renderError(&protocol.TimeoutError{CommandID: "x", Deadline: time.Now()})
	assert.True(t, timeout.IsError)
	assert.Contains(t, timeout.Text, "timed out")

	init := renderError(&protocol.InitializationError{Reason: "heap too small"})
	assert.True(t, init.IsError)
	assert.True(t, init.InitFailure)
	assert.Contains(t, init.Text, "heap too small")
}

func TestTransportIsImmutablePerSession(t *testing.T) {
	c, _ := newTestController(t)
	assert.Equal(t, "direct", c.TransportName())
	assert.Nil(t, c.PassThrough())
}
