package worker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circuitshell/internal/protocol"
)

func TestExecuteBeforeInitializeFailsFast(t *testing.T) {
	r := NewRuntime(nil, nil)

	_, err := r.Execute("2+3", protocol.ModeREPL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrNotInitialized))
}

func TestRuntimeResetGivesCleanNamespace(t *testing.T) {
	r := NewRuntime(nil, nil)
	require.NoError(t, r.Initialize(0))

	_, err := r.Execute("leftover := 99", protocol.ModeREPL)
	require.NoError(t, err)

	require.NoError(t, r.Reset())

	// The binding from before the reset must be gone.
	_, err = r.Execute("leftover", protocol.ModeREPL)
	require.Error(t, err)

	// But the board prelude is back.
	out, err := r.Execute("board.LED", protocol.ModeREPL)
	require.NoError(t, err)
	assert.Contains(t, out, "13")
}

func TestRuntimeReplEchoesExpressionValues(t *testing.T) {
	r := NewRuntime(nil, nil)
	require.NoError(t, r.Initialize(0))

	out, err := r.Execute("6 * 7", protocol.ModeREPL)
	require.NoError(t, err)
	assert.Contains(t, out, "42")
}

func TestRuntimeExecutionErrorCarriesReason(t *testing.T) {
	r := NewRuntime(nil, nil)
	require.NoError(t, r.Initialize(0))

	_, err := r.Execute("undefinedThing", protocol.ModeREPL)
	require.Error(t, err)

	var execErr *protocol.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.NotEmpty(t, execErr.Reason)
}

func TestRuntimeHeapSizeAdvisoryDefault(t *testing.T) {
	r := NewRuntime(nil, nil)
	require.NoError(t, r.Initialize(0))
	assert.Equal(t, DefaultHeapSizeBytes, r.HeapSizeBytes())

	r2 := NewRuntime(nil, nil)
	require.NoError(t, r2.Initialize(512*1024))
	assert.Equal(t, 512*1024, r2.HeapSizeBytes())
}

func TestIsParseErrorClassification(t *testing.T) {
	// Parse rejections may be retried with repl framing; runtime faults
	// must not be, since the buffer may already have had side effects.
	assert.True(t, isParseError(errors.New("1:5: expected ';', found ':'")))
	assert.True(t, isParseError(errors.New("syntax error near token")))
	assert.False(t, isParseError(errors.New("1:1: undefined: foo")))
	assert.False(t, isParseError(errors.New("runtime error: index out of range")))
}
