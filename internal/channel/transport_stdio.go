package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"circuitshell/internal/logging"
	"circuitshell/internal/protocol"
)

// StdioTransport runs the worker as a subprocess and exchanges
// newline-delimited JSON envelopes over its stdin/stdout. The worker's
// stderr is forwarded to the worker log category so structured worker
// logs never mix into the protocol stream.
type StdioTransport struct {
	command string
	args    []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	started bool
	closed  bool

	wg sync.WaitGroup
}

// NewStdioTransport creates a transport that will spawn command args...
// on Start. Typically this is the host binary itself with the "worker"
// subcommand.
func NewStdioTransport(command string, args ...string) *StdioTransport {
	return &StdioTransport{command: command, args: args}
}

// Start launches the worker process and its reader goroutines.
func (t *StdioTransport) Start(ctx context.Context, onResponse func(protocol.Response), onFault func(error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("stdio transport already started")
	}

	cmd := exec.CommandContext(ctx, t.command, t.args...)

	var err error
	if t.stdin, err = cmd.StdinPipe(); err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if t.stdout, err = cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if t.stderr, err = cmd.StderrPipe(); err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting worker %s: %w", t.command, err)
	}

	t.cmd = cmd
	t.started = true
	logging.Get(logging.CategoryWorker).Info("worker process started: %s (pid %d)", t.command, cmd.Process.Pid)

	t.wg.Add(2)
	go t.readStderr()
	go t.readStdout(onResponse)

	// Reap the process; an exit while the transport is live is an
	// unrecoverable channel fault.
	go func() {
		waitErr := cmd.Wait()
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		if waitErr == nil {
			waitErr = fmt.Errorf("worker process exited")
		}
		onFault(waitErr)
	}()

	return nil
}

// Send writes one request envelope as a JSON line.
func (t *StdioTransport) Send(req protocol.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.closed {
		return protocol.ErrChannelClosed
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing to worker stdin: %w", err)
	}
	return nil
}

// Close terminates the worker process.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed || !t.started {
		t.closed = true
		t.mu.Unlock()
		return nil
	}
	t.closed = true

	// Closing stdin asks the worker loop to exit on its own; the kill
	// is the backstop for a wedged interpreter.
	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	t.mu.Unlock()

	t.wg.Wait()
	logging.Get(logging.CategoryWorker).Info("worker process stopped")
	return nil
}

func (t *StdioTransport) readStdout(onResponse func(protocol.Response)) {
	defer t.wg.Done()

	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp protocol.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			// Malformed frames are a ProtocolError: logged, ignored.
			logging.Get(logging.CategoryChannel).Warn("malformed response frame: %v", err)
			continue
		}
		onResponse(resp)
	}
}

func (t *StdioTransport) readStderr() {
	defer t.wg.Done()

	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		logging.Get(logging.CategoryWorker).Info("[worker] %s", scanner.Text())
	}
}

var _ Transport = (*StdioTransport)(nil)
