package session

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"circuitshell/internal/channel"
	"circuitshell/internal/logging"
)

// Transport is the immutable tagged variant chosen exactly once at
// session construction: structured envelopes through a worker channel,
// or raw keystrokes into an externally managed terminal process. It is
// never re-evaluated mid-session.
type Transport interface {
	transportName() string
}

// Direct exchanges structured commands with the worker through the
// host-owned channel.
type Direct struct {
	Channel *channel.Channel
}

func (Direct) transportName() string { return "direct" }

// PassThrough forwards raw keystrokes to an external terminal process
// running on a pty, bypassing the envelope protocol entirely.
type PassThrough struct {
	Proc *PTYProcess
}

func (PassThrough) transportName() string { return "pass-through" }

// PTYProcess wraps an externally managed process on a pseudo-terminal.
type PTYProcess struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu     sync.Mutex
	closed bool

	output chan []byte
}

// StartPTY launches command under a pty and begins draining its output.
func StartPTY(command string, args ...string) (*PTYProcess, error) {
	cmd := exec.Command(command, args...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("starting pty process %s: %w", command, err)
	}

	p := &PTYProcess{
		cmd:    cmd,
		ptmx:   ptmx,
		output: make(chan []byte, 64),
	}

	go func() {
		defer close(p.output)
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				p.output <- chunk
			}
			if err != nil {
				return
			}
		}
	}()

	logging.Session("pass-through process started: %s (pid %d)", command, cmd.Process.Pid)
	return p, nil
}

// Write forwards raw bytes (keystrokes) to the process.
func (p *PTYProcess) Write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("pty process closed")
	}
	_, err := p.ptmx.Write(b)
	return err
}

// Output yields process output chunks; closed when the process exits.
func (p *PTYProcess) Output() <-chan []byte { return p.output }

// Resize propagates terminal size changes to the pty.
func (p *PTYProcess) Resize(rows, cols int) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Close terminates the process and releases the pty.
func (p *PTYProcess) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	_ = p.ptmx.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return p.cmd.Wait()
}
