package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"circuitshell/internal/logging"
	"circuitshell/internal/protocol"
	"circuitshell/internal/worker"
)

// PipeTransport hosts a worker in-process over an io.Pipe pair. It
// serves the one-shot exec path and tests, where spawning a subprocess
// buys nothing; the envelope discipline is identical to stdio.
type PipeTransport struct {
	worker *worker.Worker

	mu      sync.Mutex
	reqW    *io.PipeWriter
	started bool
	closed  bool

	g    *errgroup.Group
	done chan struct{}
}

// NewPipeTransport wraps an in-process worker.
func NewPipeTransport(w *worker.Worker) *PipeTransport {
	return &PipeTransport{worker: w}
}

// Start wires the worker's serve loop to in-memory pipes.
func (t *PipeTransport) Start(ctx context.Context, onResponse func(protocol.Response), onFault func(error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("pipe transport already started")
	}

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	t.reqW = reqW
	t.started = true
	t.done = make(chan struct{})

	t.g = &errgroup.Group{}

	t.g.Go(func() error {
		err := t.worker.Serve(ctx, reqR, respW)
		_ = respW.Close()
		if err == nil {
			err = fmt.Errorf("in-process worker exited")
		}
		return err
	})

	t.g.Go(func() error {
		scanner := bufio.NewScanner(respR)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			var resp protocol.Response
			if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
				logging.Get(logging.CategoryChannel).Warn("malformed response frame: %v", err)
				continue
			}
			onResponse(resp)
		}
		_ = respR.Close()
		return nil
	})

	// Fault once when the endpoints stop, unless Close did it.
	go func() {
		err := t.g.Wait()
		close(t.done)
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if !closed {
			onFault(err)
		}
	}()

	return nil
}

// Send writes one request envelope to the worker's pipe.
func (t *PipeTransport) Send(req protocol.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.closed {
		return protocol.ErrChannelClosed
	}
	if _, err := t.reqW.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}
	return nil
}

// Close shuts the worker loop down by closing its request stream.
func (t *PipeTransport) Close() error {
	t.mu.Lock()
	if t.closed || !t.started {
		t.closed = true
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	reqW := t.reqW
	t.mu.Unlock()

	_ = reqW.Close()
	<-t.done
	return nil
}

var _ Transport = (*PipeTransport)(nil)
