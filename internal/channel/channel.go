// Package channel provides the duplex message channel between a
// session controller and a runtime worker: typed envelopes over a
// pluggable transport, a correlation table mapping ids to pending
// result slots, a periodic timeout sweep, and session-wide interrupt.
package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"circuitshell/internal/logging"
	"circuitshell/internal/protocol"
)

// CommandKind classifies a pending command for diagnostics.
type CommandKind string

const (
	KindExecute   CommandKind = "execute"
	KindQuery     CommandKind = "query"
	KindReset     CommandKind = "reset"
	KindConfigure CommandKind = "configure"
	KindHardware  CommandKind = "hardware"
	KindControl   CommandKind = "control"
)

// Timeout policy defaults.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultSweepInterval = 30 * time.Second
)

// Outcome is the terminal result of one issued command: exactly one of
// Response (resolution) or Err (rejection, timeout, interrupt) is set.
type Outcome struct {
	Response protocol.Response
	Err      error
}

// Transport moves envelopes between the channel and one worker.
type Transport interface {
	// Start begins delivery. onResponse is invoked for every inbound
	// response envelope; onFault once if the transport fails
	// unrecoverably (e.g. the worker process exits).
	Start(ctx context.Context, onResponse func(protocol.Response), onFault func(error)) error

	// Send writes one request envelope.
	Send(req protocol.Request) error

	// Close tears the transport down. Safe to call more than once.
	Close() error
}

// Options configures a Channel.
type Options struct {
	// DefaultTimeout is the deadline applied to commands issued
	// without an explicit one. Zero means DefaultTimeout.
	DefaultTimeout time.Duration

	// SweepInterval is how often expired pending commands are
	// rejected. Zero means DefaultSweepInterval.
	SweepInterval time.Duration

	// OnFault is called at most once when the transport fails
	// unrecoverably. All pending commands are rejected first.
	OnFault func(error)

	// OnProgress receives provisioning progress updates between
	// Start and the worker's init response. Must not block.
	OnProgress func(protocol.ProgressEvent)
}

// pendingCommand is one outstanding request awaiting its response.
type pendingCommand struct {
	id       string
	kind     CommandKind
	issuedAt time.Time
	deadline time.Time
	result   chan Outcome // buffered, cap 1
}

// Channel correlates requests with responses over a Transport.
type Channel struct {
	mu       sync.Mutex
	pending  map[string]*pendingCommand
	closed   bool
	faulted  bool

	// ready is closed once the init response is latched in initResp,
	// so any number of WaitReady callers observe it.
	ready    chan struct{}
	initSeen bool
	initResp protocol.Response

	transport      Transport
	defaultTimeout time.Duration
	sweepInterval  time.Duration
	onFault        func(error)
	onProgress     func(protocol.ProgressEvent)

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a channel over the given transport. Start must be called
// before issuing commands.
func New(transport Transport, opts Options) *Channel {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	return &Channel{
		pending:        make(map[string]*pendingCommand),
		ready:          make(chan struct{}),
		transport:      transport,
		defaultTimeout: opts.DefaultTimeout,
		sweepInterval:  opts.SweepInterval,
		onFault:        opts.OnFault,
		onProgress:     opts.OnProgress,
		done:           make(chan struct{}),
	}
}

// Start brings up the transport and the background timeout sweep.
func (c *Channel) Start(ctx context.Context) error {
	c.emitProgress(10, "starting worker transport")
	if err := c.transport.Start(ctx, c.handleResponse, c.handleFault); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	c.emitProgress(40, "waiting for runtime")

	c.wg.Add(1)
	go c.sweepLoop()
	return nil
}

func (c *Channel) emitProgress(pct int, msg string) {
	if c.onProgress != nil {
		c.onProgress(protocol.ProgressEvent{Progress: pct, Message: msg})
	}
}

// WaitReady blocks until the worker's distinguished "init" response
// arrives, the context expires, or the channel closes. The response
// is latched, so concurrent and late callers all observe it.
func (c *Channel) WaitReady(ctx context.Context) (protocol.Response, error) {
	select {
	case <-c.ready:
	case <-c.done:
		return protocol.Response{}, protocol.ErrChannelClosed
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	}

	c.mu.Lock()
	resp := c.initResp
	c.mu.Unlock()
	if !resp.Success {
		return resp, &protocol.InitializationError{Reason: resp.Error}
	}
	return resp, nil
}

// Issue sends a command with the default deadline. It returns the fresh
// correlation id and a buffered channel that will receive exactly one
// Outcome; the caller never blocks on issuance.
func (c *Channel) Issue(kind CommandKind, typ protocol.RequestType, payload interface{}) (string, <-chan Outcome, error) {
	return c.IssueWithTimeout(kind, typ, payload, c.defaultTimeout)
}

// IssueWithTimeout is Issue with an explicit deadline.
func (c *Channel) IssueWithTimeout(kind CommandKind, typ protocol.RequestType, payload interface{}, timeout time.Duration) (string, <-chan Outcome, error) {
	raw, err := protocol.MarshalPayload(payload)
	if err != nil {
		return "", nil, fmt.Errorf("encoding payload: %w", err)
	}

	id := uuid.NewString()
	now := time.Now()
	cmd := &pendingCommand{
		id:       id,
		kind:     kind,
		issuedAt: now,
		deadline: now.Add(timeout),
		result:   make(chan Outcome, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", nil, protocol.ErrChannelClosed
	}
	c.pending[id] = cmd
	c.mu.Unlock()

	req := protocol.Request{ID: id, Type: typ, Payload: raw}
	if err := c.transport.Send(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return "", nil, fmt.Errorf("sending %s request: %w", typ, err)
	}

	logging.ChannelDebug("issued %s command %s (deadline %s)", kind, id, cmd.deadline.Format(time.RFC3339))
	return id, cmd.result, nil
}

// Call issues a command and blocks for its outcome. Intended for
// non-reactor callers (CLI one-shots, tests); the TUI uses Issue and
// waits inside a tea.Cmd instead.
func (c *Channel) Call(ctx context.Context, kind CommandKind, typ protocol.RequestType, payload interface{}) (protocol.Response, error) {
	_, result, err := c.Issue(kind, typ, payload)
	if err != nil {
		return protocol.Response{}, err
	}

	select {
	case outcome := <-result:
		return outcome.Response, outcome.Err
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	}
}

// handleResponse resolves the matching pending command. A response
// whose id is unknown - stale after an interrupt, or simply bogus - is
// dropped silently; the channel never throws for it.
func (c *Channel) handleResponse(resp protocol.Response) {
	if resp.ID == protocol.InitResponseID {
		c.mu.Lock()
		if c.initSeen {
			c.mu.Unlock()
			logging.Get(logging.CategoryChannel).Warn("duplicate init response dropped")
			return
		}
		c.initSeen = true
		c.initResp = resp
		c.mu.Unlock()

		if resp.Success {
			c.emitProgress(100, "runtime ready")
		}
		close(c.ready)
		return
	}

	c.mu.Lock()
	cmd, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		logging.ChannelDebug("unmatched response id %s dropped", resp.ID)
		return
	}

	cmd.result <- Outcome{Response: resp}
	logging.ChannelDebug("resolved %s command %s in %dms", cmd.kind, cmd.id, resp.ExecutionTimeMs)
}

// handleFault rejects everything outstanding and reports the fault
// upward exactly once.
func (c *Channel) handleFault(err error) {
	c.mu.Lock()
	if c.closed || c.faulted {
		c.mu.Unlock()
		return
	}
	c.faulted = true
	cleared := c.clearPendingLocked(func(cmd *pendingCommand) error {
		return fmt.Errorf("%w: %v", protocol.ErrChannelClosed, err)
	})
	c.mu.Unlock()

	logging.Get(logging.CategoryChannel).Error("transport fault after rejecting %d pending: %v", cleared, err)
	if c.onFault != nil {
		c.onFault(err)
	}
}

// InterruptAll clears the entire pending set, rejecting every entry
// with an InterruptedError. Returns the number of commands cleared.
// There is no per-command cancellation: an in-flight interpreter call
// is not preemptible, and the worker's eventual response for it will
// arrive with an id no longer present and be dropped.
func (c *Channel) InterruptAll() int {
	c.mu.Lock()
	cleared := c.clearPendingLocked(func(cmd *pendingCommand) error {
		return &protocol.InterruptedError{CommandID: cmd.id}
	})
	c.mu.Unlock()

	if cleared > 0 {
		logging.Channel("interrupt cleared %d pending commands", cleared)
	}
	return cleared
}

// PendingCount returns the number of outstanding commands.
func (c *Channel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close rejects all pending commands, stops the sweep, and closes the
// transport. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.clearPendingLocked(func(cmd *pendingCommand) error {
		return protocol.ErrChannelClosed
	})
	c.mu.Unlock()

	close(c.done)
	err := c.transport.Close()
	c.wg.Wait()
	return err
}

// clearPendingLocked rejects every pending command with the error the
// callback produces. Caller holds c.mu.
func (c *Channel) clearPendingLocked(errFor func(*pendingCommand) error) int {
	cleared := 0
	for id, cmd := range c.pending {
		cmd.result <- Outcome{Err: errFor(cmd)}
		delete(c.pending, id)
		cleared++
	}
	return cleared
}

// sweepLoop periodically rejects commands past their deadline. The
// sweep is a no-op (and safe) when the pending map is empty.
func (c *Channel) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweepExpired(time.Now())
		case <-c.done:
			return
		}
	}
}

// sweepExpired rejects every pending command whose deadline is behind
// now. Returns how many were rejected.
func (c *Channel) sweepExpired(now time.Time) int {
	c.mu.Lock()
	var expired []*pendingCommand
	for id, cmd := range c.pending {
		if now.After(cmd.deadline) {
			expired = append(expired, cmd)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, cmd := range expired {
		cmd.result <- Outcome{Err: &protocol.TimeoutError{CommandID: cmd.id, Deadline: cmd.deadline}}
		logging.Channel("command %s (%s) timed out", cmd.id, cmd.kind)
	}
	return len(expired)
}
