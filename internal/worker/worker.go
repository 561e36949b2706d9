package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"circuitshell/internal/hardware"
	"circuitshell/internal/protocol"
)

// Options configures a Worker.
type Options struct {
	// HeapSizeBytes is passed to Runtime.Initialize. Zero means the
	// default.
	HeapSizeBytes int

	// Strategy overrides the default heuristic simulation strategy.
	Strategy hardware.Strategy

	// Logger receives structured worker events. Nil means zap.NewNop.
	Logger *zap.Logger
}

// Worker is one runtime worker: a serial envelope loop over a reader/
// writer pair, one Runtime, and the hardware state both act on.
type Worker struct {
	runtime  *Runtime
	state    *hardware.State
	strategy hardware.Strategy
	log      *zap.Logger

	heapSizeBytes int

	writeMu sync.Mutex
	out     io.Writer
}

// New creates a worker with defaults applied.
func New(opts Options) *Worker {
	w := &Worker{
		state:         hardware.NewState(),
		strategy:      opts.Strategy,
		log:           opts.Logger,
		heapSizeBytes: opts.HeapSizeBytes,
	}
	if w.strategy == nil {
		w.strategy = hardware.NewHeuristicStrategy()
	}
	if w.log == nil {
		w.log = zap.NewNop()
	}
	w.runtime = NewRuntime(w.sensorValue, w.pinValue)
	return w
}

func (w *Worker) sensorValue(id string) float64 {
	if s, ok := w.state.Sensors[id]; ok {
		return s.Value
	}
	return 0
}

func (w *Worker) pinValue(pin int) bool {
	if p, ok := w.state.Pins[pin]; ok {
		return p.Value
	}
	return false
}

// Serve runs the envelope loop until the reader is exhausted or ctx is
// cancelled. It first initializes the runtime and emits the
// distinguished "init" response; an initialization failure is reported
// once and the loop keeps running so later queries can still be
// answered.
func (w *Worker) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	w.out = out

	start := time.Now()
	initErr := w.runtime.Initialize(w.heapSizeBytes)
	initResp := protocol.Response{
		ID:              protocol.InitResponseID,
		Success:         initErr == nil,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
	if initErr != nil {
		initResp.Error = initErr.Error()
		w.log.Error("runtime initialization failed", zap.Error(initErr))
	} else {
		result, _ := protocol.MarshalPayload(protocol.QueryResult{
			Status:        "ready",
			Initialized:   true,
			HeapSizeBytes: w.runtime.HeapSizeBytes(),
		})
		initResp.Result = result
		w.log.Info("runtime initialized",
			zap.Int("heapSizeBytes", w.runtime.HeapSizeBytes()))
	}
	if err := w.writeResponse(initResp); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	// Pasted file buffers can be large.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	// The scan runs in its own goroutine so a termination signal is
	// honored even while blocked reading stdin.
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			// The scanner reuses its buffer between Scan calls.
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		var line []byte
		var open bool
		select {
		case <-ctx.Done():
			w.shutdown()
			return ctx.Err()
		case line, open = <-lines:
		}
		if !open {
			w.shutdown()
			select {
			case err := <-scanErr:
				if err != nil && !errors.Is(err, io.ErrClosedPipe) {
					return fmt.Errorf("reading request stream: %w", err)
				}
			default:
			}
			return nil
		}
		if len(line) == 0 {
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			// Malformed envelope: logged and ignored, never fatal.
			w.log.Warn("malformed request envelope", zap.Error(err))
			continue
		}

		resp := w.handle(req)
		if err := w.writeResponse(resp); err != nil {
			return err
		}
	}
}

// shutdown performs best-effort interpreter deinitialization.
func (w *Worker) shutdown() {
	w.log.Info("worker shutting down", zap.Int("executed", w.runtime.Executed()))
	w.runtime.Deinit()
}

// handle dispatches one request and builds its response. Every fault is
// converted to a {success:false, error} response; nothing here may
// terminate the process.
func (w *Worker) handle(req protocol.Request) protocol.Response {
	start := time.Now()
	resp := protocol.Response{ID: req.ID}

	var result interface{}
	var err error

	switch req.Type {
	case protocol.TypeExecute:
		result, resp.HardwareSnapshot, err = w.handleExecute(req.Payload)
	case protocol.TypeQuery:
		result, err = w.handleQuery(req.Payload)
	case protocol.TypeReset:
		result, err = w.handleReset()
	case protocol.TypeConfigure:
		result, err = w.handleConfigure(req.Payload)
	case protocol.TypeHardwareQuery:
		resp.HardwareSnapshot = w.state.Snapshot()
		result = map[string]string{"status": "ok"}
	case protocol.TypeHardwareSet:
		result, err = w.handleHardwareSet(req.Payload)
	default:
		err = fmt.Errorf("unknown request type %q", req.Type)
	}

	resp.ExecutionTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		resp.Success = false
		resp.Error = err.Error()
		// Execute faults still carry partial output in the result.
		if exec, ok := result.(protocol.ExecuteResult); ok {
			resp.Result, _ = protocol.MarshalPayload(exec)
		}
		return resp
	}

	resp.Success = true
	if result != nil {
		raw, merr := protocol.MarshalPayload(result)
		if merr != nil {
			resp.Success = false
			resp.Error = fmt.Sprintf("encoding result: %v", merr)
			return resp
		}
		resp.Result = raw
	}
	return resp
}

func (w *Worker) handleExecute(payload json.RawMessage) (protocol.ExecuteResult, *protocol.HardwareSnapshot, error) {
	var p protocol.ExecutePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return protocol.ExecuteResult{}, nil, fmt.Errorf("decoding execute payload: %w", err)
	}
	if p.Mode == "" {
		p.Mode = protocol.ModeREPL
	}

	output, err := w.runtime.Execute(p.Code, p.Mode)
	result := protocol.ExecuteResult{Output: output, Mode: p.Mode}

	var snapshot *protocol.HardwareSnapshot
	if p.EnableHardwareMonitoring {
		w.strategy.Simulate(p.Code, w.state)
		snapshot = w.state.Snapshot()
	}

	if err != nil {
		result.Error = err.Error()
		w.log.Debug("execute failed", zap.String("error", err.Error()))
		return result, snapshot, err
	}
	return result, snapshot, nil
}

func (w *Worker) handleQuery(payload json.RawMessage) (protocol.QueryResult, error) {
	var p protocol.QueryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return protocol.QueryResult{}, fmt.Errorf("decoding query payload: %w", err)
	}

	switch p.QueryType {
	case "ready":
		status := "not_ready"
		if w.runtime.Initialized() {
			status = "ready"
		}
		return protocol.QueryResult{Status: status, Initialized: w.runtime.Initialized()}, nil
	case "health":
		return protocol.QueryResult{
			Status:        "ok",
			Initialized:   w.runtime.Initialized(),
			HeapSizeBytes: w.runtime.HeapSizeBytes(),
			UptimeMs:      w.runtime.Uptime().Milliseconds(),
			Executed:      w.runtime.Executed(),
		}, nil
	default:
		return protocol.QueryResult{}, fmt.Errorf("unknown query type %q", p.QueryType)
	}
}

func (w *Worker) handleReset() (protocol.ResetResult, error) {
	if err := w.runtime.Reset(); err != nil {
		return protocol.ResetResult{}, err
	}
	w.state.Reset()
	w.log.Info("runtime and hardware reset")
	return protocol.ResetResult{Status: "reset"}, nil
}

func (w *Worker) handleConfigure(payload json.RawMessage) (protocol.ConfigureResult, error) {
	var p protocol.ConfigurePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return protocol.ConfigureResult{}, fmt.Errorf("decoding configure payload: %w", err)
	}

	sensorCount, gpioCount := w.state.Configure(p)
	result := protocol.ConfigureResult{
		Status:      "configured",
		SensorCount: sensorCount,
		GPIOCount:   gpioCount,
	}
	if p.BoardProfile != nil {
		result.BoardProfile = p.BoardProfile.BoardID
	}
	w.log.Info("hardware configured",
		zap.String("board", result.BoardProfile),
		zap.Int("sensors", sensorCount),
		zap.Int("gpios", gpioCount))
	return result, nil
}

func (w *Worker) handleHardwareSet(payload json.RawMessage) (protocol.HardwareSetResult, error) {
	var p protocol.HardwareSetPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return protocol.HardwareSetResult{}, fmt.Errorf("decoding hardware_set payload: %w", err)
	}

	changed := w.state.Set(p)
	return protocol.HardwareSetResult{Status: "updated", ChangesApplied: changed}, nil
}

func (w *Worker) writeResponse(resp protocol.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if _, err := w.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return nil
}
