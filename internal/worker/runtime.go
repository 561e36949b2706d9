// Package worker implements the runtime worker process: a serial
// envelope loop hosting exactly one embedded yaegi interpreter, plus
// the hardware simulation state it owns.
//
// The worker reads one request, fully produces one response, and only
// then reads the next. User-code failures never terminate the process;
// they come back as {success:false, error} responses.
package worker

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"circuitshell/internal/hardware"
	"circuitshell/internal/protocol"
)

// DefaultHeapSizeBytes is requested when the host does not specify one.
// yaegi does not expose interpreter heap sizing, so the value is
// advisory: recorded, reported in health queries, never enforced.
const DefaultHeapSizeBytes = 128 * 1024

// Runtime hosts the single embedded interpreter instance of a worker.
// Exactly one Runtime exists per worker process at a time; Reset tears
// the interpreter down and builds a fresh one.
type Runtime struct {
	interp        *interp.Interpreter
	output        *bytes.Buffer
	initialized   bool
	initErr       error
	heapSizeBytes int
	startedAt     time.Time
	executed      int

	// readSensor/readPin let the board shim observe live hardware
	// state without the interpreter holding a reference to it.
	readSensor func(id string) float64
	readPin    func(pin int) bool
}

// NewRuntime returns an uninitialized runtime. Initialize must be
// called before Execute.
func NewRuntime(readSensor func(string) float64, readPin func(int) bool) *Runtime {
	return &Runtime{
		readSensor: readSensor,
		readPin:    readPin,
	}
}

// Initialize allocates the interpreter and enables interactive mode.
// A failure is remembered: every later Execute fails fast until the
// runtime is reset or the process restarted.
func (r *Runtime) Initialize(heapSizeBytes int) error {
	if heapSizeBytes <= 0 {
		heapSizeBytes = DefaultHeapSizeBytes
	}

	r.output = &bytes.Buffer{}
	i := interp.New(interp.Options{Stdout: r.output, Stderr: r.output})

	if err := i.Use(stdlib.Symbols); err != nil {
		r.initErr = &protocol.InitializationError{Reason: fmt.Sprintf("loading stdlib symbols: %v", err)}
		return r.initErr
	}
	if err := i.Use(r.boardSymbols()); err != nil {
		r.initErr = &protocol.InitializationError{Reason: fmt.Sprintf("loading board symbols: %v", err)}
		return r.initErr
	}

	// Pre-import the simulated board API so REPL code can reference
	// board.D13 etc. without its own import block.
	if _, err := i.Eval(`import "board"`); err != nil {
		r.initErr = &protocol.InitializationError{Reason: fmt.Sprintf("board prelude: %v", err)}
		return r.initErr
	}

	r.interp = i
	r.initialized = true
	r.initErr = nil
	r.heapSizeBytes = heapSizeBytes
	r.startedAt = time.Now()
	r.executed = 0
	return nil
}

// Initialized reports whether the interpreter is ready for Execute.
func (r *Runtime) Initialized() bool { return r.initialized }

// HeapSizeBytes returns the advisory heap size recorded at init.
func (r *Runtime) HeapSizeBytes() int { return r.heapSizeBytes }

// Uptime returns time since the current interpreter instance came up.
func (r *Runtime) Uptime() time.Duration {
	if !r.initialized {
		return 0
	}
	return time.Since(r.startedAt)
}

// Executed returns the number of execute calls served by this instance.
func (r *Runtime) Executed() int { return r.executed }

// Reset tears the interpreter down and reinitializes it to a clean
// interactive state, keeping the previously requested heap size.
func (r *Runtime) Reset() error {
	heap := r.heapSizeBytes
	r.Deinit()
	return r.Initialize(heap)
}

// Deinit releases the interpreter. Best-effort: yaegi has no explicit
// teardown, so dropping the reference is all there is to do.
func (r *Runtime) Deinit() {
	r.interp = nil
	r.initialized = false
	r.output = nil
}

// Execute runs code in the requested mode and returns captured output.
// In repl mode each line is fed to the interactive evaluator in turn;
// in file mode the whole buffer is evaluated at once, falling back to
// repl framing when whole-buffer evaluation is rejected by the parser.
func (r *Runtime) Execute(code string, mode protocol.ExecMode) (string, error) {
	if !r.initialized {
		if r.initErr != nil {
			return "", r.initErr
		}
		return "", protocol.ErrNotInitialized
	}

	r.executed++

	switch mode {
	case protocol.ModeFile:
		out, err := r.evalWhole(code)
		if err != nil && isParseError(err) {
			return r.evalLines(code)
		}
		return out, err
	default:
		return r.evalLines(code)
	}
}

// evalWhole evaluates the entire buffer as one unit.
func (r *Runtime) evalWhole(code string) (string, error) {
	return r.eval(code, false)
}

// evalLines feeds code to the interpreter one line at a time, the way
// an interactive prompt would, echoing expression results.
func (r *Runtime) evalLines(code string) (string, error) {
	var out strings.Builder
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lineOut, err := r.eval(line, true)
		out.WriteString(lineOut)
		if err != nil {
			return out.String(), err
		}
	}
	return out.String(), nil
}

// eval runs one unit through the interpreter, recovering panics raised
// by user code and converting them to ExecutionError.
func (r *Runtime) eval(code string, echoResult bool) (out string, err error) {
	r.output.Reset()

	defer func() {
		if rec := recover(); rec != nil {
			out = r.output.String()
			err = &protocol.ExecutionError{Output: out, Reason: fmt.Sprintf("panic: %v", rec)}
		}
	}()

	v, evalErr := r.interp.Eval(code)
	out = r.output.String()
	if evalErr != nil {
		return out, &protocol.ExecutionError{Output: out, Reason: evalErr.Error()}
	}

	// Interactive prompts echo the value of bare expressions.
	if echoResult && v.IsValid() && v.Kind() != reflect.Func {
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += fmt.Sprintf("%v\n", v)
	}
	return out, nil
}

// isParseError distinguishes parse/compile rejections (safe to retry
// with repl framing) from runtime faults (must not re-run: the buffer
// may already have had side effects).
func isParseError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "expected") || strings.Contains(msg, "syntax error")
}

// boardSymbols builds the simulated board package injected into the
// interpreter: pin constants D0..D19, LED, and sensor read helpers
// backed by the worker's hardware state.
func (r *Runtime) boardSymbols() interp.Exports {
	pins := make(map[string]reflect.Value, hardware.DefaultPinCount+3)
	for pin := 0; pin < hardware.DefaultPinCount; pin++ {
		pins[fmt.Sprintf("D%d", pin)] = reflect.ValueOf(pin)
	}
	pins["LED"] = reflect.ValueOf(13)

	readSensor := r.readSensor
	if readSensor == nil {
		readSensor = func(string) float64 { return 0 }
	}
	readPin := r.readPin
	if readPin == nil {
		readPin = func(int) bool { return false }
	}

	pins["Temperature"] = reflect.ValueOf(func() float64 {
		return readSensor(hardware.DefaultTempSensorID)
	})
	pins["Light"] = reflect.ValueOf(func() float64 {
		return readSensor(hardware.DefaultLightSensorID)
	})
	pins["ReadPin"] = reflect.ValueOf(func(pin int) bool {
		return readPin(pin)
	})

	return interp.Exports{"board/board": pins}
}
