// Package protocol defines the wire envelopes exchanged between the
// session controller and the runtime worker, plus the error taxonomy
// shared by both sides. Envelopes are JSON-encoded, one per line, over
// whatever transport the channel package provides.
package protocol

import (
	"encoding/json"
	"time"
)

// RequestType identifies the operation a request envelope carries.
type RequestType string

const (
	TypeExecute       RequestType = "execute"
	TypeQuery         RequestType = "query"
	TypeReset         RequestType = "reset"
	TypeConfigure     RequestType = "configure"
	TypeHardwareQuery RequestType = "hardware_query"
	TypeHardwareSet   RequestType = "hardware_set"
)

// InitResponseID is the distinguished correlation id the worker uses for
// its one-time initialization report.
const InitResponseID = "init"

// ExecMode selects how the worker frames submitted code.
type ExecMode string

const (
	ModeREPL ExecMode = "repl" // line-at-a-time interactive evaluation
	ModeFile ExecMode = "file" // whole-buffer evaluation, repl fallback
)

// Request is a controller-to-worker envelope. ID is the correlation
// token; the worker echoes it back verbatim on the response.
type Request struct {
	ID      string          `json:"id"`
	Type    RequestType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Response is a worker-to-controller envelope.
type Response struct {
	ID               string            `json:"id"`
	Success          bool              `json:"success"`
	Result           json.RawMessage   `json:"result,omitempty"`
	Error            string            `json:"error,omitempty"`
	ExecutionTimeMs  int64             `json:"executionTimeMs"`
	HardwareSnapshot *HardwareSnapshot `json:"hardwareSnapshot,omitempty"`
}

// ExecutePayload carries code to run.
type ExecutePayload struct {
	Code                     string   `json:"code"`
	Mode                     ExecMode `json:"mode"`
	EnableHardwareMonitoring bool     `json:"enableHardwareMonitoring,omitempty"`
}

// ExecuteResult is the result object of an execute response.
type ExecuteResult struct {
	Output string   `json:"output"`
	Error  string   `json:"error,omitempty"`
	Mode   ExecMode `json:"mode"`
}

// QueryPayload asks the worker about its own state.
type QueryPayload struct {
	QueryType string `json:"queryType"` // "ready" | "health"
}

// QueryResult reports worker status.
type QueryResult struct {
	Status        string `json:"status"`
	Initialized   bool   `json:"initialized"`
	HeapSizeBytes int    `json:"heapSizeBytes,omitempty"`
	UptimeMs      int64  `json:"uptimeMs,omitempty"`
	Executed      int    `json:"executed,omitempty"`
}

// ResetResult reports the outcome of a runtime reset.
type ResetResult struct {
	Status string `json:"status"`
}

// BoardProfile names the board the simulation should mimic.
type BoardProfile struct {
	BoardID string `json:"boardId"`
}

// SensorConfig seeds or overwrites a simulated sensor definition.
type SensorConfig struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Value    float64     `json:"value"`
	Range    SensorRange `json:"range"`
	IsActive bool        `json:"isActive"`
}

// SensorRange bounds a sensor's values.
type SensorRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// GPIOConfig seeds or overwrites a simulated pin definition.
type GPIOConfig struct {
	Pin      int    `json:"pin"`
	Mode     string `json:"mode"`
	Value    bool   `json:"value"`
	Pullup   bool   `json:"pullup,omitempty"`
	Pulldown bool   `json:"pulldown,omitempty"`
}

// ConfigurePayload seeds pin and sensor definitions.
type ConfigurePayload struct {
	BoardProfile *BoardProfile  `json:"boardProfile,omitempty"`
	Sensors      []SensorConfig `json:"sensors,omitempty"`
	GPIOs        []GPIOConfig   `json:"gpios,omitempty"`
}

// ConfigureResult reports what the configure call seeded.
type ConfigureResult struct {
	Status       string `json:"status"`
	BoardProfile string `json:"boardProfile,omitempty"`
	SensorCount  int    `json:"sensorCount"`
	GPIOCount    int    `json:"gpioCount"`
}

// HardwareQueryPayload requests a hardware snapshot.
type HardwareQueryPayload struct {
	QueryType string `json:"queryType"`
}

// PinUpdate mutates a single existing pin.
type PinUpdate struct {
	Pin   int    `json:"pin"`
	Value bool   `json:"value"`
	Mode  string `json:"mode,omitempty"`
}

// SensorUpdate mutates a single existing sensor.
type SensorUpdate struct {
	ID    string  `json:"id"`
	Value float64 `json:"value"`
}

// HardwareSetPayload applies updates to existing pins/sensors only.
type HardwareSetPayload struct {
	Pins    []PinUpdate    `json:"pins,omitempty"`
	Sensors []SensorUpdate `json:"sensors,omitempty"`
}

// HardwareSetResult reports how many entries actually changed.
type HardwareSetResult struct {
	Status         string `json:"status"`
	ChangesApplied int    `json:"changesApplied"`
}

// PinState is the observable state of one simulated GPIO pin.
type PinState struct {
	Pin         int       `json:"pin"`
	Mode        string    `json:"mode"` // "input" | "output"
	Value       bool      `json:"value"`
	Pullup      bool      `json:"pullup"`
	Pulldown    bool      `json:"pulldown"`
	LastChanged time.Time `json:"lastChanged"`
}

// SensorState is the observable state of one simulated sensor.
type SensorState struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	Value       float64     `json:"value"`
	Range       SensorRange `json:"range"`
	LastReading time.Time   `json:"lastReading"`
	IsActive    bool        `json:"isActive"`
}

// HardwareSnapshot is a point-in-time copy of the simulated hardware.
// Timestamp is monotonically non-decreasing within a worker's lifetime.
type HardwareSnapshot struct {
	Pins      map[int]PinState       `json:"pins"`
	Sensors   map[string]SensorState `json:"sensors"`
	Timestamp time.Time              `json:"timestamp"`
}

// Signal is a session control signal. Signals bypass the normal submit
// path and carry no business payload.
type Signal struct {
	Kind      SignalKind `json:"kind"`
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
}

// SignalKind enumerates session control signals.
type SignalKind string

const (
	SignalInterrupt      SignalKind = "interrupt"
	SignalSoftRestart    SignalKind = "soft-restart"
	SignalPasteModeEnter SignalKind = "paste-mode-enter"
)

// ProgressEvent is a host-to-controller readiness progress update.
type ProgressEvent struct {
	Progress int    `json:"progress"` // 0-100
	Message  string `json:"message"`
}

// MarshalPayload encodes a typed payload for a Request.
func MarshalPayload(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
