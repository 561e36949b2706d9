// Package hardware maintains the simulated board state owned by the
// runtime worker: GPIO pins and sensors, plus the pluggable heuristic
// that mutates them after code execution.
//
// The simulation is intentionally approximate. It pattern-matches the
// executed source text instead of interpreting program semantics; see
// the Strategy interface for the swap point.
package hardware

import (
	"time"

	"circuitshell/internal/protocol"
)

// Default board layout: 20 GPIO pins and two ambient sensors.
const (
	DefaultPinCount = 20

	DefaultTempSensorID  = "temp0"
	DefaultLightSensorID = "light0"

	PinModeInput  = "input"
	PinModeOutput = "output"
)

// State is the in-memory hardware model. It is owned exclusively by the
// worker goroutine that processes envelopes, so it needs no locking of
// its own.
type State struct {
	Pins    map[int]protocol.PinState
	Sensors map[string]protocol.SensorState

	// lastSnapshot enforces monotonically non-decreasing snapshot
	// timestamps within a worker lifetime.
	lastSnapshot time.Time
}

// NewState returns hardware state seeded with the documented defaults:
// pins 0..19 as inputs reading false, a temperature sensor and a light
// sensor both seeded mid-range and active.
func NewState() *State {
	s := &State{
		Pins:    make(map[int]protocol.PinState, DefaultPinCount),
		Sensors: make(map[string]protocol.SensorState, 2),
	}
	s.Reset()
	return s
}

// Reset restores the documented default pin and sensor layout,
// discarding any configured or mutated entries.
func (s *State) Reset() {
	for pin := range s.Pins {
		delete(s.Pins, pin)
	}
	for id := range s.Sensors {
		delete(s.Sensors, id)
	}

	now := time.Now()
	for pin := 0; pin < DefaultPinCount; pin++ {
		s.Pins[pin] = protocol.PinState{
			Pin:         pin,
			Mode:        PinModeInput,
			Value:       false,
			LastChanged: now,
		}
	}

	s.Sensors[DefaultTempSensorID] = protocol.SensorState{
		ID:          DefaultTempSensorID,
		Type:        "temperature",
		Value:       25,
		Range:       protocol.SensorRange{Min: 0, Max: 50},
		LastReading: now,
		IsActive:    true,
	}
	s.Sensors[DefaultLightSensorID] = protocol.SensorState{
		ID:          DefaultLightSensorID,
		Type:        "light",
		Value:       500,
		Range:       protocol.SensorRange{Min: 0, Max: 1000},
		LastReading: now,
		IsActive:    true,
	}
}

// Configure seeds pin and sensor definitions. Unlike Set, Configure may
// create entries that do not exist yet. Returns the resulting counts.
func (s *State) Configure(payload protocol.ConfigurePayload) (sensorCount, gpioCount int) {
	now := time.Now()

	for _, g := range payload.GPIOs {
		mode := g.Mode
		if mode != PinModeOutput {
			mode = PinModeInput
		}
		s.Pins[g.Pin] = protocol.PinState{
			Pin:         g.Pin,
			Mode:        mode,
			Value:       g.Value,
			Pullup:      g.Pullup,
			Pulldown:    g.Pulldown,
			LastChanged: now,
		}
	}

	for _, sc := range payload.Sensors {
		s.Sensors[sc.ID] = protocol.SensorState{
			ID:          sc.ID,
			Type:        sc.Type,
			Value:       clamp(sc.Value, sc.Range),
			Range:       sc.Range,
			LastReading: now,
			IsActive:    sc.IsActive,
		}
	}

	return len(s.Sensors), len(s.Pins)
}

// Set applies updates to existing entries only. Unknown pins/sensors
// are ignored. Returns the number of entries actually changed.
func (s *State) Set(payload protocol.HardwareSetPayload) int {
	changed := 0
	now := time.Now()

	for _, u := range payload.Pins {
		pin, ok := s.Pins[u.Pin]
		if !ok {
			continue
		}
		pin.Value = u.Value
		if u.Mode == PinModeInput || u.Mode == PinModeOutput {
			pin.Mode = u.Mode
		}
		pin.LastChanged = now
		s.Pins[u.Pin] = pin
		changed++
	}

	for _, u := range payload.Sensors {
		sensor, ok := s.Sensors[u.ID]
		if !ok {
			continue
		}
		sensor.Value = clamp(u.Value, sensor.Range)
		sensor.LastReading = now
		s.Sensors[u.ID] = sensor
		changed++
	}

	return changed
}

// Snapshot returns a deep copy of the current state. The timestamp is
// monotonically non-decreasing across calls within a worker lifetime.
func (s *State) Snapshot() *protocol.HardwareSnapshot {
	ts := time.Now()
	if ts.Before(s.lastSnapshot) {
		ts = s.lastSnapshot
	}
	s.lastSnapshot = ts

	snap := &protocol.HardwareSnapshot{
		Pins:      make(map[int]protocol.PinState, len(s.Pins)),
		Sensors:   make(map[string]protocol.SensorState, len(s.Sensors)),
		Timestamp: ts,
	}
	for pin, ps := range s.Pins {
		snap.Pins[pin] = ps
	}
	for id, ss := range s.Sensors {
		snap.Sensors[id] = ss
	}
	return snap
}

func clamp(v float64, r protocol.SensorRange) float64 {
	if r.Min == 0 && r.Max == 0 {
		return v
	}
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}
