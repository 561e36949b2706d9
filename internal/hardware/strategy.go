package hardware

import (
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Strategy mutates hardware state after a piece of user code ran.
// Implementations receive the executed source text, never the program's
// runtime values; the simulation is a text-level heuristic and the
// interface is the single swap point for anything smarter.
type Strategy interface {
	Simulate(source string, state *State)
}

// pinToken matches pin references in source text: board.D7, board.LED,
// or bare D7 / GP7 tokens. Capture group 1/2 hold the pin number.
var pinToken = regexp.MustCompile(`\bboard\.(?:D(\d{1,2})|LED)\b|\b(?:D|GP)(\d{1,2})\b`)

// ledPin is where board.LED lands on the default layout.
const ledPin = 13

// HeuristicStrategy is the default simulation: every pin token in the
// executed source toggles that pin (in document order), and sensor
// keywords nudge the matching sensor's value by a small bounded random
// delta clamped to its range.
type HeuristicStrategy struct {
	rng *rand.Rand
}

// NewHeuristicStrategy returns the default strategy with a time-seeded
// random source.
func NewHeuristicStrategy() *HeuristicStrategy {
	return NewHeuristicStrategyWithSeed(time.Now().UnixNano())
}

// NewHeuristicStrategyWithSeed allows deterministic sensor walks in
// tests.
func NewHeuristicStrategyWithSeed(seed int64) *HeuristicStrategy {
	return &HeuristicStrategy{rng: rand.New(rand.NewSource(seed))}
}

// Simulate implements Strategy.
func (h *HeuristicStrategy) Simulate(source string, state *State) {
	h.togglePins(source, state)
	h.perturbSensors(source, state)
}

// togglePins flips the boolean value of every referenced pin, one flip
// per match, in document order.
func (h *HeuristicStrategy) togglePins(source string, state *State) {
	matches := pinToken.FindAllStringSubmatch(source, -1)
	now := time.Now()

	for _, m := range matches {
		pin := ledPin
		if m[1] != "" {
			pin, _ = strconv.Atoi(m[1])
		} else if m[2] != "" {
			pin, _ = strconv.Atoi(m[2])
		}

		ps, ok := state.Pins[pin]
		if !ok {
			continue
		}
		ps.Value = !ps.Value
		ps.LastChanged = now
		state.Pins[pin] = ps
	}
}

// perturbSensors applies a bounded random walk to every active sensor
// whose id or type appears in the source text.
func (h *HeuristicStrategy) perturbSensors(source string, state *State) {
	lower := strings.ToLower(source)
	now := time.Now()

	for id, sensor := range state.Sensors {
		if !sensor.IsActive {
			continue
		}
		if !strings.Contains(lower, strings.ToLower(id)) &&
			!strings.Contains(lower, strings.ToLower(sensor.Type)) {
			continue
		}

		// Delta bounded to 5% of the sensor's span, either direction.
		span := sensor.Range.Max - sensor.Range.Min
		if span <= 0 {
			span = 1
		}
		delta := (h.rng.Float64()*2 - 1) * span * 0.05

		sensor.Value = clamp(sensor.Value+delta, sensor.Range)
		sensor.LastReading = now
		state.Sensors[id] = sensor
	}
}

var _ Strategy = (*HeuristicStrategy)(nil)
