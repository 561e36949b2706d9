package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"circuitshell/internal/channel"
	"circuitshell/internal/protocol"
)

// render turns a command outcome into display text. Styling is the
// host's concern; this layer only decides content and error-ness.
func (c *Controller) render(pv pendingView, outcome channel.Outcome) Result {
	if outcome.Err != nil {
		return renderError(outcome.Err)
	}

	resp := outcome.Response
	if !resp.Success {
		text := resp.Error
		if text == "" {
			text = "command failed"
		}
		// Execute failures may carry partial output worth showing.
		var partial protocol.ExecuteResult
		if pv.view == "execute" && resp.Result != nil {
			if json.Unmarshal(resp.Result, &partial) == nil && partial.Output != "" {
				text = partial.Output + "\n" + text
			}
		}
		return Result{Text: text, IsError: true}
	}

	switch pv.view {
	case "execute":
		var r protocol.ExecuteResult
		if err := json.Unmarshal(resp.Result, &r); err != nil {
			return Result{Text: fmt.Sprintf("unreadable execute result: %v", err), IsError: true}
		}
		return Result{Text: strings.TrimRight(r.Output, "\n")}

	case "reset":
		return Result{Text: "runtime reset, hardware restored to defaults"}

	case "board":
		return Result{Text: renderBoard(resp.HardwareSnapshot)}

	case "pins":
		return Result{Text: renderPins(resp.HardwareSnapshot)}

	case "sensors":
		return Result{Text: renderSensors(resp.HardwareSnapshot)}

	case "set":
		var r protocol.HardwareSetResult
		if err := json.Unmarshal(resp.Result, &r); err != nil {
			return Result{Text: fmt.Sprintf("unreadable hardware result: %v", err), IsError: true}
		}
		return Result{Text: fmt.Sprintf("applied %d change(s)", r.ChangesApplied)}

	default:
		// Background or untracked commands: show the raw result.
		if len(resp.Result) > 0 {
			return Result{Text: string(resp.Result)}
		}
		return Result{Text: "ok"}
	}
}

func renderError(err error) Result {
	switch {
	case protocol.IsInterrupted(err):
		return Result{Text: "interrupted", IsError: true}
	case protocol.IsTimeout(err):
		return Result{Text: "command timed out; the runtime may still be busy (Ctrl+D to soft-restart)", IsError: true}
	}

	var initErr *protocol.InitializationError
	if errors.As(err, &initErr) {
		return Result{
			Text:        fmt.Sprintf("runtime failed to initialize: %s", initErr.Reason),
			IsError:     true,
			InitFailure: true,
		}
	}
	return Result{Text: err.Error(), IsError: true}
}

func renderBoard(snap *protocol.HardwareSnapshot) string {
	if snap == nil {
		return "no hardware snapshot available"
	}
	return renderPins(snap) + "\n\n" + renderSensors(snap)
}

func renderPins(snap *protocol.HardwareSnapshot) string {
	if snap == nil || len(snap.Pins) == 0 {
		return "no pins configured"
	}

	nums := make([]int, 0, len(snap.Pins))
	for n := range snap.Pins {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var b strings.Builder
	b.WriteString("pins:\n")
	for _, n := range nums {
		p := snap.Pins[n]
		level := "low"
		if p.Value {
			level = "high"
		}
		fmt.Fprintf(&b, "  D%-2d  %-6s %s", n, p.Mode, level)
		if p.Pullup {
			b.WriteString("  pullup")
		}
		if p.Pulldown {
			b.WriteString("  pulldown")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSensors(snap *protocol.HardwareSnapshot) string {
	if snap == nil || len(snap.Sensors) == 0 {
		return "no sensors configured"
	}

	ids := make([]string, 0, len(snap.Sensors))
	for id := range snap.Sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("sensors:\n")
	for _, id := range ids {
		s := snap.Sensors[id]
		state := "active"
		if !s.IsActive {
			state = "inactive"
		}
		fmt.Fprintf(&b, "  %-8s %-12s %8.2f  [%.2f .. %.2f]  %s\n",
			s.ID, s.Type, s.Value, s.Range.Min, s.Range.Max, state)
	}
	return strings.TrimRight(b.String(), "\n")
}
