package session

import (
	"fmt"
	"strconv"
	"strings"

	"circuitshell/internal/channel"
	"circuitshell/internal/protocol"
)

// pendingView remembers how to render a command's outcome once it
// resolves. Keyed by envelope id in Controller.views.
type pendingView struct {
	kind channel.CommandKind
	view string
}

// submitCommand parses and issues a structured slash command. Commands
// that need no worker round trip resolve locally via Dispatch.Local.
func (c *Controller) submitCommand(line string) (*Dispatch, error) {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	switch name {
	case "/help":
		return &Dispatch{Local: helpText}, nil

	case "/history":
		return &Dispatch{Local: c.formatHistory(args)}, nil

	case "/mode":
		return &Dispatch{Local: fmt.Sprintf("mode: %s\ntransport: %s\nstate: %s",
			c.mode, c.TransportName(), c.state)}, nil

	case "/reset":
		return c.issueCommand(channel.KindReset, protocol.TypeReset, nil, "reset")

	case "/board":
		return c.issueCommand(channel.KindHardware, protocol.TypeHardwareQuery,
			protocol.HardwareQueryPayload{}, "board")

	case "/pins":
		return c.issueCommand(channel.KindHardware, protocol.TypeHardwareQuery,
			protocol.HardwareQueryPayload{}, "pins")

	case "/sensors":
		return c.issueCommand(channel.KindHardware, protocol.TypeHardwareQuery,
			protocol.HardwareQueryPayload{}, "sensors")

	case "/set":
		payload, err := parseSetArgs(args)
		if err != nil {
			return nil, err
		}
		return c.issueCommand(channel.KindHardware, protocol.TypeHardwareSet, payload, "set")

	default:
		return nil, fmt.Errorf("unknown command %s (try /help)", name)
	}
}

// issueCommand dispatches one structured command over the channel and
// records its render view.
func (c *Controller) issueCommand(kind channel.CommandKind, reqType protocol.RequestType, payload interface{}, view string) (*Dispatch, error) {
	if c.ch == nil {
		return nil, fmt.Errorf("structured commands unavailable on %s transport", c.TransportName())
	}

	id, outcome, err := c.ch.Issue(kind, reqType, payload)
	if err != nil {
		return nil, err
	}

	c.views[id] = pendingView{kind: kind, view: view}
	c.currentID = id
	c.setState(StateExecuting)
	return &Dispatch{ID: id, Kind: kind, Outcome: outcome}, nil
}

// parseSetArgs handles the two /set forms:
//
//	/set pin <n> <high|low>
//	/set sensor <id> <value>
func parseSetArgs(args []string) (protocol.HardwareSetPayload, error) {
	var p protocol.HardwareSetPayload
	if len(args) != 3 {
		return p, fmt.Errorf("usage: /set pin <n> <high|low> | /set sensor <id> <value>")
	}

	switch args[0] {
	case "pin":
		n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimPrefix(args[1], "D"), "GP"))
		if err != nil {
			return p, fmt.Errorf("bad pin %q", args[1])
		}
		var value bool
		switch strings.ToLower(args[2]) {
		case "high", "on", "1", "true":
			value = true
		case "low", "off", "0", "false":
			value = false
		default:
			return p, fmt.Errorf("bad pin value %q (want high or low)", args[2])
		}
		p.Pins = []protocol.PinUpdate{{Pin: n, Value: value}}
		return p, nil

	case "sensor":
		v, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return p, fmt.Errorf("bad sensor value %q", args[2])
		}
		p.Sensors = []protocol.SensorUpdate{{ID: args[1], Value: v}}
		return p, nil

	default:
		return p, fmt.Errorf("usage: /set pin <n> <high|low> | /set sensor <id> <value>")
	}
}

func (c *Controller) formatHistory(args []string) string {
	limit := 20
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			limit = n
		}
	}

	lines := c.history
	if len(lines) == 0 {
		return "history is empty"
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	var b strings.Builder
	base := len(c.history) - len(lines)
	for i, line := range lines {
		fmt.Fprintf(&b, "%4d  %s\n", base+i+1, firstLine(line))
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

const helpText = `# circuitshell

Type code to run it in the embedded runtime. Lines are executed one at
a time; use paste mode for multi-line programs.

## Commands

| Command | Effect |
|---|---|
| ` + "`/reset`" + ` | Restart the runtime and restore default hardware |
| ` + "`/board`" + ` | Show the full board snapshot |
| ` + "`/pins`" + ` | Show pin states |
| ` + "`/sensors`" + ` | Show sensor readings |
| ` + "`/set pin <n> <value>`" + ` | Drive a pin high or low externally |
| ` + "`/set sensor <id> <value>`" + ` | Override a sensor reading |
| ` + "`/mode`" + ` | Show session mode and transport |
| ` + "`/history [n]`" + ` | Show recent input lines |
| ` + "`/help`" + ` | This text |

## Keys

| Key | Effect |
|---|---|
| Ctrl+C | Interrupt: drop every pending command |
| Ctrl+D | Soft restart the runtime |
| Ctrl+E | Enter paste mode (Ctrl+D closes and runs the buffer) |
| Tab | Cycle completions |
`
