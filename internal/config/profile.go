package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"circuitshell/internal/protocol"
)

// BoardProfile is the on-disk YAML description of a simulated board.
type BoardProfile struct {
	BoardID string          `yaml:"board_id"`
	Pins    []ProfilePin    `yaml:"pins"`
	Sensors []ProfileSensor `yaml:"sensors"`
}

// ProfilePin declares one pin in a board profile.
type ProfilePin struct {
	Pin      int    `yaml:"pin"`
	Mode     string `yaml:"mode"` // input | output
	Value    bool   `yaml:"value"`
	Pullup   bool   `yaml:"pullup"`
	Pulldown bool   `yaml:"pulldown"`
}

// ProfileSensor declares one sensor in a board profile.
type ProfileSensor struct {
	ID    string  `yaml:"id"`
	Type  string  `yaml:"type"`
	Value float64 `yaml:"value"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	// Active defaults to true when omitted.
	Active *bool `yaml:"active"`
}

// LoadBoardProfile reads a board profile file and converts it into the
// configure payload the worker understands.
func LoadBoardProfile(path string) (*protocol.ConfigurePayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading board profile: %w", err)
	}

	var profile BoardProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parsing board profile: %w", err)
	}
	if err := profile.validate(); err != nil {
		return nil, fmt.Errorf("board profile %s: %w", path, err)
	}

	return profile.ConfigurePayload(), nil
}

func (p *BoardProfile) validate() error {
	for _, pin := range p.Pins {
		if pin.Pin < 0 {
			return fmt.Errorf("pin number %d is negative", pin.Pin)
		}
		switch pin.Mode {
		case "", "input", "output":
		default:
			return fmt.Errorf("pin %d: mode must be input or output, got %q", pin.Pin, pin.Mode)
		}
	}
	for _, s := range p.Sensors {
		if s.ID == "" {
			return fmt.Errorf("sensor with empty id")
		}
		if s.Min > s.Max {
			return fmt.Errorf("sensor %s: min %v exceeds max %v", s.ID, s.Min, s.Max)
		}
	}
	return nil
}

// ConfigurePayload converts the profile to a worker configure payload.
func (p *BoardProfile) ConfigurePayload() *protocol.ConfigurePayload {
	payload := &protocol.ConfigurePayload{}
	if p.BoardID != "" {
		payload.BoardProfile = &protocol.BoardProfile{BoardID: p.BoardID}
	}

	for _, pin := range p.Pins {
		mode := pin.Mode
		if mode == "" {
			mode = "input"
		}
		payload.GPIOs = append(payload.GPIOs, protocol.GPIOConfig{
			Pin:      pin.Pin,
			Mode:     mode,
			Value:    pin.Value,
			Pullup:   pin.Pullup,
			Pulldown: pin.Pulldown,
		})
	}

	for _, s := range p.Sensors {
		active := true
		if s.Active != nil {
			active = *s.Active
		}
		payload.Sensors = append(payload.Sensors, protocol.SensorConfig{
			ID:       s.ID,
			Type:     s.Type,
			Value:    s.Value,
			Range:    protocol.SensorRange{Min: s.Min, Max: s.Max},
			IsActive: active,
		})
	}

	return payload
}
