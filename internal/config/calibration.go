package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"mode-calibrator/internal/boardings"
	"mode-calibrator/internal/trips"
)

// ModeParams is one calibrated mode: its starting utility constant and the
// population share the calibration steers towards.
type ModeParams struct {
	Name        string  `yaml:"name" validate:"required"`
	Constant    float64 `yaml:"constant"`
	TargetShare float64 `yaml:"targetShare" validate:"gt=0,lte=1"`
}

type Histogram struct {
	Bins       int `yaml:"bins" validate:"gte=0"`
	BinMinutes int `yaml:"binMinutes" validate:"gte=0"`
}

// Calibration is the YAML calibration file.
type Calibration struct {
	LastIteration int  `yaml:"lastIteration" validate:"gte=0"`
	StrictModes   bool `yaml:"strictModes"`
	// OperatorPattern marks transit drivers by substring of their id. Unset
	// means the default; an empty string counts every boarding.
	OperatorPattern *string      `yaml:"operatorPattern"`
	Histogram       Histogram    `yaml:"histogram"`
	Modes           []ModeParams `yaml:"modes" validate:"required,min=1,dive"`
}

// LoadCalibration reads and validates the calibration file at path.
func LoadCalibration(path string) (*Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := ParseCalibration(data)
	if err != nil {
		return nil, fmt.Errorf("calibration file %s: %w", path, err)
	}
	return c, nil
}

func ParseCalibration(data []byte) (*Calibration, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var c Calibration
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty calibration")
		}
		return nil, err
	}
	if err := validator.New().Struct(c); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(c.Modes))
	for _, m := range c.Modes {
		if seen[m.Name] {
			return nil, fmt.Errorf("duplicate mode %q", m.Name)
		}
		seen[m.Name] = true
	}
	return &c, nil
}

// ModeNames returns the modes in file order; reports use it for their columns.
func (c *Calibration) ModeNames() []string {
	out := make([]string, len(c.Modes))
	for i, m := range c.Modes {
		out[i] = m.Name
	}
	return out
}

func (c *Calibration) Constants() map[string]float64 {
	out := make(map[string]float64, len(c.Modes))
	for _, m := range c.Modes {
		out[m.Name] = m.Constant
	}
	return out
}

func (c *Calibration) Targets() map[string]float64 {
	out := make(map[string]float64, len(c.Modes))
	for _, m := range c.Modes {
		out[m.Name] = m.TargetShare
	}
	return out
}

// TargetSum is the sum of all target shares. It is not required to be 1.
func (c *Calibration) TargetSum() float64 {
	var s float64
	for _, m := range c.Modes {
		s += m.TargetShare
	}
	return s
}

func (c *Calibration) Operators() string {
	if c.OperatorPattern == nil {
		return boardings.DefaultOperatorPattern
	}
	return *c.OperatorPattern
}

func (c *Calibration) TripsConfig() trips.Config {
	return trips.Config{Bins: c.Histogram.Bins, BinMinutes: c.Histogram.BinMinutes}
}
