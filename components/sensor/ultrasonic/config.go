package ultrasonic

import (
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/asyncsonar/components/board"
)

// Config describes one sensor.
type Config struct {
	Name              string `json:"name"`
	Pin               string `json:"pin"`
	TimeoutMs         uint32 `json:"timeout_ms,omitempty"`
	MaxDistanceMm     uint32 `json:"max_distance_mm,omitempty"`
	TriggerIntervalMs uint32 `json:"trigger_interval_ms,omitempty"`
	// nil keeps the 20°C default
	TemperatureCelsius *int8 `json:"temperature_celsius,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.Name == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if conf.Pin == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "pin")
	}
	if conf.TimeoutMs != 0 && conf.MaxDistanceMm != 0 {
		return goutils.NewConfigValidationError(path,
			errors.New("only one of timeout_ms and max_distance_mm may be set"))
	}
	return nil
}

// Apply sets the sonar's calibration from the config. The temperature goes first because the
// distance based timeout depends on it.
func (conf *Config) Apply(s *Sonar) {
	if conf.TemperatureCelsius != nil {
		s.SetTemperatureCorrection(*conf.TemperatureCelsius)
	}
	switch {
	case conf.TimeoutMs != 0:
		s.SetTimeOut(conf.TimeoutMs)
	case conf.MaxDistanceMm != 0:
		s.SetTimeOutDistance(conf.MaxDistanceMm)
	}
	if conf.TriggerIntervalMs != 0 {
		s.SetTriggerInterval(conf.TriggerIntervalMs)
	}
}

// NewFromConfig builds a configured Sonar on b.
func NewFromConfig(b board.Board, conf *Config, opts ...Option) *Sonar {
	s := New(b, conf.Pin, opts...)
	conf.Apply(s)
	return s
}
