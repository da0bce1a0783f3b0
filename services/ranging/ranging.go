// Package ranging runs a set of ultrasonic sensors as one chain from a single polling goroutine
// and keeps the latest outcome of each for readers on other goroutines.
package ranging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/asyncsonar/components/board"
	"go.viam.com/asyncsonar/components/sensor/ultrasonic"
	"go.viam.com/asyncsonar/logging"
	"go.viam.com/asyncsonar/utils"
)

const defaultPollIntervalUs = 500

// Config describes the sensors to run, in firing order.
type Config struct {
	PollIntervalUs uint32              `json:"poll_interval_us,omitempty"`
	Sensors        []ultrasonic.Config `json:"sensors"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if len(conf.Sensors) == 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "sensors")
	}
	names := map[string]struct{}{}
	pins := map[string]struct{}{}
	for idx := range conf.Sensors {
		sc := &conf.Sensors[idx]
		if err := sc.Validate(fmt.Sprintf("%s.%s.%d", path, "sensors", idx)); err != nil {
			return err
		}
		if _, ok := names[sc.Name]; ok {
			return goutils.NewConfigValidationError(path, errors.Errorf("duplicate sensor name %q", sc.Name))
		}
		if _, ok := pins[sc.Pin]; ok {
			return goutils.NewConfigValidationError(path, errors.Errorf("pin %q used by more than one sensor", sc.Pin))
		}
		names[sc.Name] = struct{}{}
		pins[sc.Pin] = struct{}{}
	}
	return nil
}

// Pins returns the lines the sensors use, in firing order.
func (conf *Config) Pins() []string {
	pins := make([]string, 0, len(conf.Sensors))
	for _, sc := range conf.Sensors {
		pins = append(pins, sc.Pin)
	}
	return pins
}

// A Reading is the state of one sensor after its most recent cycle.
type Reading struct {
	RawUs      uint32 `json:"raw_us"`
	MeasuredUs uint32 `json:"measured_us"`
	FilteredUs uint32 `json:"filtered_us"`
	RawMm      uint32 `json:"raw_mm"`
	MeasuredMm uint32 `json:"measured_mm"`
	FilteredMm uint32 `json:"filtered_mm"`
	Pings      uint64 `json:"pings"`
	TimeOuts   uint64 `json:"time_outs"`
	TimedOut   bool   `json:"timed_out"`
	LastError  string `json:"last_error,omitempty"`
}

// Service owns the polling goroutine of a sensor chain.
type Service struct {
	logger   logging.Logger
	chain    *ultrasonic.Chain
	interval time.Duration
	workers  utils.StoppableWorkers

	mu       sync.Mutex
	names    map[*ultrasonic.Sonar]string
	readings map[string]Reading
	closed   bool
}

// New builds a sonar per configured sensor on b and starts polling them.
func New(ctx context.Context, b board.Board, conf *Config, logger logging.Logger) (*Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := conf.Validate("ranging"); err != nil {
		return nil, err
	}
	interval := conf.PollIntervalUs
	if interval == 0 {
		interval = defaultPollIntervalUs
	}

	svc := &Service{
		logger:   logger,
		interval: time.Duration(interval) * time.Microsecond,
		names:    map[*ultrasonic.Sonar]string{},
		readings: map[string]Reading{},
	}
	sonars := make([]*ultrasonic.Sonar, 0, len(conf.Sensors))
	for idx := range conf.Sensors {
		sc := &conf.Sensors[idx]
		s := ultrasonic.NewFromConfig(b, sc,
			ultrasonic.WithOnPing(svc.recordPing),
			ultrasonic.WithOnTimeOut(svc.recordTimeOut),
			ultrasonic.WithLogger(logger.With("sensor", sc.Name)),
		)
		svc.names[s] = sc.Name
		svc.readings[sc.Name] = Reading{}
		sonars = append(sonars, s)
	}
	svc.chain = ultrasonic.NewChain(sonars...)

	logger.Debugw("starting ranging", "sensors", len(sonars), "poll_interval", svc.interval)
	svc.workers = utils.NewStoppableWorkers(svc.poll)
	return svc, nil
}

// poll is the only goroutine that touches the sonars.
func (svc *Service) poll(ctx context.Context) {
	svc.chain.Start()
	defer svc.chain.Stop()
	for {
		svc.chain.Update()
		if !goutils.SelectContextOrWait(ctx, svc.interval) {
			return
		}
	}
}

func (svc *Service) recordPing(s *ultrasonic.Sonar) {
	svc.record(s, false)
}

func (svc *Service) recordTimeOut(s *ultrasonic.Sonar) {
	svc.record(s, true)
}

func (svc *Service) record(s *ultrasonic.Sonar, timedOut bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	name := svc.names[s]
	r := svc.readings[name]
	r.RawUs = s.RawDuration()
	r.MeasuredUs = s.MeasuredDuration()
	r.FilteredUs = s.FilteredDuration()
	r.RawMm = s.RawDistance()
	r.MeasuredMm = s.MeasuredDistance()
	r.FilteredMm = s.FilteredDistance()
	r.TimedOut = timedOut
	if timedOut {
		r.TimeOuts++
	} else {
		r.Pings++
	}
	r.LastError = ""
	if err := s.LastError(); err != nil {
		r.LastError = err.Error()
	}
	svc.readings[name] = r
}

// Readings returns the latest reading of every sensor keyed by name.
func (svc *Service) Readings(ctx context.Context) (map[string]Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.closed {
		return nil, errors.New("ranging service is closed")
	}
	out := make(map[string]Reading, len(svc.readings))
	for name, r := range svc.readings {
		out[name] = r
	}
	return out, nil
}

// Close stops polling and leaves every sensor idle. The board is not closed.
func (svc *Service) Close(ctx context.Context) error {
	svc.workers.Stop()
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.closed = true
	return nil
}
