// Package ultrasonic measures distance with pulse-echo ultrasonic sensors of the HC-SR04 class
// whose trigger and echo share one line, without ever blocking the caller.
//
// A Sonar is driven from two places. The caller's loop calls Update (or UpdateChained) as often
// as it likes; that is where pulses are sent, timeouts are noticed and results are delivered to
// the OnPing and OnTimeOut callbacks. The board calls the edge handlers from its interrupt
// context; those only record a timestamp and flip the status. Fields shared between the two are
// atomic cells.
//
// A Sonar must be polled from a single goroutine.
package ultrasonic

import (
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"

	"go.viam.com/asyncsonar/components/board"
	"go.viam.com/asyncsonar/logging"
)

// Status is the phase of a measurement cycle.
type Status uint32

// A cycle runs Idle -> Starting -> WaitingResponse -> Finished -> Idle. A timeout goes straight
// from WaitingResponse to Idle.
const (
	Idle Status = iota
	Starting
	WaitingResponse
	Finished
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case WaitingResponse:
		return "waiting_response"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

const (
	defaultSoundSpeedFactor      = 583
	defaultTimeoutMillis         = 25
	defaultTriggerIntervalMillis = 35

	settleMicros     = 4
	pulseWidthMicros = 10

	statusBits = 2
	statusMask = 1<<statusBits - 1
)

// A Callback receives the sonar that produced an outcome.
type Callback func(s *Sonar)

// An Option configures a Sonar at construction.
type Option func(s *Sonar)

// WithOnPing sets the callback run from Update after both echo edges were captured. It runs for
// every completed cycle, including ones whose duration was discarded as noise.
func WithOnPing(cb Callback) Option {
	return func(s *Sonar) { s.onPing = cb }
}

// WithOnTimeOut sets the callback run from Update when no echo ended within the timeout.
func WithOnTimeOut(cb Callback) Option {
	return func(s *Sonar) { s.onTimeOut = cb }
}

// WithOnEcho sets a hook run from the falling edge handler, in interrupt context, right after
// the cycle is marked finished. It must not block and must not call back into the Sonar other
// than reading Status.
func WithOnEcho(cb Callback) Option {
	return func(s *Sonar) { s.onEcho = cb }
}

// WithLogger sets the logger used for board failures.
func WithLogger(logger logging.Logger) Option {
	return func(s *Sonar) { s.logger = logger }
}

// A Sonar is one ultrasonic sensor.
type Sonar struct {
	board  board.Board
	pin    string
	logger logging.Logger

	onPing    Callback
	onTimeOut Callback
	onEcho    Callback

	// Bound once per cycle parity so attaching never allocates. A handler still in flight from
	// the previous cycle has the other parity and does nothing.
	risingHandlers  [2]board.Handler
	fallingHandlers [2]board.Handler

	// state holds the Status in its low bits and the cycle number above them, so a
	// compare-and-swap made for one cycle fails in the next.
	state         atomic.Uint32
	responseStart atomic.Uint32
	responseEnd   atomic.Uint32
	lastErr       atomic.Error

	startTime  uint32
	startDelay uint32

	lastRaw      uint32
	lastMeasured uint32
	filter       medianFilter

	soundSpeedFactor uint32
	timeout          uint32
	triggerInterval  uint32
}

// New returns an idle Sonar on the given line.
func New(b board.Board, pin string, opts ...Option) *Sonar {
	s := &Sonar{
		board:            b,
		pin:              pin,
		logger:           logging.NewBlankLogger(),
		soundSpeedFactor: defaultSoundSpeedFactor,
		timeout:          defaultTimeoutMillis,
		triggerInterval:  defaultTriggerIntervalMillis,
	}
	for parity := range uint32(2) {
		s.risingHandlers[parity] = func(micros uint32) { s.responseStarted(parity, micros) }
		s.fallingHandlers[parity] = func(micros uint32) { s.responseEnded(parity, micros) }
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pin returns the line the sonar drives.
func (s *Sonar) Pin() string {
	return s.pin
}

// Status returns the current phase.
func (s *Sonar) Status() Status {
	return Status(s.state.Load() & statusMask)
}

func (s *Sonar) setStatus(status Status) {
	for {
		old := s.state.Load()
		if s.state.CompareAndSwap(old, old&^statusMask|uint32(status)) {
			return
		}
	}
}

// beginCycle moves to WaitingResponse under a new cycle number and returns it.
func (s *Sonar) beginCycle() uint32 {
	for {
		old := s.state.Load()
		cycle := old>>statusBits + 1
		if s.state.CompareAndSwap(old, cycle<<statusBits|uint32(WaitingResponse)) {
			return cycle
		}
	}
}

// current reports whether a handler of the given parity belongs to a cycle still waiting for
// its echo, and returns the state it saw.
func (s *Sonar) current(parity uint32) (uint32, bool) {
	st := s.state.Load()
	return st, Status(st&statusMask) == WaitingResponse && (st>>statusBits)&1 == parity
}

// LastError returns the most recent board failure, or nil.
func (s *Sonar) LastError() error {
	return s.lastErr.Load()
}

// Start begins a cycle now. Calling it on an active sonar abandons the running cycle and starts
// over.
func (s *Sonar) Start() {
	s.delayedStart(s.board.Millis(), 0)
}

// StartAfter begins a cycle that pulses delayMillis from now. Like Start, it restarts an active
// sonar.
func (s *Sonar) StartAfter(delayMillis uint32) {
	s.delayedStart(s.board.Millis(), delayMillis)
}

// Stop detaches any interrupt and returns to Idle. It is safe in any state and idempotent.
func (s *Sonar) Stop() {
	s.board.Detach(s.pin)
	s.setStatus(Idle)
}

// Update advances the state machine by at most one transition. It never blocks for longer than
// a trigger pulse takes.
func (s *Sonar) Update() {
	s.UpdateChained(nil)
}

// UpdateChained is Update, but when this cycle ends, by echo or by timeout, next is started so
// that it pulses next.TriggerInterval() milliseconds after this cycle's pulse.
func (s *Sonar) UpdateChained(next *Sonar) {
	switch s.Status() {
	case Starting:
		if s.board.Millis()-s.startTime >= s.startDelay {
			s.ping()
		}
	case WaitingResponse:
		if s.board.Millis()-s.startTime >= s.timeout {
			s.timeOut()
			s.trigger(next)
		}
	case Finished:
		s.finish()
		s.trigger(next)
	case Idle:
	}
}

func (s *Sonar) delayedStart(startTime, delay uint32) {
	if s.Status() != Idle {
		s.board.Detach(s.pin)
	}
	s.startTime = startTime
	s.startDelay = delay
	s.setStatus(Starting)

	if s.board.Millis()-s.startTime >= s.startDelay {
		s.ping()
	}
}

// ping sends the trigger pulse and arms the rising edge. A board failure is kept and logged; the
// cycle still waits out its timeout so chained sensors keep running. A clean pulse clears the
// previous failure.
func (s *Sonar) ping() {
	s.board.Detach(s.pin)

	var err error
	err = multierr.Append(err, s.board.SetMode(s.pin, board.ModeOutput))
	err = multierr.Append(err, s.board.Write(s.pin, gpio.Low))
	s.board.BusyWaitMicros(settleMicros)
	err = multierr.Append(err, s.board.Write(s.pin, gpio.High))
	s.board.BusyWaitMicros(pulseWidthMicros)
	err = multierr.Append(err, s.board.Write(s.pin, gpio.Low))
	err = multierr.Append(err, s.board.SetMode(s.pin, board.ModeInput))
	s.board.BusyWaitMicros(settleMicros)

	s.startTime = s.board.Millis()
	cycle := s.beginCycle()
	err = multierr.Append(err, s.board.Attach(s.pin, gpio.RisingEdge, s.risingHandlers[cycle&1]))
	if err != nil {
		err = errors.Wrapf(err, "pulse on pin %s", s.pin)
		s.lastErr.Store(err)
		s.logger.Warnw("ultrasonic pulse failed", "pin", s.pin, "error", err)
		return
	}
	s.lastErr.Store(nil)
}

// responseStarted runs in interrupt context on the rising echo edge.
func (s *Sonar) responseStarted(parity, micros uint32) {
	if _, ok := s.current(parity); !ok {
		return
	}
	s.board.Detach(s.pin)
	s.responseStart.Store(micros)
	if err := s.board.Attach(s.pin, gpio.FallingEdge, s.fallingHandlers[parity]); err != nil {
		s.lastErr.Store(err)
	}
}

// responseEnded runs in interrupt context on the falling echo edge.
func (s *Sonar) responseEnded(parity, micros uint32) {
	st, ok := s.current(parity)
	if !ok {
		return
	}
	s.board.Detach(s.pin)
	s.responseEnd.Store(micros)
	if !s.state.CompareAndSwap(st, st&^statusMask|uint32(Finished)) {
		return
	}
	if s.onEcho != nil {
		s.onEcho(s)
	}
}

func (s *Sonar) timeOut() {
	s.Stop()
	s.lastRaw = s.timeout * 1000
	if s.onTimeOut != nil {
		s.onTimeOut(s)
	}
}

func (s *Sonar) finish() {
	s.Stop()
	s.lastRaw = s.responseEnd.Load() - s.responseStart.Load()
	if s.lastRaw > 0 {
		s.lastMeasured = s.lastRaw
		s.filter.push(s.lastRaw)
	}
	if s.onPing != nil {
		s.onPing(s)
	}
}

// trigger starts next from this cycle's pulse time rather than from now, so polling jitter does
// not accumulate along a chain.
func (s *Sonar) trigger(next *Sonar) {
	if next != nil {
		next.delayedStart(s.startTime, next.triggerInterval)
	}
}
