// Package periph implements a board on host GPIO lines through periph.io.
//
// periph exposes edges as blocking waits rather than interrupts, so every line gets a watcher
// goroutine. While the line is an input the watcher is always parked in WaitForEdge, stamps each
// edge the moment the wait returns and reads the level back to tell rising from falling. Echoes
// shorter than the read back latency can be misread; the gpiochip board gets direction and time
// from the kernel instead.
package periph

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"go.viam.com/asyncsonar/components/board"
	"go.viam.com/asyncsonar/logging"
	"go.viam.com/asyncsonar/utils"
)

// edgePoll bounds how long a watcher sits in one wait, so disarming and closing are noticed.
const edgePoll = 5 * time.Millisecond

type line struct {
	pin   gpio.PinIO
	armed atomic.Bool
	wake  chan struct{}
	edges board.EdgeSlot
}

// Board drives a fixed set of lines.
type Board struct {
	board.Clock

	clk     clock.Clock
	logger  logging.Logger
	lines   map[string]*line
	workers utils.StoppableWorkers
}

// Open initializes the host drivers and returns a board over the named lines.
func Open(logger logging.Logger, names ...string) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "initializing host")
	}
	pins := make([]gpio.PinIO, 0, len(names))
	for _, name := range names {
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, errors.Errorf("no global pin found for %q", name)
		}
		pins = append(pins, pin)
	}
	return NewBoard(clock.New(), logger, pins...), nil
}

// NewBoard returns a board over already resolved pins. Lines are addressed by pin.Name().
func NewBoard(clk clock.Clock, logger logging.Logger, pins ...gpio.PinIO) *Board {
	b := &Board{
		Clock:  board.NewClock(clk),
		clk:    clk,
		logger: logger,
		lines:  make(map[string]*line, len(pins)),
	}
	watchers := make([]func(context.Context), 0, len(pins))
	for _, pin := range pins {
		l := &line{pin: pin, wake: make(chan struct{}, 1)}
		b.lines[pin.Name()] = l
		watchers = append(watchers, func(ctx context.Context) { b.watch(ctx, l) })
	}
	b.workers = utils.NewStoppableWorkers(watchers...)
	return b
}

func (b *Board) line(pin string) (*line, error) {
	l, ok := b.lines[pin]
	if !ok {
		return nil, errors.Errorf("unknown pin %q", pin)
	}
	return l, nil
}

// SetMode switches the line direction. Input lines report both edges with a pull down.
func (b *Board) SetMode(pin string, mode board.Mode) error {
	l, err := b.line(pin)
	if err != nil {
		return err
	}
	switch mode {
	case board.ModeOutput:
		l.armed.Store(false)
		return errors.Wrapf(l.pin.Out(gpio.Low), "setting %s to output", pin)
	case board.ModeInput:
		return b.arm(l)
	default:
		return errors.Errorf("unsupported mode %v", mode)
	}
}

func (b *Board) arm(l *line) error {
	if err := l.pin.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return errors.Wrapf(err, "setting %s to input", l.pin.Name())
	}
	l.armed.Store(true)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Write drives the line.
func (b *Board) Write(pin string, level gpio.Level) error {
	l, err := b.line(pin)
	if err != nil {
		return err
	}
	return errors.Wrapf(l.pin.Out(level), "writing %s", pin)
}

// BusyWaitMicros spins on the board clock.
func (b *Board) BusyWaitMicros(n uint32) {
	board.SpinMicros(b.clk, n)
}

// Attach registers h for the next edge of the given direction on the line, arming it for input
// first if needed.
func (b *Board) Attach(pin string, edge gpio.Edge, h board.Handler) error {
	if edge != gpio.RisingEdge && edge != gpio.FallingEdge {
		return errors.Errorf("unsupported edge %v", edge)
	}
	l, err := b.line(pin)
	if err != nil {
		return err
	}
	if !l.armed.Load() {
		if err := b.arm(l); err != nil {
			return err
		}
	}
	return l.edges.Attach(edge, h)
}

// Detach drops the line's handler.
func (b *Board) Detach(pin string) {
	if l, ok := b.lines[pin]; ok {
		l.edges.Detach()
	}
}

// watch delivers edges on one line until ctx is done. Edges nobody waits for are dropped.
func (b *Board) watch(ctx context.Context, l *line) {
	for ctx.Err() == nil {
		if !l.armed.Load() {
			select {
			case <-ctx.Done():
			case <-l.wake:
			}
			continue
		}
		if !l.pin.WaitForEdge(edgePoll) {
			continue
		}
		micros := b.Micros()
		l.edges.Deliver(board.EdgeFromLevel(l.pin.Read()), micros)
	}
}

// Close stops the watchers and halts every line.
func (b *Board) Close(ctx context.Context) error {
	b.workers.Stop()
	var err error
	for name, l := range b.lines {
		l.edges.Detach()
		if haltErr := l.pin.Halt(); haltErr != nil {
			b.logger.Debugw("error halting pin", "pin", name, "error", haltErr)
			err = multierr.Append(err, errors.Wrapf(haltErr, "halting %s", name))
		}
	}
	return err
}

var _ board.Board = (*Board)(nil)
