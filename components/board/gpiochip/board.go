//go:build linux

// Package gpiochip implements a board on a Linux GPIO character device, indirectly by way of
// mkch's gpio package. The kernel reports each edge with its direction and a timestamp taken in
// the interrupt, so echo widths do not depend on how quickly a goroutine gets scheduled.
//
// A character device line is either an output or an event source, so SetMode releases the line
// and requests it again in the other direction.
package gpiochip

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	gpiocdev "github.com/mkch/gpio"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"

	"go.viam.com/asyncsonar/components/board"
	"go.viam.com/asyncsonar/logging"
	"go.viam.com/asyncsonar/utils"
)

const consumer = "asyncsonar"

type line struct {
	offset uint32

	mu  sync.Mutex
	out *gpiocdev.Line
	in  *gpiocdev.LineWithEvent

	edges board.EdgeSlot
}

// Board drives lines of one GPIO chip.
type Board struct {
	board.Clock

	clk     clock.Clock
	logger  logging.Logger
	chip    *gpiocdev.Chip
	workers utils.StoppableWorkers
	lines   map[string]*line
}

// Open opens the chip at devicePath (for example /dev/gpiochip0) for the named lines. A name is
// a line offset, optionally prefixed with GPIO, so GPIO17 and 17 are the same line.
func Open(logger logging.Logger, devicePath string, names ...string) (*Board, error) {
	lines := make(map[string]*line, len(names))
	for _, name := range names {
		offset, err := ParseOffset(name)
		if err != nil {
			return nil, err
		}
		lines[name] = &line{offset: offset}
	}
	chip, err := gpiocdev.OpenChip(devicePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", devicePath)
	}
	clk := clock.New()
	return &Board{
		Clock:   board.NewClock(clk),
		clk:     clk,
		logger:  logger,
		chip:    chip,
		workers: utils.NewStoppableWorkers(),
		lines:   lines,
	}, nil
}

// ParseOffset turns a line name into a chip offset.
func ParseOffset(name string) (uint32, error) {
	offset, err := strconv.ParseUint(strings.TrimPrefix(strings.ToUpper(name), "GPIO"), 10, 32)
	if err != nil {
		return 0, errors.Errorf("invalid line %q: want an offset such as GPIO17 or 17", name)
	}
	return uint32(offset), nil
}

func (b *Board) line(pin string) (*line, error) {
	l, ok := b.lines[pin]
	if !ok {
		return nil, errors.Errorf("unknown pin %q", pin)
	}
	return l, nil
}

// SetMode requests the line as an output driven low, or as an input reporting both edges.
func (b *Board) SetMode(pin string, mode board.Mode) error {
	l, err := b.line(pin)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return b.setMode(pin, l, mode)
}

// setMode must be called with l.mu held.
func (b *Board) setMode(pin string, l *line, mode board.Mode) error {
	switch mode {
	case board.ModeOutput:
		if l.out != nil {
			return nil
		}
		err := b.release(l)
		out, openErr := b.chip.OpenLine(l.offset, 0, gpiocdev.Output, consumer)
		if openErr != nil {
			return multierr.Combine(err, errors.Wrapf(openErr, "requesting %s as output", pin))
		}
		l.out = out
		return err
	case board.ModeInput:
		if l.in != nil {
			return nil
		}
		err := b.release(l)
		in, openErr := b.chip.OpenLineWithEvents(l.offset, gpiocdev.Input, gpiocdev.BothEdges, consumer)
		if openErr != nil {
			return multierr.Combine(err, errors.Wrapf(openErr, "requesting %s for edges", pin))
		}
		l.in = in
		events := in.Events()
		b.workers.AddWorkers(func(ctx context.Context) {
			monitor(ctx, &l.edges, events)
		})
		return err
	default:
		return errors.Errorf("unsupported mode %v", mode)
	}
}

// release gives the line back to the kernel. Closing an event line closes its channel, which
// ends its monitor. l.mu must be held.
func (b *Board) release(l *line) error {
	var err error
	if l.out != nil {
		err = multierr.Append(err, l.out.Close())
		l.out = nil
	}
	if l.in != nil {
		err = multierr.Append(err, l.in.Close())
		l.in = nil
	}
	return err
}

// monitor hands kernel edge events to the line's handler until the channel closes.
func monitor(ctx context.Context, edges *board.EdgeSlot, events <-chan *gpiocdev.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			deliver(edges, event)
		}
	}
}

func deliver(edges *board.EdgeSlot, event *gpiocdev.Event) bool {
	if event == nil {
		return false
	}
	edge := gpio.FallingEdge
	if event.RisingEdge {
		edge = gpio.RisingEdge
	}
	return edges.Deliver(edge, uint32(event.Time.UnixNano()/1000))
}

// Write drives an output line.
func (b *Board) Write(pin string, level gpio.Level) error {
	l, err := b.line(pin)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return errors.Errorf("write to pin %q which is not an output", pin)
	}
	var value byte
	if level == gpio.High {
		value = 1
	}
	return errors.Wrapf(l.out.SetValue(value), "writing %s", pin)
}

// BusyWaitMicros spins on the board clock.
func (b *Board) BusyWaitMicros(n uint32) {
	board.SpinMicros(b.clk, n)
}

// Attach registers h for the next edge of the given direction. The line must already be an
// input, or it is switched to one.
func (b *Board) Attach(pin string, edge gpio.Edge, h board.Handler) error {
	l, err := b.line(pin)
	if err != nil {
		return err
	}
	l.mu.Lock()
	if l.in == nil {
		if err := b.setMode(pin, l, board.ModeInput); err != nil {
			l.mu.Unlock()
			return err
		}
	}
	l.mu.Unlock()
	return l.edges.Attach(edge, h)
}

// Detach drops the line's handler.
func (b *Board) Detach(pin string) {
	if l, err := b.line(pin); err == nil {
		l.edges.Detach()
	}
}

// Close stops the monitors and releases every line and the chip.
func (b *Board) Close(ctx context.Context) error {
	b.workers.Stop()
	var err error
	for name, l := range b.lines {
		l.edges.Detach()
		l.mu.Lock()
		releaseErr := b.release(l)
		l.mu.Unlock()
		if releaseErr != nil {
			b.logger.Debugw("error releasing line", "pin", name, "error", releaseErr)
			err = multierr.Append(err, errors.Wrapf(releaseErr, "releasing %s", name))
		}
	}
	return multierr.Combine(err, b.chip.Close())
}

var _ board.Board = (*Board)(nil)
