// Package fake implements an in-memory board driven by a mock clock. Every GPIO call is recorded
// so tests can check the exact pulse a sensor emits, and edges are delivered by calling Fire.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"

	"go.viam.com/asyncsonar/components/board"
)

// OpKind names a recorded board call.
type OpKind string

// Recorded call kinds.
const (
	OpSetMode OpKind = "set_mode"
	OpWrite   OpKind = "write"
	OpWait    OpKind = "wait"
	OpAttach  OpKind = "attach"
	OpDetach  OpKind = "detach"
)

// An Op is one recorded call. Only the fields relevant to Kind are set.
type Op struct {
	Kind   OpKind
	Pin    string
	Mode   board.Mode
	Level  gpio.Level
	Edge   gpio.Edge
	Micros uint32
}

type attachment struct {
	edge    gpio.Edge
	handler board.Handler
}

// Board is a fake board.
type Board struct {
	board.Clock

	// Mock is the clock behind the board. Advance it through Board.Advance so clock moves from
	// the test and from BusyWaitMicros never interleave.
	Mock *clock.Mock

	clockMu sync.Mutex

	mu        sync.Mutex
	ops       []Op
	modes     map[string]board.Mode
	levels    map[string]gpio.Level
	attached  map[string]attachment
	writeErr  error
	attachErr error
	closed    bool
}

// NewBoard returns a fake board whose counters start at zero.
func NewBoard() *Board {
	return NewBoardAt(0)
}

// NewBoardAt returns a fake board whose microsecond counter starts at startMicros.
func NewBoardAt(startMicros uint32) *Board {
	mock := clock.NewMock()
	return &Board{
		Clock:    board.NewClockAt(mock, startMicros),
		Mock:     mock,
		modes:    map[string]board.Mode{},
		levels:   map[string]gpio.Level{},
		attached: map[string]attachment{},
	}
}

// Advance moves the clock forward.
func (b *Board) Advance(d time.Duration) {
	b.clockMu.Lock()
	defer b.clockMu.Unlock()
	b.Mock.Add(d)
}

// SetWriteError makes every following Write fail with err. Pass nil to clear it.
func (b *Board) SetWriteError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeErr = err
}

// SetAttachError makes every following Attach fail with err. Pass nil to clear it.
func (b *Board) SetAttachError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attachErr = err
}

// SetMode records the direction of a line.
func (b *Board) SetMode(pin string, mode board.Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(Op{Kind: OpSetMode, Pin: pin, Mode: mode})
	b.modes[pin] = mode
	return nil
}

// Write records a level written to an output line.
func (b *Board) Write(pin string, level gpio.Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}
	if b.modes[pin] != board.ModeOutput {
		return errors.Errorf("write to pin %q which is not an output", pin)
	}
	b.record(Op{Kind: OpWrite, Pin: pin, Level: level})
	b.levels[pin] = level
	return nil
}

// BusyWaitMicros advances the clock by n microseconds.
func (b *Board) BusyWaitMicros(n uint32) {
	b.mu.Lock()
	b.record(Op{Kind: OpWait, Micros: n})
	b.mu.Unlock()
	b.Advance(time.Duration(n) * time.Microsecond)
}

// Attach registers h for the next edge on pin, replacing any previous handler.
func (b *Board) Attach(pin string, edge gpio.Edge, h board.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attachErr != nil {
		return b.attachErr
	}
	if edge != gpio.RisingEdge && edge != gpio.FallingEdge {
		return errors.Errorf("unsupported edge %v", edge)
	}
	b.record(Op{Kind: OpAttach, Pin: pin, Edge: edge})
	b.attached[pin] = attachment{edge: edge, handler: h}
	return nil
}

// Detach removes the handler on pin, if any.
func (b *Board) Detach(pin string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(Op{Kind: OpDetach, Pin: pin})
	delete(b.attached, pin)
}

// Fire delivers an edge on pin, stamped with the current Micros. The attached handler runs on
// the calling goroutine, which plays the part of interrupt context, only if it was attached for
// this kind of edge. It reports whether a handler ran.
func (b *Board) Fire(pin string, edge gpio.Edge) bool {
	b.mu.Lock()
	a, ok := b.attached[pin]
	b.mu.Unlock()
	if !ok || a.edge != edge {
		return false
	}
	a.handler(b.Micros())
	return true
}

// Take removes the handler on pin and returns it without running it, the way a backend holds a
// claimed edge before delivering it.
func (b *Board) Take(pin string) (board.Handler, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.attached[pin]
	if !ok {
		return nil, false
	}
	delete(b.attached, pin)
	return a.handler, true
}

// Attached returns the edge a handler is waiting for on pin.
func (b *Board) Attached(pin string) (gpio.Edge, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.attached[pin]
	return a.edge, ok
}

// Level returns the last level written to pin.
func (b *Board) Level(pin string) gpio.Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.levels[pin]
}

// Ops returns a copy of the recorded calls.
func (b *Board) Ops() []Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Op(nil), b.ops...)
}

// ResetOps forgets the recorded calls.
func (b *Board) ResetOps() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = nil
}

// Close detaches everything.
func (b *Board) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attached = map[string]attachment{}
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *Board) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Board) record(op Op) {
	b.ops = append(b.ops, op)
}
