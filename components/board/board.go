// Package board defines the hardware surface the ultrasonic sensors consume: a wrapping
// millisecond/microsecond clock, digital writes on a named line, and single-shot edge interrupts.
//
// Implementations live in the fake and periph subpackages.
package board

import (
	"context"

	"periph.io/x/conn/v3/gpio"
)

// Mode is the direction of a GPIO line.
type Mode uint8

// The directions a line can be switched to.
const (
	ModeInput Mode = iota
	ModeOutput
)

func (m Mode) String() string {
	switch m {
	case ModeInput:
		return "input"
	case ModeOutput:
		return "output"
	default:
		return "unknown"
	}
}

// A Handler is called from the board's interrupt context when the edge it was attached for is
// seen. micros is when the edge happened, on a microsecond counter that wraps at 32 bits; only
// differences between stamps from the same line are meaningful. It must return quickly and must
// not block.
type Handler func(micros uint32)

// A Clock is a pair of monotonic counters that wrap at 32 bits. Elapsed time is always computed
// with unsigned subtraction so a single wrap between two readings is harmless.
type Clock interface {
	// Millis returns milliseconds since an arbitrary origin.
	Millis() uint32

	// Micros returns microseconds since an arbitrary origin.
	Micros() uint32
}

// GPIO drives a single line.
type GPIO interface {
	// SetMode switches the line between input and output.
	SetMode(pin string, mode Mode) error

	// Write drives an output line high or low.
	Write(pin string, level gpio.Level) error

	// BusyWaitMicros spins for n microseconds without yielding the calling context.
	BusyWaitMicros(n uint32)
}

// Interrupts registers edge callbacks. At most one handler is attached to a line at a time;
// attaching replaces the previous one.
type Interrupts interface {
	// Attach registers h to run once on the next edge of the given kind. Only gpio.RisingEdge
	// and gpio.FallingEdge are meaningful.
	Attach(pin string, edge gpio.Edge, h Handler) error

	// Detach removes whatever handler is attached to the line. It never blocks, so it may be
	// called from inside a Handler.
	Detach(pin string)
}

// A Board is everything a sensor needs from the host.
type Board interface {
	Clock
	GPIO
	Interrupts

	Close(ctx context.Context) error
}
