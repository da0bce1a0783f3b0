package board

import (
	"time"

	"github.com/benbjohnson/clock"
)

type wrappingClock struct {
	clk        clock.Clock
	origin     time.Time
	baseMicros uint32
}

// NewClock returns a Clock whose counters start at zero now and advance with clk.
func NewClock(clk clock.Clock) Clock {
	return NewClockAt(clk, 0)
}

// NewClockAt is like NewClock but the microsecond counter starts at startMicros and the
// millisecond counter at startMicros/1000. Tests use it to place readings around a wrap.
func NewClockAt(clk clock.Clock, startMicros uint32) Clock {
	return &wrappingClock{clk: clk, origin: clk.Now(), baseMicros: startMicros}
}

func (c *wrappingClock) Millis() uint32 {
	return c.baseMicros/1000 + uint32(c.clk.Since(c.origin).Milliseconds())
}

func (c *wrappingClock) Micros() uint32 {
	return c.baseMicros + uint32(c.clk.Since(c.origin).Microseconds())
}

// SpinMicros busy-waits on clk for n microseconds. Sleeping is far too coarse for a 10µs pulse.
func SpinMicros(clk clock.Clock, n uint32) {
	d := time.Duration(n) * time.Microsecond
	start := clk.Now()
	for clk.Since(start) < d {
	}
}
