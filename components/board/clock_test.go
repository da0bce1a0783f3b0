package board

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
)

func TestClock(t *testing.T) {
	mock := clock.NewMock()
	c := NewClock(mock)
	test.That(t, c.Millis(), test.ShouldEqual, uint32(0))
	test.That(t, c.Micros(), test.ShouldEqual, uint32(0))

	mock.Add(1500 * time.Microsecond)
	test.That(t, c.Millis(), test.ShouldEqual, uint32(1))
	test.That(t, c.Micros(), test.ShouldEqual, uint32(1500))
}

func TestClockWraps(t *testing.T) {
	mock := clock.NewMock()
	c := NewClockAt(mock, math.MaxUint32-99)
	before := c.Micros()

	mock.Add(250 * time.Microsecond)
	after := c.Micros()
	test.That(t, after, test.ShouldEqual, uint32(150))
	test.That(t, after-before, test.ShouldEqual, uint32(250))
}

func TestModeString(t *testing.T) {
	test.That(t, ModeInput.String(), test.ShouldEqual, "input")
	test.That(t, ModeOutput.String(), test.ShouldEqual, "output")
	test.That(t, Mode(7).String(), test.ShouldEqual, "unknown")
}

func TestSpinMicros(t *testing.T) {
	clk := clock.New()
	start := clk.Now()
	SpinMicros(clk, 300)
	test.That(t, clk.Since(start) >= 300*time.Microsecond, test.ShouldBeTrue)
}
