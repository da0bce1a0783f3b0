package periph

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"go.viam.com/asyncsonar/components/board"
	"go.viam.com/asyncsonar/components/sensor/ultrasonic"
	"go.viam.com/asyncsonar/logging"
)

func newTestBoard(t *testing.T) (*Board, *gpiotest.Pin) {
	t.Helper()
	pin := &gpiotest.Pin{N: "GPIO17", EdgesChan: make(chan gpio.Level, 4)}
	b := NewBoard(clock.New(), logging.NewTestLogger(t), pin)
	t.Cleanup(func() {
		test.That(t, b.Close(context.Background()), test.ShouldBeNil)
	})
	return b, pin
}

func attachedEdge(b *Board, pin string) gpio.Edge {
	return b.lines[pin].edges.Attached()
}

func TestUnknownPin(t *testing.T) {
	b, _ := newTestBoard(t)
	test.That(t, b.SetMode("GPIO4", board.ModeOutput), test.ShouldNotBeNil)
	test.That(t, b.Write("GPIO4", gpio.High), test.ShouldNotBeNil)
	err := b.Attach("GPIO4", gpio.RisingEdge, func(uint32) {})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `unknown pin "GPIO4"`)
	b.Detach("GPIO4")
}

func TestWrite(t *testing.T) {
	b, pin := newTestBoard(t)
	test.That(t, b.SetMode("GPIO17", board.ModeOutput), test.ShouldBeNil)
	test.That(t, b.Write("GPIO17", gpio.High), test.ShouldBeNil)
	test.That(t, pin.Read(), test.ShouldEqual, gpio.High)
	test.That(t, b.Write("GPIO17", gpio.Low), test.ShouldBeNil)
	test.That(t, pin.Read(), test.ShouldEqual, gpio.Low)

	test.That(t, b.SetMode("GPIO17", board.ModeInput), test.ShouldBeNil)
	test.That(t, pin.Pull(), test.ShouldEqual, gpio.PullDown)
}

func TestAttachRejectsBothEdges(t *testing.T) {
	b, _ := newTestBoard(t)
	err := b.Attach("GPIO17", gpio.BothEdges, func(uint32) {})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsupported edge")
}

func TestEdgesMatchDirection(t *testing.T) {
	b, pin := newTestBoard(t)
	var calls atomic.Int32
	var stamps []uint32
	handler := func(micros uint32) {
		stamps = append(stamps, micros)
		calls.Inc()
	}

	test.That(t, b.SetMode("GPIO17", board.ModeInput), test.ShouldBeNil)
	test.That(t, b.Attach("GPIO17", gpio.RisingEdge, handler), test.ShouldBeNil)

	// the falling edge arrives first and must not fire the rising handler
	pin.EdgesChan <- gpio.Low
	pin.EdgesChan <- gpio.High
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, calls.Load(), test.ShouldEqual, int32(1))
	})
	test.That(t, attachedEdge(b, "GPIO17"), test.ShouldEqual, gpio.NoEdge)

	test.That(t, b.Attach("GPIO17", gpio.FallingEdge, handler), test.ShouldBeNil)
	pin.EdgesChan <- gpio.High
	pin.EdgesChan <- gpio.Low
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, calls.Load(), test.ShouldEqual, int32(2))
	})
	test.That(t, len(stamps), test.ShouldEqual, 2)

	test.That(t, b.Attach("GPIO17", gpio.RisingEdge, handler), test.ShouldBeNil)
	b.Detach("GPIO17")
	test.That(t, attachedEdge(b, "GPIO17"), test.ShouldEqual, gpio.NoEdge)
}

// TestEchoTimedFromEdges runs several cycles whose echo arrives with nobody polling the sonar.
// The width must come from when the edges happened, not from when they were handed over.
func TestEchoTimedFromEdges(t *testing.T) {
	b, pin := newTestBoard(t)
	s := ultrasonic.New(b, "GPIO17")

	for cycle := 0; cycle < 5; cycle++ {
		s.Start()
		time.Sleep(200 * time.Microsecond)
		pin.EdgesChan <- gpio.High
		time.Sleep(5 * time.Millisecond)
		pin.EdgesChan <- gpio.Low
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			tb.Helper()
			test.That(tb, s.Status(), test.ShouldEqual, ultrasonic.Finished)
		})
		s.Update()
		test.That(t, s.RawDuration(), test.ShouldBeGreaterThanOrEqualTo, uint32(2500))
		test.That(t, s.RawDuration(), test.ShouldBeLessThan, uint32(100000))
	}
}

func TestBusyWaitMicros(t *testing.T) {
	b, _ := newTestBoard(t)
	start := time.Now()
	b.BusyWaitMicros(200)
	test.That(t, time.Since(start) >= 200*time.Microsecond, test.ShouldBeTrue)
}

func TestSonarCycle(t *testing.T) {
	b, pin := newTestBoard(t)
	var pings atomic.Int32
	s := ultrasonic.New(b, "GPIO17", ultrasonic.WithOnPing(func(*ultrasonic.Sonar) { pings.Inc() }))

	s.Start()
	test.That(t, s.Status(), test.ShouldEqual, ultrasonic.WaitingResponse)
	test.That(t, s.LastError(), test.ShouldBeNil)
	test.That(t, attachedEdge(b, "GPIO17"), test.ShouldEqual, gpio.RisingEdge)

	pin.EdgesChan <- gpio.High
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, attachedEdge(b, "GPIO17"), test.ShouldEqual, gpio.FallingEdge)
	})
	pin.EdgesChan <- gpio.Low
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, s.Status(), test.ShouldEqual, ultrasonic.Finished)
	})

	s.Update()
	test.That(t, pings.Load(), test.ShouldEqual, int32(1))
	test.That(t, s.Status(), test.ShouldEqual, ultrasonic.Idle)
}

func TestClose(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO22", EdgesChan: make(chan gpio.Level, 1)}
	b := NewBoard(clock.New(), logging.NewTestLogger(t), pin)
	test.That(t, b.Attach("GPIO22", gpio.RisingEdge, func(uint32) {}), test.ShouldBeNil)
	test.That(t, b.Close(context.Background()), test.ShouldBeNil)
	test.That(t, attachedEdge(b, "GPIO22"), test.ShouldEqual, gpio.NoEdge)
	test.That(t, b.workers.Context().Err(), test.ShouldNotBeNil)
}
