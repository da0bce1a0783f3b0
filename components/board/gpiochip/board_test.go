//go:build linux

package gpiochip

import (
	"context"
	"testing"
	"time"

	gpiocdev "github.com/mkch/gpio"
	"go.uber.org/atomic"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"
	"periph.io/x/conn/v3/gpio"

	"go.viam.com/asyncsonar/components/board"
	"go.viam.com/asyncsonar/logging"
)

func TestParseOffset(t *testing.T) {
	for name, want := range map[string]uint32{"GPIO17": 17, "gpio4": 4, "27": 27} {
		got, err := ParseOffset(name)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, want)
	}
	for _, name := range []string{"", "GPIO", "P1_11", "-3"} {
		_, err := ParseOffset(name)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestOpenErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := Open(logger, "/dev/gpiochip0", "GPIO17", "P1_11")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "P1_11")

	_, err = Open(logger, "/dev/asyncsonar-no-such-chip", "GPIO17")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "opening /dev/asyncsonar-no-such-chip")
}

func TestDeliverUsesKernelEdge(t *testing.T) {
	var edges board.EdgeSlot
	var stamps []uint32
	record := func(micros uint32) { stamps = append(stamps, micros) }
	base := time.Unix(1700000000, 0)

	test.That(t, edges.Attach(gpio.RisingEdge, record), test.ShouldBeNil)
	test.That(t, deliver(&edges, &gpiocdev.Event{RisingEdge: false, Time: base}), test.ShouldBeFalse)
	test.That(t, deliver(&edges, &gpiocdev.Event{RisingEdge: true, Time: base.Add(100 * time.Microsecond)}),
		test.ShouldBeTrue)

	test.That(t, edges.Attach(gpio.FallingEdge, record), test.ShouldBeNil)
	test.That(t, deliver(&edges, nil), test.ShouldBeFalse)
	test.That(t, deliver(&edges, &gpiocdev.Event{RisingEdge: true, Time: base.Add(200 * time.Microsecond)}),
		test.ShouldBeFalse)
	test.That(t, deliver(&edges, &gpiocdev.Event{RisingEdge: false, Time: base.Add(1266 * time.Microsecond)}),
		test.ShouldBeTrue)

	test.That(t, len(stamps), test.ShouldEqual, 2)
	test.That(t, stamps[1]-stamps[0], test.ShouldEqual, uint32(1166))
}

func TestMonitor(t *testing.T) {
	var edges board.EdgeSlot
	var calls atomic.Int32
	test.That(t, edges.Attach(gpio.RisingEdge, func(uint32) { calls.Inc() }), test.ShouldBeNil)

	events := make(chan *gpiocdev.Event, 2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		monitor(context.Background(), &edges, events)
	}()

	events <- &gpiocdev.Event{RisingEdge: true, Time: time.Now()}
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, calls.Load(), test.ShouldEqual, int32(1))
	})

	// closing the line closes its channel
	close(events)
	<-done

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	monitor(ctx, &edges, make(chan *gpiocdev.Event))
}
