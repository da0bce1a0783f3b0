package board

import (
	"testing"

	"go.viam.com/test"
	"periph.io/x/conn/v3/gpio"
)

func TestEdgeSlot(t *testing.T) {
	var slot EdgeSlot
	var stamps []uint32
	record := func(micros uint32) { stamps = append(stamps, micros) }

	test.That(t, slot.Attached(), test.ShouldEqual, gpio.NoEdge)
	test.That(t, slot.Deliver(gpio.RisingEdge, 1), test.ShouldBeFalse)

	test.That(t, slot.Attach(gpio.RisingEdge, record), test.ShouldBeNil)
	test.That(t, slot.Deliver(gpio.FallingEdge, 2), test.ShouldBeFalse)
	test.That(t, slot.Attached(), test.ShouldEqual, gpio.RisingEdge)

	test.That(t, slot.Deliver(gpio.RisingEdge, 3), test.ShouldBeTrue)
	test.That(t, slot.Attached(), test.ShouldEqual, gpio.NoEdge)
	test.That(t, slot.Deliver(gpio.RisingEdge, 4), test.ShouldBeFalse)
	test.That(t, stamps, test.ShouldResemble, []uint32{3})

	test.That(t, slot.Attach(gpio.FallingEdge, record), test.ShouldBeNil)
	slot.Detach()
	test.That(t, slot.Deliver(gpio.FallingEdge, 5), test.ShouldBeFalse)

	err := slot.Attach(gpio.BothEdges, record)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsupported edge")
}

func TestHandlerMayAttachNext(t *testing.T) {
	var slot EdgeSlot
	var got []uint32
	var falling Handler = func(micros uint32) { got = append(got, micros) }
	rising := func(micros uint32) {
		got = append(got, micros)
		test.That(t, slot.Attach(gpio.FallingEdge, falling), test.ShouldBeNil)
	}

	test.That(t, slot.Attach(gpio.RisingEdge, rising), test.ShouldBeNil)
	test.That(t, slot.Deliver(gpio.RisingEdge, 100), test.ShouldBeTrue)
	test.That(t, slot.Attached(), test.ShouldEqual, gpio.FallingEdge)
	test.That(t, slot.Deliver(gpio.FallingEdge, 683), test.ShouldBeTrue)
	test.That(t, got, test.ShouldResemble, []uint32{100, 683})
}

func TestEdgeFromLevel(t *testing.T) {
	test.That(t, EdgeFromLevel(gpio.High), test.ShouldEqual, gpio.RisingEdge)
	test.That(t, EdgeFromLevel(gpio.Low), test.ShouldEqual, gpio.FallingEdge)
}
