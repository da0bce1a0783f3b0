package board

import (
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"periph.io/x/conn/v3/gpio"
)

type registration struct {
	edge    gpio.Edge
	handler Handler
}

// An EdgeSlot holds the single-shot handler of one line. Backends feed it every edge they see
// and it decides whether the attached handler wants it.
type EdgeSlot struct {
	reg atomic.Pointer[registration]
}

// Attach replaces the handler. Only gpio.RisingEdge and gpio.FallingEdge are accepted.
func (s *EdgeSlot) Attach(edge gpio.Edge, h Handler) error {
	if edge != gpio.RisingEdge && edge != gpio.FallingEdge {
		return errors.Errorf("unsupported edge %v", edge)
	}
	s.reg.Store(&registration{edge: edge, handler: h})
	return nil
}

// Detach drops the handler.
func (s *EdgeSlot) Detach() {
	s.reg.Store(nil)
}

// Attached returns the edge the handler waits for, or gpio.NoEdge.
func (s *EdgeSlot) Attached() gpio.Edge {
	if reg := s.reg.Load(); reg != nil {
		return reg.edge
	}
	return gpio.NoEdge
}

// Deliver runs the handler if it waits for edge, removing it first. An edge of the other
// direction leaves the handler attached. It reports whether a handler ran.
func (s *EdgeSlot) Deliver(edge gpio.Edge, micros uint32) bool {
	reg := s.reg.Load()
	if reg == nil || reg.edge != edge {
		return false
	}
	// lost to a concurrent Attach or Detach
	if !s.reg.CompareAndSwap(reg, nil) {
		return false
	}
	reg.handler(micros)
	return true
}

// EdgeFromLevel is the edge that leaves a line at level.
func EdgeFromLevel(level gpio.Level) gpio.Edge {
	if level == gpio.High {
		return gpio.RisingEdge
	}
	return gpio.FallingEdge
}
