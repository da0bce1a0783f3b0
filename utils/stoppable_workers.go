package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers runs background loops that share one context and are stopped together.
type StoppableWorkers interface {
	// AddWorkers starts each loop on its own goroutine. It does nothing once Stop was called.
	AddWorkers(...func(context.Context))
	// Stop cancels the shared context and blocks until every loop has returned.
	Stop()
	// Context is the context handed to every loop.
	Context() context.Context
}

type workerGroup struct {
	ctx    context.Context
	cancel context.CancelFunc

	// mu orders AddWorkers against Stop so no loop starts after Stop began waiting.
	mu      sync.Mutex
	stopped bool
	running sync.WaitGroup
}

// NewStoppableWorkers starts loops, which may be empty, and returns their group.
func NewStoppableWorkers(loops ...func(context.Context)) StoppableWorkers {
	ctx, cancel := context.WithCancel(context.Background())
	g := &workerGroup{ctx: ctx, cancel: cancel}
	g.AddWorkers(loops...)
	return g
}

func (g *workerGroup) AddWorkers(loops ...func(context.Context)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	for _, loop := range loops {
		g.running.Add(1)
		goutils.PanicCapturingGo(func() {
			defer g.running.Done()
			loop(g.ctx)
		})
	}
}

func (g *workerGroup) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	g.cancel()
	g.running.Wait()
}

func (g *workerGroup) Context() context.Context {
	return g.ctx
}
