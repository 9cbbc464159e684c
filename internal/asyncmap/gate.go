package asyncmap

import "sync"

// gate is a FIFO, non-reentrant exclusion primitive. Unlike sync.Mutex it
// hands ownership directly to the oldest waiter on release, so callers are
// served strictly in arrival order.
type gate struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

func (g *gate) acquire() {
	g.mu.Lock()
	if !g.held {
		g.held = true
		g.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	g.waiters = append(g.waiters, ch)
	g.mu.Unlock()

	<-ch
}

func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.waiters) == 0 {
		g.held = false
		return
	}

	next := g.waiters[0]
	g.waiters[0] = nil
	g.waiters = g.waiters[1:]
	close(next)
}

// waiting reports how many callers are queued behind the current holder.
func (g *gate) waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}
