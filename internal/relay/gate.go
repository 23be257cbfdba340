package relay

import "sync"

// Gate admits one generation at a time. TryAcquire is the only way in, so
// the check and the transition to busy are a single step.
type Gate struct {
	mu   sync.Mutex
	busy bool
}

func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return false
	}
	g.busy = true
	return true
}

func (g *Gate) Release() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}

func (g *Gate) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}
