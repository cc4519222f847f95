package orchestrator

import (
	"sync"
	"sync/atomic"
)

// Guard tracks whether the conversation holds foreground focus. Work that
// performs I/O or mutates the session runs through Run; once Deactivate
// returns, no such work is running and none will start until Activate.
type Guard struct {
	active atomic.Bool

	// mu is held shared by Run and exclusively by Deactivate.
	mu sync.RWMutex

	// stopMu orders flag changes with replacing stopped.
	stopMu  sync.Mutex
	stopped chan struct{}
}

// NewGuard returns an active guard.
func NewGuard() *Guard {
	g := &Guard{stopped: make(chan struct{})}
	g.active.Store(true)
	return g
}

// Stopped returns a channel that is closed once the guard is deactivated.
// Guarded work selects on it instead of blocking Deactivate.
func (g *Guard) Stopped() <-chan struct{} {
	g.stopMu.Lock()
	defer g.stopMu.Unlock()
	return g.stopped
}

// Active reports the focus flag. It never blocks.
func (g *Guard) Active() bool {
	return g.active.Load()
}

// Run calls f if the guard is active and reports whether it did. f must not
// block on other guarded work.
func (g *Guard) Run(f func()) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.active.Load() {
		return false
	}
	f()
	return true
}

// Deactivate clears the focus flag and waits for running guarded work to
// finish. It reports whether the guard was active.
func (g *Guard) Deactivate() bool {
	g.stopMu.Lock()
	was := g.active.Swap(false)
	if was {
		close(g.stopped)
	}
	g.stopMu.Unlock()

	g.mu.Lock()
	g.mu.Unlock()
	return was
}

// Activate sets the focus flag.
func (g *Guard) Activate() {
	g.stopMu.Lock()
	defer g.stopMu.Unlock()
	if !g.active.Swap(true) {
		g.stopped = make(chan struct{})
	}
}
