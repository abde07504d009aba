package cache

import "sync"

// Guard is a readers-preferred reader/writer lock.
//
// Readers never block each other. The first reader of a wave takes exclusive admission,
// the last reader of the wave runs the drain hook and gives admission back.
// A writer only gets admission when no wave is active, so a steady stream of readers
// can keep a writer waiting indefinitely.
//
// sync.RWMutex is not used because it blocks new readers once a writer is waiting.
type Guard struct {
	// mu protects readers
	mu      sync.Mutex
	readers int
	// admit is a binary semaphore held either by one writer or by the active reader wave.
	// It is released by whichever goroutine ends the wave, not necessarily the one that took it.
	admit chan struct{}
	// onDrain runs with exclusive access when a wave ends.
	onDrain func()
}

// NewGuard returns a guard that calls onDrain (if not nil) every time the last reader of a wave leaves.
func NewGuard(onDrain func()) *Guard {
	return &Guard{
		admit:   make(chan struct{}, 1),
		onDrain: onDrain,
	}
}

// RLock enters the current reader wave, starting a new one if needed.
func (g *Guard) RLock() {
	g.mu.Lock()
	g.readers++
	if g.readers == 1 {
		// holding mu here makes the rest of the wave wait for us
		g.admit <- struct{}{}
	}
	g.mu.Unlock()
}

// RUnlock leaves the current reader wave.
// The last reader runs the drain hook before releasing admission.
func (g *Guard) RUnlock() {
	g.mu.Lock()
	g.readers--
	switch {
	case g.readers < 0:
		g.readers = 0
		g.mu.Unlock()
		panic("cache: RUnlock without matching RLock")
	case g.readers == 0:
		if g.onDrain != nil {
			g.onDrain()
		}
		<-g.admit
	}
	g.mu.Unlock()
}

// Lock acquires exclusive access, waiting for any active reader wave or writer.
func (g *Guard) Lock() {
	g.admit <- struct{}{}
}

// Unlock releases exclusive access.
func (g *Guard) Unlock() {
	select {
	case <-g.admit:
	default:
		panic("cache: Unlock of unlocked guard")
	}
}

// Readers returns the number of readers in the current wave.
func (g *Guard) Readers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readers
}
