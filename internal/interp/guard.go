package interp

import (
	"sync"
	"sync/atomic"
	"time"
)

var global = NewGuard()

// Guard serializes execution inside the runtime. It is not re-entrant.
type Guard struct {
	mu      sync.Mutex
	holders atomic.Int32
}

func NewGuard() *Guard {
	return &Guard{}
}

// Global returns the process guard shared by every runtime built without
// an explicit one.
func Global() *Guard {
	return global
}

// Acquire blocks until the guard is free. The returned Held must be
// released exactly once, normally with defer.
func (g *Guard) Acquire() *Held {
	start := time.Now()
	g.mu.Lock()
	g.holders.Add(1)
	return &Held{g: g, holding: true, waited: time.Since(start)}
}

// Holders reports how many acquisitions are active. Always 0 or 1.
func (g *Guard) Holders() int {
	return int(g.holders.Load())
}

// Held is one scoped acquisition of a Guard. It belongs to the goroutine
// that acquired it.
type Held struct {
	g       *Guard
	holding bool
	waited  time.Duration
}

// Release gives the guard back. Calls after the first are no-ops.
func (h *Held) Release() {
	if h == nil || !h.holding {
		return
	}
	h.holding = false
	h.g.holders.Add(-1)
	h.g.mu.Unlock()
}

// Unlocked runs fn with the guard released and re-acquires it before
// returning, panics included. fn must not touch runtime objects.
func (h *Held) Unlocked(fn func() error) error {
	if h == nil || !h.holding {
		return fn()
	}
	h.Release()
	defer h.relock()
	return fn()
}

func (h *Held) Holding() bool {
	return h != nil && h.holding
}

// Waited is the time Acquire spent blocked.
func (h *Held) Waited() time.Duration {
	if h == nil {
		return 0
	}
	return h.waited
}

func (h *Held) relock() {
	h.g.mu.Lock()
	h.g.holders.Add(1)
	h.holding = true
}
