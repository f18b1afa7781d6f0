// Package sched holds coordination primitives shared between the
// background schedulers.
package sched

import "sync"

// Gate serializes the database backup against pipeline ticks. Ticks
// enter as shared holders and may overlap; the backup enters
// exclusively and waits for in-flight ticks, while new ticks wait for
// the backup to finish. A nil Gate is a no-op.
type Gate struct {
	mu sync.RWMutex
}

// Enter marks a pipeline tick in flight.
func (g *Gate) Enter() {
	if g != nil {
		g.mu.RLock()
	}
}

// Leave releases a shared hold taken by Enter.
func (g *Gate) Leave() {
	if g != nil {
		g.mu.RUnlock()
	}
}

// EnterExclusive blocks until no shared holder remains, then holds the
// gate alone.
func (g *Gate) EnterExclusive() {
	if g != nil {
		g.mu.Lock()
	}
}

// LeaveExclusive releases the exclusive hold.
func (g *Gate) LeaveExclusive() {
	if g != nil {
		g.mu.Unlock()
	}
}
