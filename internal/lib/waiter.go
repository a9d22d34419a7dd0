package lib

import (
	"sync"
)

// Waiter is a small synchronization primitive that supports:
//   - Wait(): return a channel that will be closed by the next Poke().
//   - Poke(): if a waiter exists, release (close) the waiter channel.
type Waiter struct {
	mu     sync.Mutex
	waiter chan struct{} // non-nil when there is an active waiter to be signalled
}

// NewWaiter creates a Waiter without waiters.
func NewWaiter() *Waiter {
	return &Waiter{}
}

// Wait returns a receive-only channel that will be closed by the next Poke().
// If Wait is called multiple times before a Poke, the same channel is returned.
func (p *Waiter) Wait() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.waiter == nil {
		p.waiter = make(chan struct{})
	}

	return p.waiter
}

// Poke signals the current waiter, if any.
// Pokes without a waiter are not remembered.
func (p *Waiter) Poke() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.waiter == nil {
		return
	}
	close(p.waiter)
	p.waiter = nil
}
