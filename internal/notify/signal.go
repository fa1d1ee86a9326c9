// Package notify provides a broadcast wake-up primitive used to tell the
// presentation side that buffer contents changed.
package notify

import (
	"context"
	"sync"
)

// Signal is a broadcast notification. Waiters block on C() or Wait; every
// Notify wakes all of them at once by closing the current channel and
// installing a fresh one. Notifications are not queued: a waiter that was
// not waiting when Notify ran sees only later notifications.
type Signal struct {
	mu  sync.Mutex
	ch  chan struct{}
	seq uint64
}

// NewSignal creates a ready-to-use Signal.
func NewSignal() *Signal { return &Signal{ch: make(chan struct{})} }

// Notify wakes all current waiters.
func (s *Signal) Notify() {
	s.mu.Lock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.seq++
	s.mu.Unlock()
}

// C returns a channel that is closed on the next Notify call.
// Re-call C after each wakeup.
func (s *Signal) C() <-chan struct{} {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	return ch
}

// Seq returns the number of notifications delivered so far.
func (s *Signal) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Wait blocks until the next Notify or until ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
