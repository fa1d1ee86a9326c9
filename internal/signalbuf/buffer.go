// Package signalbuf provides the bounded per-signal sample history.
//
// Each Buffer is a fixed-capacity ring guarded by its own RWMutex. Appends
// to one signal never contend with reads of the other. When a buffer is
// full the oldest sample is dropped; this data loss is the retention policy,
// not an error.
package signalbuf

import (
	"sync"

	"sensormon/internal/telemetry"
)

// Capacity is the number of samples retained per signal.
const Capacity = 100

// Buffer is a fixed-capacity FIFO of samples belonging to a single signal.
// The zero value is not usable; use New.
type Buffer struct {
	signal telemetry.SignalID

	mu    sync.RWMutex
	ring  [Capacity]telemetry.Sample
	head  int // index of the oldest sample
	count int
}

// New creates an empty buffer for signal.
func New(signal telemetry.SignalID) *Buffer {
	return &Buffer{signal: signal}
}

// Signal returns the signal this buffer holds.
func (b *Buffer) Signal() telemetry.SignalID {
	return b.signal
}

// Append adds s at the tail, evicting the oldest sample when full.
// It reports false and stores nothing if s belongs to another signal.
func (b *Buffer) Append(s telemetry.Sample) bool {
	if s.Signal != b.signal {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < Capacity {
		b.ring[(b.head+b.count)%Capacity] = s
		b.count++
		return true
	}
	// Full: overwrite the oldest slot and advance head.
	b.ring[b.head] = s
	b.head = (b.head + 1) % Capacity
	return true
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.head = 0
	b.count = 0
	b.ring = [Capacity]telemetry.Sample{}
	b.mu.Unlock()
}

// Len returns the number of samples currently held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Snapshot returns an independent copy of the held samples, oldest first.
// The read lock is held only for the copy.
func (b *Buffer) Snapshot() []telemetry.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]telemetry.Sample, b.count)
	first := min(b.count, Capacity-b.head)
	copy(out, b.ring[b.head:b.head+first])
	copy(out[first:], b.ring[:b.count-first])
	return out
}
