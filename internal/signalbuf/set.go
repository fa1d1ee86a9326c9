package signalbuf

import (
	"sensormon/internal/telemetry"
)

// Set holds one Buffer per signal. Buffers are created once and live as
// long as the Set; they are only ever cleared.
type Set struct {
	buffers [telemetry.NumSignals]*Buffer
}

// NewSet creates a Set with an empty buffer for every signal.
func NewSet() *Set {
	s := &Set{}
	for _, id := range telemetry.Signals {
		s.buffers[id] = New(id)
	}
	return s
}

// Buffer returns the buffer for id, or nil if id is not a known signal.
func (s *Set) Buffer(id telemetry.SignalID) *Buffer {
	if !id.Valid() {
		return nil
	}
	return s.buffers[id]
}

// Route appends sample to the buffer named by its own signal, independent
// of which signal is active. It reports false for unknown signals.
func (s *Set) Route(sample telemetry.Sample) bool {
	b := s.Buffer(sample.Signal)
	if b == nil {
		return false
	}
	return b.Append(sample)
}

// Lens returns the current length of every buffer, indexed by signal.
func (s *Set) Lens() [telemetry.NumSignals]int {
	var out [telemetry.NumSignals]int
	for i, b := range s.buffers {
		out[i] = b.Len()
	}
	return out
}
