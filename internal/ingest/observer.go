package ingest

import (
	"sensormon/internal/telemetry"
)

// Drop reasons reported to Observer.LineDropped.
const (
	DropMalformed  = "malformed"
	DropUnroutable = "unroutable"
)

// Observer receives ingestion events. Implementations must be safe for
// concurrent use and must not block; they are called from the polling
// goroutine and from control calls.
type Observer interface {
	SampleIngested(s telemetry.Sample)
	LineDropped(reason string)
	TransientError(err error)
	SelectionDone(token string, err error)
	PhaseChanged(p Phase)
}

// NopObserver ignores every event. Embed it to implement only some methods.
type NopObserver struct{}

func (NopObserver) SampleIngested(telemetry.Sample) {}
func (NopObserver) LineDropped(string)              {}
func (NopObserver) TransientError(error)            {}
func (NopObserver) SelectionDone(string, error)     {}
func (NopObserver) PhaseChanged(Phase)              {}

// Observers fans every event out to each non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	switch len(m) {
	case 0:
		return NopObserver{}
	case 1:
		return m[0]
	}
	return m
}

type multiObserver []Observer

func (m multiObserver) SampleIngested(s telemetry.Sample) {
	for _, o := range m {
		o.SampleIngested(s)
	}
}

func (m multiObserver) LineDropped(reason string) {
	for _, o := range m {
		o.LineDropped(reason)
	}
}

func (m multiObserver) TransientError(err error) {
	for _, o := range m {
		o.TransientError(err)
	}
}

func (m multiObserver) SelectionDone(token string, err error) {
	for _, o := range m {
		o.SelectionDone(token, err)
	}
}

func (m multiObserver) PhaseChanged(p Phase) {
	for _, o := range m {
		o.PhaseChanged(p)
	}
}
