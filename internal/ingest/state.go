package ingest

import (
	"sensormon/internal/telemetry"
)

// Phase is the lifecycle state of the polling ingestor.
type Phase int32

const (
	Stopped Phase = iota
	Running
	Stopping
)

func (p Phase) String() string {
	switch p {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// State is a point-in-time view of the controller.
type State struct {
	Active  telemetry.SignalID
	Running bool
}
