package ingest

import (
	"sensormon/internal/telemetry"
)

// View is the read model handed to the presentation layer: the samples of
// the active signal plus its display labels.
type View struct {
	Signal    telemetry.SignalID
	Samples   []telemetry.Sample
	UnitLabel string
	Title     string
}

// Flowing reports whether the active signal has any samples.
func (v View) Flowing() bool {
	return len(v.Samples) > 0
}

// Latest returns the most recent sample, if any.
func (v View) Latest() (telemetry.Sample, bool) {
	if len(v.Samples) == 0 {
		return telemetry.Sample{}, false
	}
	return v.Samples[len(v.Samples)-1], true
}

// CurrentView reads the active signal, snapshots its buffer and attaches
// the signal's labels. It never blocks on the polling loop; only the
// buffer's read lock is taken, and only for the copy.
func (c *Controller) CurrentView() View {
	active := c.selector.Active()
	meta := telemetry.MetaFor(active)
	return View{
		Signal:    active,
		Samples:   c.buffers.Buffer(active).Snapshot(),
		UnitLabel: meta.UnitLabel,
		Title:     meta.Title,
	}
}
