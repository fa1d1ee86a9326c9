// Package telemetry defines the sample model shared by the ingestion core:
// the two multiplexed signals, the samples parsed from device lines, and the
// static display metadata attached to each signal.
package telemetry

import (
	"fmt"
	"strconv"
)

// SignalID identifies one of the two streams multiplexed over the device.
// The set is closed; the integer value is the index used on the wire.
type SignalID int

const (
	Primary   SignalID = 0
	Secondary SignalID = 1
)

// Signals lists every signal in index order.
var Signals = [...]SignalID{Primary, Secondary}

// NumSignals is the number of signals carried by the device.
const NumSignals = len(Signals)

// Valid reports whether s is one of the known signals.
func (s SignalID) Valid() bool {
	return s == Primary || s == Secondary
}

// Token returns the command token that selects s on the device ("0" or "1").
func (s SignalID) Token() string {
	return strconv.Itoa(int(s))
}

func (s SignalID) String() string {
	switch s {
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// ParseSignalID parses a wire or command index ("0" or "1").
func ParseSignalID(v string) (SignalID, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid signal %q: %w", v, err)
	}
	id := SignalID(n)
	if !id.Valid() {
		return 0, fmt.Errorf("invalid signal %d: must be 0 or 1", n)
	}
	return id, nil
}

// Meta is the static presentation metadata for a signal.
type Meta struct {
	Name      string
	UnitLabel string
	Title     string
	// Nominal display range of the sensor.
	Min, Max int64
}

var metas = [NumSignals]Meta{
	Primary: {
		Name:      "Temperature",
		UnitLabel: "Temperature (°C)",
		Title:     "Signal 0: Temperature",
		Min:       0,
		Max:       60,
	},
	Secondary: {
		Name:      "Humidity",
		UnitLabel: "Humidity (%)",
		Title:     "Signal 1: Humidity",
		Min:       0,
		Max:       100,
	},
}

// MetaFor returns the display metadata for s. Unknown signals get a zero
// Meta with a generic title.
func MetaFor(s SignalID) Meta {
	if !s.Valid() {
		return Meta{Title: s.String()}
	}
	return metas[s]
}
