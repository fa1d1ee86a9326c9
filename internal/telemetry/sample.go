package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedSample is returned by ParseLine for lines that cannot be
// turned into a Sample. It never leaves the ingestion loop.
var ErrMalformedSample = errors.New("malformed sample")

// minFields is the number of leading fields every device line must carry:
// signal_id, value, device_timestamp. Trailing fields are diagnostics.
const minFields = 3

// Sample is one parsed observation. Samples are values; they are never
// mutated after construction.
type Sample struct {
	Signal SignalID
	Value  int64
	// ObservedAt is the local receipt time assigned by the ingestor.
	ObservedAt time.Time
	// DeviceTS is the timestamp reported by the device, in its own clock
	// domain. It is kept for diagnostics and never used for ordering.
	DeviceTS int64
}

// ParseLine parses a device line of the form
//
//	signal_id,value,device_timestamp[,extra...]
//
// and stamps the result with observedAt. Surrounding whitespace (including
// the trailing newline) is ignored. Errors wrap ErrMalformedSample.
func ParseLine(line string, observedAt time.Time) (Sample, error) {
	line = strings.TrimSpace(line)
	fields := strings.Split(line, ",")
	if len(fields) < minFields {
		return Sample{}, fmt.Errorf("%w: want at least %d fields, got %d", ErrMalformedSample, minFields, len(fields))
	}

	sig, err := ParseSignalID(strings.TrimSpace(fields[0]))
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %w", ErrMalformedSample, err)
	}
	value, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: value: %w", ErrMalformedSample, err)
	}
	deviceTS, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: device timestamp: %w", ErrMalformedSample, err)
	}

	return Sample{
		Signal:     sig,
		Value:      value,
		ObservedAt: observedAt,
		DeviceTS:   deviceTS,
	}, nil
}

// FormatLine renders s in the device wire format. The device timestamp is
// written as-is; ObservedAt is not part of the wire format.
func FormatLine(s Sample) string {
	return fmt.Sprintf("%d,%d,%d", int(s.Signal), s.Value, s.DeviceTS)
}
