package ingest

import (
	"errors"
	"fmt"

	"sensormon/internal/device"
)

var (
	// ErrChannelUnavailable means the device node is missing or has no
	// driver behind it. Fatal to Start and terminal for a running loop.
	ErrChannelUnavailable = errors.New("device channel unavailable")

	// ErrPermissionDenied means the process may not access the device.
	// Terminal for the current ingestion attempt; never retried.
	ErrPermissionDenied = errors.New("device permission denied")

	// ErrSelectionFailed is returned by Select and Reset when the command
	// could not be written. Controller state is left unchanged.
	ErrSelectionFailed = errors.New("signal selection failed")

	// ErrTransientIO marks any other device fault. The loop backs off and
	// retries; these never reach callers of Start/Stop.
	ErrTransientIO = errors.New("transient device error")

	// ErrStopTimeout is returned by Stop when the polling goroutine did not
	// exit within the stop timeout and was abandoned.
	ErrStopTimeout = errors.New("ingestor stop timed out")
)

// classify wraps a device error with the matching sentinel.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case device.IsUnavailable(err):
		return fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
	case device.IsPermission(err):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %w", ErrTransientIO, err)
	}
}

// isTerminal reports whether a classified error must stop the loop.
func isTerminal(err error) bool {
	return errors.Is(err, ErrChannelUnavailable) || errors.Is(err, ErrPermissionDenied)
}
