// Package device talks to the sensor character device.
//
// The device is a single bidirectional, line-oriented channel. Writes carry
// one command token ("0" or "1" to select a signal, "reset" for the
// administrative reset). Reads return telemetry lines of the form
// "signal_id,value,device_timestamp[,extra...]"; a read that yields nothing
// means no sample is pending and is not an error.
package device

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// DefaultPath is the device node created by the sensor driver.
const DefaultPath = "/dev/sensor_drv"

// DefaultInfoPath is the driver's informational proc file.
const DefaultInfoPath = "/proc/sensor_qemu"

// CommandReset is the administrative reset token.
const CommandReset = "reset"

var (
	// ErrInvalidCommand is returned for command tokens the protocol does
	// not define.
	ErrInvalidCommand = errors.New("invalid device command")

	// ErrStreamClosed is returned by Stream.ReadLine after Cancel or Close.
	ErrStreamClosed = errors.New("device stream closed")
)

// Device is the external sensor endpoint.
type Device interface {
	// Command writes a single command token to the device.
	Command(ctx context.Context, token string) error

	// Open opens a read stream. The stream is held open by the caller for
	// as long as it keeps polling.
	Open() (Stream, error)
}

// Stream is an open read side of the device.
type Stream interface {
	// ReadLine returns the next complete line without its terminator.
	// It returns "" and a nil error when no data is pending.
	ReadLine() (string, error)

	// Cancel aborts a ReadLine blocked in another goroutine. It reports
	// whether the cancellation took effect.
	Cancel() bool

	Close() error
}

// ValidateCommand checks that token is one of the defined command tokens.
func ValidateCommand(token string) error {
	switch token {
	case "0", "1", CommandReset:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCommand, token)
	}
}

// IsUnavailable reports whether err means the device node is missing or no
// driver is bound to it.
func IsUnavailable(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.ENODEV) ||
		errors.Is(err, syscall.ENXIO)
}

// IsPermission reports whether err is an access fault on the device.
func IsPermission(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}
