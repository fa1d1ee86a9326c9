package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"sensormon/internal/device"
	"sensormon/internal/logging"
	"sensormon/internal/notify"
	"sensormon/internal/signalbuf"
	"sensormon/internal/telemetry"
)

// Selector switches the device between signals and owns the active signal.
type Selector struct {
	dev      device.Device
	buffers  *signalbuf.Set
	observer Observer
	changes  *notify.Signal
	logger   *slog.Logger

	mu     sync.Mutex // serializes device writes and state publication
	active atomic.Int32
}

func newSelector(dev device.Device, buffers *signalbuf.Set, initial telemetry.SignalID, observer Observer, changes *notify.Signal, logger *slog.Logger) *Selector {
	s := &Selector{
		dev:      dev,
		buffers:  buffers,
		observer: observer,
		changes:  changes,
		logger:   logging.Default(logger).With("component", "selector"),
	}
	s.active.Store(int32(initial))
	return s
}

// Active returns the currently selected signal.
func (s *Selector) Active() telemetry.SignalID {
	return telemetry.SignalID(s.active.Load())
}

// Select writes id's token to the device. On success it clears id's buffer
// and then publishes id as active, so a reader that observes the new active
// signal also observes the cleared buffer. The previously active buffer is
// left intact.
//
// Any failure, including ctx ending before or during the write, returns an
// error wrapping ErrSelectionFailed and changes nothing. Concurrent calls
// are serialized; each performs its own write.
func (s *Selector) Select(ctx context.Context, id telemetry.SignalID) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %w: %v", ErrSelectionFailed, device.ErrInvalidCommand, id)
	}
	token := id.Token()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.command(ctx, token); err != nil {
		s.logger.Warn("select signal failed", "signal", id, "error", err)
		return fmt.Errorf("%w: select %v: %w", ErrSelectionFailed, id, err)
	}

	s.buffers.Buffer(id).Clear()
	prev := telemetry.SignalID(s.active.Swap(int32(id)))

	if s.changes != nil {
		s.changes.Notify()
	}
	s.logger.Info("signal selected", "signal", id, "previous", prev)
	return nil
}

// Reset sends the administrative reset command. It touches neither the
// active signal nor any buffer.
func (s *Selector) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.command(ctx, device.CommandReset); err != nil {
		s.logger.Warn("reset failed", "error", err)
		return fmt.Errorf("%w: reset: %w", ErrSelectionFailed, err)
	}
	s.logger.Info("device reset")
	return nil
}

// command performs one device write under s.mu and reports it to the
// observer. The returned error is classified.
func (s *Selector) command(ctx context.Context, token string) error {
	err := ctx.Err()
	if err == nil {
		err = s.dev.Command(ctx, token)
	}
	if err != nil {
		err = classify(err)
	}
	s.observer.SelectionDone(token, err)
	return err
}
