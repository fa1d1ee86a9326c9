package ingest

import (
	"context"
	"log/slog"

	"sensormon/internal/device"
	"sensormon/internal/logging"
	"sensormon/internal/notify"
	"sensormon/internal/signalbuf"
	"sensormon/internal/telemetry"
)

// Options configures a Controller.
type Options struct {
	// Initial is the signal that is active before the first Select.
	Initial telemetry.SignalID

	// Ingest carries the polling loop timings. Its Logger, Observer and
	// Changes fields are overridden by the ones below.
	Ingest Config

	// Buffers, if set, is used instead of a fresh set. This lets metrics
	// be wired to the buffers before the controller exists.
	Buffers *signalbuf.Set

	Logger   *slog.Logger
	Observer Observer
}

// Controller is the single entry point the presentation layer uses. It owns
// the per-signal buffers, the selector and the polling ingestor.
//
// All methods are safe for concurrent use. CurrentView never waits on the
// polling goroutine or on a device write.
type Controller struct {
	buffers  *signalbuf.Set
	selector *Selector
	ingestor *Ingestor
	changes  *notify.Signal
	logger   *slog.Logger
}

// NewController creates a stopped controller for dev.
func NewController(dev device.Device, opts Options) *Controller {
	logger := logging.Default(opts.Logger)
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	initial := opts.Initial
	if !initial.Valid() {
		initial = telemetry.Primary
	}

	buffers := opts.Buffers
	if buffers == nil {
		buffers = signalbuf.NewSet()
	}
	changes := notify.NewSignal()

	icfg := opts.Ingest
	icfg.Logger = logger
	icfg.Observer = observer
	icfg.Changes = changes

	return &Controller{
		buffers:  buffers,
		selector: newSelector(dev, buffers, initial, observer, changes, logger),
		ingestor: NewIngestor(dev, buffers, icfg),
		changes:  changes,
		logger:   logger.With("component", "controller"),
	}
}

// Start selects the active signal on the device and starts polling. It is
// a no-op if already running. A selection failure aborts the start and is
// returned as is.
func (c *Controller) Start(ctx context.Context) error {
	if c.ingestor.Running() {
		return nil
	}
	if err := c.selector.Select(ctx, c.selector.Active()); err != nil {
		return err
	}
	return c.ingestor.Start(ctx)
}

// Stop stops polling. See Ingestor.Stop.
func (c *Controller) Stop() error {
	return c.ingestor.Stop()
}

// Select switches the device to id. See Selector.Select.
func (c *Controller) Select(ctx context.Context, id telemetry.SignalID) error {
	return c.selector.Select(ctx, id)
}

// Reset sends the device reset command.
func (c *Controller) Reset(ctx context.Context) error {
	return c.selector.Reset(ctx)
}

// State returns the active signal and whether polling is running.
func (c *Controller) State() State {
	return State{
		Active:  c.selector.Active(),
		Running: c.ingestor.Running(),
	}
}

// Phase returns the ingestor's lifecycle phase.
func (c *Controller) Phase() Phase {
	return c.ingestor.Phase()
}

// Err returns the error that ended the last run, if any.
func (c *Controller) Err() error {
	return c.ingestor.Err()
}

// Done is closed when the current run ends. Nil when not running.
func (c *Controller) Done() <-chan struct{} {
	return c.ingestor.Done()
}

// Buffers exposes the per-signal buffers for read-only consumers such as
// metrics.
func (c *Controller) Buffers() *signalbuf.Set {
	return c.buffers
}

// Changes is notified after every stored sample, selection and run end.
func (c *Controller) Changes() *notify.Signal {
	return c.changes
}
