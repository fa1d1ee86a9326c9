package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"sensormon/internal/device"
	"sensormon/internal/logging"
	"sensormon/internal/notify"
	"sensormon/internal/telemetry"
)

// Default loop timings.
const (
	DefaultIdleInterval    = 500 * time.Millisecond
	DefaultPaceInterval    = 100 * time.Millisecond
	DefaultBackoffInterval = time.Second
	DefaultStopTimeout     = 2 * time.Second
)

// faultLogInterval throttles per-line and transient fault logging.
const faultLogInterval = 10 * time.Second

// Sink receives parsed samples. signalbuf.Set implements it.
type Sink interface {
	Route(s telemetry.Sample) bool
}

// Config configures an Ingestor. Zero durations take the defaults above.
type Config struct {
	IdleInterval    time.Duration
	PaceInterval    time.Duration
	BackoffInterval time.Duration
	StopTimeout     time.Duration

	// Now stamps ObservedAt on every sample. Defaults to time.Now.
	Now func() time.Time

	Logger   *slog.Logger
	Observer Observer

	// Changes, if set, is notified after every stored sample.
	Changes *notify.Signal
}

func (c Config) withDefaults() Config {
	if c.IdleInterval <= 0 {
		c.IdleInterval = DefaultIdleInterval
	}
	if c.PaceInterval <= 0 {
		c.PaceInterval = DefaultPaceInterval
	}
	if c.BackoffInterval <= 0 {
		c.BackoffInterval = DefaultBackoffInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Observer == nil {
		c.Observer = NopObserver{}
	}
	return c
}

// Ingestor polls the device on a dedicated goroutine and routes every
// parsed sample into the sink.
//
// Lifecycle is Stopped → Running → Stopping → Stopped. At most one polling
// goroutine is current at a time; one abandoned by a timed-out Stop never
// stores samples again.
//
// Logging:
//   - Scoped with component="ingestor" at construction
//   - Each run adds its run_id
//   - Malformed lines and transient faults are logged at most once per
//     faultLogInterval
type Ingestor struct {
	dev    device.Device
	sink   Sink
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex // serializes Start and Stop
	phase   atomic.Int32
	current atomic.Pointer[run]

	errMu   sync.Mutex
	lastErr error

	malformedLog rate.Sometimes
	transientLog rate.Sometimes
}

// NewIngestor creates a stopped Ingestor reading from dev into sink.
func NewIngestor(dev device.Device, sink Sink, cfg Config) *Ingestor {
	cfg = cfg.withDefaults()
	return &Ingestor{
		dev:          dev,
		sink:         sink,
		cfg:          cfg,
		logger:       logging.Default(cfg.Logger).With("component", "ingestor"),
		malformedLog: rate.Sometimes{Interval: faultLogInterval},
		transientLog: rate.Sometimes{Interval: faultLogInterval},
	}
}

// run is one activation of the polling goroutine.
type run struct {
	id     uuid.UUID
	cancel context.CancelFunc
	done   chan struct{}

	streamMu sync.Mutex
	stream   device.Stream // nil while reopening
}

func (r *run) readLine() (string, error) {
	r.streamMu.Lock()
	st := r.stream
	r.streamMu.Unlock()
	if st == nil {
		return "", device.ErrStreamClosed
	}
	return st.ReadLine()
}

func (r *run) swapStream(st device.Stream) {
	r.streamMu.Lock()
	old := r.stream
	r.stream = st
	r.streamMu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

func (r *run) cancelRead() {
	r.streamMu.Lock()
	st := r.stream
	r.streamMu.Unlock()
	if st != nil {
		st.Cancel()
	}
}

// Phase returns the current lifecycle phase.
func (ing *Ingestor) Phase() Phase {
	return Phase(ing.phase.Load())
}

// Running reports whether the polling loop is active.
func (ing *Ingestor) Running() bool {
	return ing.Phase() == Running
}

// Err returns the error that ended the most recent run, or the error of
// the most recent failed Start. It is cleared by a successful Start.
func (ing *Ingestor) Err() error {
	ing.errMu.Lock()
	defer ing.errMu.Unlock()
	return ing.lastErr
}

// Done returns a channel closed when the current run ends, whether by Stop
// or by a terminal fault. It returns nil when nothing is running.
func (ing *Ingestor) Done() <-chan struct{} {
	if r := ing.current.Load(); r != nil {
		return r.done
	}
	return nil
}

// Start opens the device stream and launches the polling goroutine. It is a
// no-op if already running. If the device cannot be opened the error wraps
// ErrChannelUnavailable or ErrPermissionDenied and the phase stays Stopped.
// The run ends when ctx is cancelled, Stop is called, or a terminal fault
// occurs. Start returns immediately.
func (ing *Ingestor) Start(ctx context.Context) error {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	if ing.Phase() == Running {
		return nil
	}

	stream, err := ing.dev.Open()
	if err != nil {
		err = classify(err)
		ing.setErr(err)
		ing.logger.Warn("open device failed", "error", err)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		id:     uuid.New(),
		cancel: cancel,
		done:   make(chan struct{}),
		stream: stream,
	}

	ing.setErr(nil)
	ing.current.Store(r)
	ing.setPhase(Running)

	logger := ing.logger.With("run_id", r.id.String())
	logger.Info("ingestor started")
	go ing.loop(runCtx, r, logger)

	return nil
}

// Stop signals the polling goroutine to exit and waits up to the stop
// timeout for it. The phase is Stopped when Stop returns even if the
// goroutine is still blocked; in that case it is abandoned and Stop returns
// ErrStopTimeout. Stop on a stopped ingestor is a no-op.
func (ing *Ingestor) Stop() error {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	r := ing.current.Load()
	if r == nil {
		return nil
	}

	select {
	case <-r.done:
		// The run already ended on its own.
		ing.current.CompareAndSwap(r, nil)
		ing.setPhase(Stopped)
		return nil
	default:
	}

	ing.setPhase(Stopping)
	r.cancel()
	r.cancelRead()

	timer := time.NewTimer(ing.cfg.StopTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-r.done:
	case <-timer.C:
		err = ErrStopTimeout
		ing.logger.Warn("polling goroutine did not exit, abandoning it",
			"run_id", r.id.String(), "timeout", ing.cfg.StopTimeout)
	}

	ing.current.CompareAndSwap(r, nil)
	ing.setPhase(Stopped)
	ing.logger.Info("ingestor stopped", "run_id", r.id.String())
	return err
}

func (ing *Ingestor) loop(ctx context.Context, r *run, logger *slog.Logger) {
	var terminal error
	defer func() { ing.finish(r, terminal, logger) }()

	for {
		if ctx.Err() != nil {
			return
		}

		line, err := r.readLine()

		// A run that was stopped while blocked in a read must not store
		// anything it read afterwards.
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			cerr := classify(err)
			if isTerminal(cerr) {
				terminal = cerr
				logger.Error("device fault, stopping ingestion", "error", cerr)
				return
			}
			ing.cfg.Observer.TransientError(cerr)
			ing.transientLog.Do(func() {
				logger.Warn("transient device error, backing off", "error", cerr, "backoff", ing.cfg.BackoffInterval)
			})
			if !sleep(ctx, ing.cfg.BackoffInterval) {
				return
			}
			if terminal = ing.reopen(r, logger); terminal != nil {
				return
			}
			continue
		}

		if line == "" {
			if !sleep(ctx, ing.cfg.IdleInterval) {
				return
			}
			continue
		}

		ing.handleLine(line, logger)

		if !sleep(ctx, ing.cfg.PaceInterval) {
			return
		}
	}
}

// reopen replaces the run's stream after a transient fault. It returns a
// terminal error if the device is gone or inaccessible; other open
// failures leave the stream unset so the next read retries.
func (ing *Ingestor) reopen(r *run, logger *slog.Logger) error {
	r.swapStream(nil)
	st, err := ing.dev.Open()
	if err != nil {
		cerr := classify(err)
		if isTerminal(cerr) {
			logger.Error("reopen device failed, stopping ingestion", "error", cerr)
			return cerr
		}
		ing.cfg.Observer.TransientError(cerr)
		return nil
	}
	r.swapStream(st)
	logger.Debug("device stream reopened")
	return nil
}

func (ing *Ingestor) handleLine(line string, logger *slog.Logger) {
	sample, err := telemetry.ParseLine(line, ing.cfg.Now())
	if err != nil {
		ing.cfg.Observer.LineDropped(DropMalformed)
		ing.malformedLog.Do(func() {
			logger.Debug("dropping malformed line", "line", line, "error", err)
		})
		return
	}
	if !ing.sink.Route(sample) {
		ing.cfg.Observer.LineDropped(DropUnroutable)
		return
	}
	ing.cfg.Observer.SampleIngested(sample)
	if ing.cfg.Changes != nil {
		ing.cfg.Changes.Notify()
	}
}

// finish records the outcome of a run and releases its stream. Only the
// current run moves the phase; an abandoned run just exits.
func (ing *Ingestor) finish(r *run, terminal error, logger *slog.Logger) {
	r.swapStream(nil)
	if terminal != nil {
		ing.setErr(terminal)
	}
	if ing.current.Load() == r && ing.phase.CompareAndSwap(int32(Running), int32(Stopped)) {
		ing.cfg.Observer.PhaseChanged(Stopped)
		if ing.cfg.Changes != nil {
			ing.cfg.Changes.Notify()
		}
	}
	close(r.done)
	if terminal == nil {
		logger.Debug("polling loop exited")
	}
}

func (ing *Ingestor) setPhase(p Phase) {
	if Phase(ing.phase.Swap(int32(p))) != p {
		ing.cfg.Observer.PhaseChanged(p)
	}
}

func (ing *Ingestor) setErr(err error) {
	ing.errMu.Lock()
	ing.lastErr = err
	ing.errMu.Unlock()
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
