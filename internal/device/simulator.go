package device

import (
	"context"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"sensormon/internal/telemetry"
)

const (
	// SimulatorQueueSize is the depth of the simulated driver FIFO.
	SimulatorQueueSize = 1024

	// DefaultSimulatorInterval is the simulated sampling period.
	DefaultSimulatorInterval = time.Second
)

// Simulator is an in-process stand-in for the sensor driver. A timer
// samples the selected signal into a bounded FIFO; each read pops one line.
// Selecting a different signal or issuing reset empties the FIFO.
type Simulator struct {
	interval    time.Duration
	diagnostics bool

	mu       sync.Mutex
	rng      *rand.Rand
	selected telemetry.SignalID
	queue    []telemetry.Sample
	ticks    int64
	detached error // non-nil while the simulated node is absent
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithInterval sets the sampling period used by Run.
func WithInterval(d time.Duration) SimulatorOption {
	return func(s *Simulator) { s.interval = d }
}

// WithDiagnostics makes the simulator append trailing diagnostic fields
// (cycle, noise level, environment) to every line.
func WithDiagnostics() SimulatorOption {
	return func(s *Simulator) { s.diagnostics = true }
}

// WithSeed makes the simulated values reproducible.
func WithSeed(seed uint64) SimulatorOption {
	return func(s *Simulator) { s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// NewSimulator creates a simulator with signal 0 selected.
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		interval: DefaultSimulatorInterval,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run samples the selected signal every interval until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick takes one sample of the selected signal.
func (s *Simulator) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	s.push(telemetry.Sample{
		Signal:   s.selected,
		Value:    s.read(s.selected),
		DeviceTS: s.ticks,
	})
}

// Inject queues a raw sample as if the driver had produced it, regardless
// of the selected signal.
func (s *Simulator) Inject(sample telemetry.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push(sample)
}

// Selected returns the signal the simulator is currently sampling.
func (s *Simulator) Selected() telemetry.SignalID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Pending returns the number of queued lines.
func (s *Simulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Detach makes the simulated node disappear: every operation fails with an
// error wrapping fs.ErrNotExist until Attach is called.
func (s *Simulator) Detach() {
	s.setDetached(fmt.Errorf("simulated device: %w", fs.ErrNotExist))
}

// Deny makes every operation fail with an error wrapping fs.ErrPermission
// until Attach is called.
func (s *Simulator) Deny() {
	s.setDetached(fmt.Errorf("simulated device: %w", fs.ErrPermission))
}

// Attach undoes Detach or Deny.
func (s *Simulator) Attach() {
	s.setDetached(nil)
}

func (s *Simulator) setDetached(err error) {
	s.mu.Lock()
	s.detached = err
	s.mu.Unlock()
}

// Command implements Device.
func (s *Simulator) Command(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateCommand(token); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached != nil {
		return s.detached
	}

	if token == CommandReset {
		s.queue = s.queue[:0]
		s.ticks = 0
		return nil
	}
	n, _ := strconv.Atoi(token)
	sig := telemetry.SignalID(n)
	if sig != s.selected {
		s.selected = sig
		s.queue = s.queue[:0]
	}
	return nil
}

// Open implements Device.
func (s *Simulator) Open() (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached != nil {
		return nil, s.detached
	}
	return &simStream{sim: s}, nil
}

// push appends to the FIFO, dropping the oldest entry when full.
// Caller must hold s.mu.
func (s *Simulator) push(sample telemetry.Sample) {
	if len(s.queue) == SimulatorQueueSize {
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
	}
	s.queue = append(s.queue, sample)
}

// read produces a plausible value for sig. Caller must hold s.mu.
func (s *Simulator) read(sig telemetry.SignalID) int64 {
	if sig == telemetry.Primary {
		// Temperature: 20-40 with ±2 of noise.
		return 20 + s.ticks%20 + s.rng.Int64N(5) - 2
	}
	// Humidity: 30-80 with ±5 of noise.
	return 30 + s.ticks%50 + s.rng.Int64N(10) - 5
}

// pop removes and formats the oldest queued line. Caller must hold s.mu.
func (s *Simulator) pop() (string, bool) {
	if len(s.queue) == 0 {
		return "", false
	}
	sample := s.queue[0]
	s.queue = s.queue[1:]

	line := telemetry.FormatLine(sample)
	if s.diagnostics {
		line += fmt.Sprintf(",%d,%d,qemu", s.ticks, s.rng.IntN(10))
	}
	return line, true
}

type simStream struct {
	sim *Simulator

	mu     sync.Mutex
	closed bool
}

func (st *simStream) ReadLine() (string, error) {
	st.mu.Lock()
	closed := st.closed
	st.mu.Unlock()
	if closed {
		return "", ErrStreamClosed
	}

	st.sim.mu.Lock()
	defer st.sim.mu.Unlock()
	if st.sim.detached != nil {
		return "", st.sim.detached
	}
	line, _ := st.sim.pop()
	return line, nil
}

// Cancel is a no-op: simulated reads never block.
func (st *simStream) Cancel() bool { return false }

func (st *simStream) Close() error {
	st.mu.Lock()
	st.closed = true
	st.mu.Unlock()
	return nil
}
