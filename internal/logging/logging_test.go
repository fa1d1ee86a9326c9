package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"sensormon/internal/device"
	"sensormon/internal/ingest"
	"sensormon/internal/logging"
	"sensormon/internal/telemetry"
)

// lockedBuffer collects output written from the polling goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newFilter(out *lockedBuffer, def slog.Level) *logging.ComponentFilterHandler {
	base := slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})
	return logging.NewComponentFilterHandler(base, def)
}

func TestIngestAndSelectorLevels(t *testing.T) {
	var out lockedBuffer
	h := newFilter(&out, slog.LevelInfo)
	h.SetLevel("ingestor", slog.LevelDebug)
	h.SetLevel("selector", slog.LevelWarn)

	sim := device.NewSimulator()
	ctrl := ingest.NewController(sim, ingest.Options{
		Logger: slog.New(h),
		Ingest: ingest.Config{IdleInterval: time.Millisecond, PaceInterval: time.Millisecond},
	})

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		t.Fatal(err)
	}
	sim.Inject(telemetry.Sample{Signal: telemetry.SignalID(5), Value: 1, DeviceTS: 1})

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "dropping malformed line") {
		if time.Now().After(deadline) {
			t.Fatalf("ingestor debug record missing:\n%s", out.String())
		}
		time.Sleep(time.Millisecond)
	}
	if err := ctrl.Stop(); err != nil {
		t.Fatal(err)
	}

	sim.Deny()
	if err := ctrl.Select(ctx, telemetry.Secondary); err == nil {
		t.Fatal("select on a denied device succeeded")
	}

	got := out.String()
	for _, want := range []string{"ingestor started", "ingestor stopped", "select signal failed"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "signal selected") {
		t.Errorf("selector info record passed a warn override:\n%s", got)
	}
}

func TestComponentFromRecordAttr(t *testing.T) {
	var out lockedBuffer
	h := newFilter(&out, slog.LevelInfo)
	h.SetLevel("forward", slog.LevelError)
	logger := slog.New(h)

	logger.Warn("publish failed", "component", "forward")
	logger.Warn("ingest stats", "component", "watch")

	got := out.String()
	if strings.Contains(got, "publish failed") {
		t.Errorf("forward warn not filtered:\n%s", got)
	}
	if !strings.Contains(got, "ingest stats") {
		t.Errorf("watch warn filtered:\n%s", got)
	}
}

func TestLevelChangesReachScopedLoggers(t *testing.T) {
	var out lockedBuffer
	h := newFilter(&out, slog.LevelInfo)
	ingestor := slog.New(h).With("component", "ingestor").With("run_id", "r1")

	ingestor.Debug("first")
	h.SetLevel("ingestor", slog.LevelDebug)
	ingestor.Debug("second")
	h.ClearLevel("ingestor")
	ingestor.Debug("third")

	got := out.String()
	if strings.Contains(got, "first") || strings.Contains(got, "third") {
		t.Errorf("debug logged at info level:\n%s", got)
	}
	if !strings.Contains(got, "second") || !strings.Contains(got, "run_id=r1") {
		t.Errorf("debug override not applied:\n%s", got)
	}
	if l := h.Level("ingestor"); l != slog.LevelInfo {
		t.Errorf("level after clear = %v, want info", l)
	}
}

func TestEnabledFollowsOverrides(t *testing.T) {
	var out lockedBuffer
	h := newFilter(&out, slog.LevelWarn)
	ctx := context.Background()

	if h.Enabled(ctx, slog.LevelInfo) {
		t.Error("info enabled with warn default and no overrides")
	}

	h.SetLevel("ingestor", slog.LevelDebug)
	if !h.Enabled(ctx, slog.LevelDebug) {
		t.Error("unscoped handler should allow debug once a component wants it")
	}
	selector := h.WithAttrs([]slog.Attr{slog.String("component", "selector")})
	if selector.Enabled(ctx, slog.LevelInfo) {
		t.Error("selector info enabled under warn default")
	}
}

func TestNilNextDiscards(t *testing.T) {
	h := logging.NewComponentFilterHandler(nil, slog.LevelDebug)
	h.SetLevel("ingestor", slog.LevelError)
	if got := h.Level("ingestor"); got != slog.LevelError {
		t.Errorf("level = %v, want error", got)
	}
	if h.Enabled(context.Background(), slog.LevelError) {
		t.Error("nil next handler should discard")
	}
	if err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelError, "x", 0)); err != nil {
		t.Errorf("Handle: %v", err)
	}
}

func TestDefaultFallsBackToDiscard(t *testing.T) {
	if logging.Default(nil).Enabled(context.Background(), slog.LevelError) {
		t.Error("nil logger should discard")
	}
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if logging.Default(l) != l {
		t.Error("Default replaced a provided logger")
	}
}
