package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"sensormon/internal/config"
	"sensormon/internal/device"
	"sensormon/internal/ingest"
	"sensormon/internal/logging"
	"sensormon/internal/telemetry"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("home", "", "")
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("device", "", "")
	cmd.Flags().String("log-level", "", "")
	return cmd
}

func TestSetupAppliesConfigAndFlags(t *testing.T) {
	dir := t.TempDir()
	body := "device:\n  signal: 1\nlog:\n  components:\n    ingestor: debug\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := newTestCmd()
	if err := cmd.Flags().Parse([]string{"--home", dir, "--device", "/tmp/fake_drv", "--log-level", "warn"}); err != nil {
		t.Fatal(err)
	}

	a := &app{}
	if err := a.setup(cmd); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if a.cfg.Device.Path != "/tmp/fake_drv" {
		t.Errorf("device path = %q", a.cfg.Device.Path)
	}
	if a.cfg.Device.Signal != 1 {
		t.Errorf("signal = %d, want 1 from config file", a.cfg.Device.Signal)
	}
	if got := a.filter.DefaultLevel(); got != slog.LevelWarn {
		t.Errorf("default level = %v, want warn", got)
	}
	if got := a.filter.Level("ingestor"); got != slog.LevelDebug {
		t.Errorf("ingestor level = %v, want debug", got)
	}
}

func TestSetupRejectsBadLevel(t *testing.T) {
	cmd := newTestCmd()
	if err := cmd.Flags().Parse([]string{"--home", t.TempDir(), "--log-level", "loud"}); err != nil {
		t.Fatal(err)
	}
	if err := (&app{}).setup(cmd); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestBuildLoggerComponentLevels(t *testing.T) {
	a := &app{cfg: config.Default()}
	a.cfg.Log.Level = "info"
	a.cfg.Log.Format = "json"
	a.cfg.Log.Components = map[string]string{"ingestor": "debug", "selector": "error"}

	var out bytes.Buffer
	if err := a.buildLogger(&out); err != nil {
		t.Fatal(err)
	}
	a.logger.With("component", "ingestor").Debug("reopened")
	a.logger.With("component", "selector").Warn("select failed")
	a.logger.With("component", "watch").Info("watching")

	got := out.String()
	if !strings.Contains(got, `"msg":"reopened"`) || !strings.Contains(got, `"component":"ingestor"`) {
		t.Errorf("ingestor debug missing from json output:\n%s", got)
	}
	if strings.Contains(got, "select failed") {
		t.Errorf("selector warn passed an error override:\n%s", got)
	}
	if !strings.Contains(got, `"msg":"watching"`) {
		t.Errorf("default level dropped watch info:\n%s", got)
	}

	a.cfg.Log.Components = map[string]string{"ingestor": "chatty"}
	if err := a.buildLogger(&out); err == nil {
		t.Error("unknown component level accepted")
	}
}

func TestInitialSignal(t *testing.T) {
	a := &app{cfg: config.Default()}
	a.cfg.Device.Signal = 1

	if id, err := a.initialSignal(-1); err != nil || id != telemetry.Secondary {
		t.Errorf("initialSignal(-1) = %v, %v", id, err)
	}
	if id, err := a.initialSignal(0); err != nil || id != telemetry.Primary {
		t.Errorf("initialSignal(0) = %v, %v", id, err)
	}
	if _, err := a.initialSignal(5); err == nil {
		t.Error("initialSignal(5) accepted")
	}
}

func TestHandleKey(t *testing.T) {
	sim := device.NewSimulator()
	ctrl := ingest.NewController(sim, ingest.Options{})
	ctx := context.Background()
	logger := logging.Discard()

	if err := handleKey(ctx, logger, ctrl, "1"); err != nil {
		t.Fatal(err)
	}
	if ctrl.State().Active != telemetry.Secondary || sim.Selected() != telemetry.Secondary {
		t.Error("key 1 did not select the secondary signal")
	}
	if err := handleKey(ctx, logger, ctrl, "bogus"); err != nil {
		t.Errorf("unknown input should be ignored, got %v", err)
	}
	if err := handleKey(ctx, logger, ctrl, "r"); err != nil {
		t.Fatal(err)
	}
	if ctrl.State().Active != telemetry.Secondary {
		t.Error("reset changed the active signal")
	}
	if err := handleKey(ctx, logger, ctrl, "q"); !errors.Is(err, errQuit) {
		t.Errorf("q = %v, want errQuit", err)
	}
}

func TestWatchFault(t *testing.T) {
	opts := ingest.Options{Ingest: ingest.Config{
		IdleInterval:    time.Millisecond,
		PaceInterval:    time.Millisecond,
		BackoffInterval: time.Millisecond,
	}}

	t.Run("fault while running", func(t *testing.T) {
		sim := device.NewSimulator()
		ctrl := ingest.NewController(sim, opts)
		if err := ctrl.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		defer ctrl.Stop()

		sim.Detach()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := watchFault(ctx, ctrl); !errors.Is(err, ingest.ErrChannelUnavailable) {
			t.Errorf("err = %v, want ErrChannelUnavailable", err)
		}
	})

	t.Run("run already ended", func(t *testing.T) {
		sim := device.NewSimulator()
		ctrl := ingest.NewController(sim, opts)
		if err := ctrl.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		done := ctrl.Done()
		sim.Detach()
		<-done
		if err := ctrl.Stop(); err != nil {
			t.Fatal(err)
		}

		// ctx never ends; watchFault must not block.
		if err := watchFault(context.Background(), ctrl); !errors.Is(err, ingest.ErrChannelUnavailable) {
			t.Errorf("err = %v, want ErrChannelUnavailable", err)
		}
	})

	t.Run("context ends first", func(t *testing.T) {
		ctrl := ingest.NewController(device.NewSimulator(), opts)
		if err := ctrl.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		defer ctrl.Stop()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := watchFault(ctx, ctrl); err != nil {
			t.Errorf("err = %v, want nil", err)
		}
	})
}

func TestProbeSimulated(t *testing.T) {
	a := &app{cfg: config.Default(), logger: logging.Discard()}
	a.cfg.Ingest.PaceInterval = time.Millisecond
	a.cfg.Ingest.IdleInterval = 5 * time.Millisecond

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())

	if err := a.probe(cmd, true, 1, 500*time.Millisecond); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !strings.Contains(out.String(), "Signal 1: Humidity") {
		t.Errorf("probe output missing title:\n%s", out.String())
	}
}
