package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/muesli/cancelreader"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"sensormon/internal/console"
	"sensormon/internal/device"
	"sensormon/internal/forward"
	"sensormon/internal/ingest"
	"sensormon/internal/metrics"
	"sensormon/internal/schedule"
	"sensormon/internal/signalbuf"
	"sensormon/internal/telemetry"
)

// errQuit ends the watch loop on operator request.
var errQuit = errors.New("quit requested")

type watchOptions struct {
	simulate    bool
	wait        bool
	signal      int
	metricsAddr string
	mqttBroker  string
	duration    time.Duration
	keys        bool
}

func newWatchCmd(a *app) *cobra.Command {
	opts := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest telemetry and display the selected signal",
		Long: `Starts polling the device and redraws the selected signal's most recent
samples on the display cadence.

On a terminal, type 0 or 1 and Enter to switch signals, r to reset the
device, q to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("metrics-addr") {
				opts.metricsAddr = a.cfg.Metrics.Addr
			}
			if !cmd.Flags().Changed("mqtt-broker") {
				opts.mqttBroker = a.cfg.Forward.Broker
			}
			if !cmd.Flags().Changed("keys") {
				opts.keys = term.IsTerminal(int(os.Stdin.Fd()))
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return a.watch(ctx, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.simulate, "simulate", false, "use the built-in simulator instead of the device")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "wait for the device node to appear")
	cmd.Flags().IntVar(&opts.signal, "signal", -1, "signal to select at start (default: from config)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	cmd.Flags().StringVar(&opts.mqttBroker, "mqtt-broker", "", "republish samples to this MQTT broker (e.g. tcp://localhost:1883)")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "stop after this long (default: until interrupted)")
	cmd.Flags().BoolVar(&opts.keys, "keys", false, "read signal commands from stdin (default: when stdin is a terminal)")
	return cmd
}

func (a *app) watch(ctx context.Context, opts watchOptions) error {
	logger := a.logger.With("component", "watch")

	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	initial, err := a.initialSignal(opts.signal)
	if err != nil {
		return err
	}

	if opts.wait && !opts.simulate {
		logger.Info("waiting for device node", "path", a.cfg.Device.Path)
		if err := device.WaitForNode(ctx, a.cfg.Device.Path); err != nil {
			if cancelled(err) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}

	dev, sim := a.openDevice(opts.simulate, device.DefaultSimulatorInterval)

	instance := a.instanceID()
	buffers := signalbuf.NewSet()
	collector := metrics.New(buffers, instance)

	var publisher *forward.Publisher
	if opts.mqttBroker != "" {
		clientID := a.cfg.Forward.ClientID
		if clientID == "" {
			clientID = "sensormon-" + instance
		}
		client, err := forward.Dial(ctx, opts.mqttBroker, clientID, a.logger)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		publisher = forward.New(client, forward.Config{
			TopicPrefix: a.cfg.Forward.TopicPrefix,
			QoS:         byte(a.cfg.Forward.QoS),
			Logger:      a.logger,
		})
	}

	observer := ingest.Observers(collector)
	if publisher != nil {
		observer = ingest.Observers(collector, publisher)
	}
	ctrl := ingest.NewController(dev, ingest.Options{
		Initial:  initial,
		Ingest:   a.cfg.IngestorConfig(),
		Buffers:  buffers,
		Logger:   a.logger,
		Observer: observer,
	})

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	logger.Info("watching", "device", deviceName(a, opts.simulate), "signal", initial)

	renderer := console.New(os.Stdout, int(os.Stdout.Fd()))
	render := func() {
		if err := renderer.Render(ctrl.CurrentView(), ctrl.State()); err != nil {
			logger.Debug("render failed", "error", err)
		}
	}

	sched, err := schedule.New(a.logger)
	if err != nil {
		_ = ctrl.Stop()
		return err
	}
	if err := sched.Every("refresh", a.cfg.Display.RefreshInterval, render); err != nil {
		_ = ctrl.Stop()
		return err
	}
	if a.cfg.Log.StatsCron != "" {
		if err := sched.Cron("stats", a.cfg.Log.StatsCron, func() { logStats(logger, ctrl, publisher) }); err != nil {
			_ = ctrl.Stop()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if sim != nil {
		g.Go(func() error { return sim.Run(gctx) })
	}
	if publisher != nil {
		g.Go(func() error { return publisher.Run(gctx) })
	}

	// A terminal device fault ends the watch.
	g.Go(func() error { return watchFault(gctx, ctrl) })

	// Redraw as soon as something changes, in addition to the cadence.
	g.Go(func() error {
		for {
			if err := ctrl.Changes().Wait(gctx); err != nil {
				return nil
			}
			render()
		}
	})

	if opts.metricsAddr != "" {
		serveMetrics(gctx, g, logger, opts.metricsAddr, collector.Handler())
	}

	if opts.keys {
		if err := readKeys(gctx, g, logger, ctrl); err != nil {
			logger.Warn("keyboard control unavailable", "error", err)
		}
	}

	sched.Start()
	err = g.Wait()

	if serr := sched.Stop(); serr != nil {
		logger.Warn("scheduler stop", "error", serr)
	}
	stopErr := ctrl.Stop()
	render()
	_ = renderer.Finish()

	switch {
	case errors.Is(err, errQuit), err == nil:
	default:
		return err
	}
	if stopErr != nil {
		logger.Warn("ingestor did not stop cleanly", "error", stopErr)
	}
	logger.Info("watch stopped")
	return nil
}

// watchFault returns the error that ended the controller's run, or nil when
// ctx ends first. A run that already ended is reported without blocking.
func watchFault(ctx context.Context, ctrl *ingest.Controller) error {
	done := ctrl.Done()
	if done == nil {
		return ctrl.Err()
	}
	select {
	case <-done:
		return ctrl.Err()
	case <-ctx.Done():
		return nil
	}
}

func deviceName(a *app, simulate bool) string {
	if simulate {
		return "simulator"
	}
	return a.cfg.Device.Path
}

func serveMetrics(ctx context.Context, g *errgroup.Group, logger *slog.Logger, addr string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// readKeys reads line commands from stdin until ctx ends: 0 or 1 selects a
// signal, r resets the device, q quits.
func readKeys(ctx context.Context, g *errgroup.Group, logger *slog.Logger, ctrl *ingest.Controller) error {
	cr, err := cancelreader.NewReader(os.Stdin)
	if err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		cr.Cancel()
		return nil
	})
	g.Go(func() error {
		defer cr.Close()
		sc := bufio.NewScanner(cr)
		for sc.Scan() {
			if err := handleKey(ctx, logger, ctrl, strings.TrimSpace(sc.Text())); err != nil {
				return err
			}
		}
		return nil
	})
	return nil
}

func handleKey(ctx context.Context, logger *slog.Logger, ctrl *ingest.Controller, key string) error {
	switch key {
	case "":
		return nil
	case "q", "quit":
		return errQuit
	case "r", "reset":
		if err := ctrl.Reset(ctx); err != nil {
			logger.Warn("reset failed", "error", err)
		}
		return nil
	}
	id, err := telemetry.ParseSignalID(key)
	if err != nil {
		logger.Warn("unknown command", "input", key)
		return nil
	}
	if err := ctrl.Select(ctx, id); err != nil {
		logger.Warn("select failed", "signal", id, "error", err)
	}
	return nil
}

func logStats(logger *slog.Logger, ctrl *ingest.Controller, publisher *forward.Publisher) {
	st := ctrl.State()
	lens := ctrl.Buffers().Lens()
	attrs := []any{
		"active", st.Active,
		"running", st.Running,
		"primary_samples", lens[telemetry.Primary],
		"secondary_samples", lens[telemetry.Secondary],
	}
	if publisher != nil {
		published, dropped, failed := publisher.Stats()
		attrs = append(attrs, "forwarded", published, "forward_dropped", dropped, "forward_failed", failed)
	}
	logger.Info("ingest stats", attrs...)
}
