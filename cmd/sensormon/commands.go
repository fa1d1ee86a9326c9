package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sensormon/internal/device"
	"sensormon/internal/ingest"
	"sensormon/internal/telemetry"
)

func newSelectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "select <0|1>",
		Short: "Switch the device to a signal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := telemetry.ParseSignalID(args[0])
			if err != nil {
				return err
			}
			ctrl := ingest.NewController(device.NewFile(a.cfg.Device.Path), ingest.Options{Logger: a.logger})
			if err := ctrl.Select(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "selected %s (%s)\n", telemetry.MetaFor(id).Title, id.Token())
			return nil
		},
	}
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Send the administrative reset command",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl := ingest.NewController(device.NewFile(a.cfg.Device.Path), ingest.Options{Logger: a.logger})
			if err := ctrl.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "device reset")
			return nil
		},
	}
}

func newProbeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check device communication and print the samples read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			simulate, _ := cmd.Flags().GetBool("simulate")
			signalFlag, _ := cmd.Flags().GetInt("signal")
			duration, _ := cmd.Flags().GetDuration("duration")
			return a.probe(cmd, simulate, signalFlag, duration)
		},
	}
	cmd.Flags().Bool("simulate", false, "probe the built-in simulator instead of the device")
	cmd.Flags().Int("signal", -1, "signal to select (default: from config)")
	cmd.Flags().Duration("duration", 3*time.Second, "how long to read")
	return cmd
}

func (a *app) probe(cmd *cobra.Command, simulate bool, signalFlag int, duration time.Duration) error {
	out := cmd.OutOrStdout()
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	if !simulate {
		info, err := device.ReadInfo(a.cfg.Device.InfoPath)
		switch {
		case err == nil:
			fmt.Fprintf(out, "driver info (%s):\n%s\n", a.cfg.Device.InfoPath, info)
		case errors.Is(err, fs.ErrNotExist):
			fmt.Fprintf(out, "driver info: %s not present\n", a.cfg.Device.InfoPath)
		default:
			fmt.Fprintf(out, "driver info: %v\n", err)
		}
	}

	initial, err := a.initialSignal(signalFlag)
	if err != nil {
		return err
	}

	dev, sim := a.openDevice(simulate, time.Second/10)
	ctrl := ingest.NewController(dev, ingest.Options{
		Initial: initial,
		Ingest:  a.cfg.IngestorConfig(),
		Logger:  a.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	if sim != nil {
		g.Go(func() error { return sim.Run(gctx) })
	}

	if err := ctrl.Start(ctx); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	select {
	case <-time.After(duration):
	case <-ctrl.Done():
	case <-ctx.Done():
	}
	stopErr := ctrl.Stop()
	cancel()
	_ = g.Wait()

	v := ctrl.CurrentView()
	fmt.Fprintf(out, "%s: %d samples\n", v.Title, len(v.Samples))
	for _, s := range v.Samples {
		fmt.Fprintf(out, "  device_ts=%d %s=%d\n", s.DeviceTS, v.UnitLabel, s.Value)
	}
	lens := ctrl.Buffers().Lens()
	for _, id := range telemetry.Signals {
		if id != v.Signal && lens[id] > 0 {
			fmt.Fprintf(out, "%s: %d samples (inactive)\n", telemetry.MetaFor(id).Title, lens[id])
		}
	}

	if err := ctrl.Err(); err != nil {
		return err
	}
	if !v.Flowing() {
		fmt.Fprintln(out, "no data received")
	}
	return stopErr
}

// initialSignal picks the flag value if set, else the configured signal.
func (a *app) initialSignal(flagValue int) (telemetry.SignalID, error) {
	id := telemetry.SignalID(a.cfg.Device.Signal)
	if flagValue >= 0 {
		id = telemetry.SignalID(flagValue)
	}
	if !id.Valid() {
		return 0, fmt.Errorf("unknown signal %d", id)
	}
	return id, nil
}

// openDevice returns the configured device, or a simulator sampling every
// interval when simulate is set.
func (a *app) openDevice(simulate bool, interval time.Duration) (device.Device, *device.Simulator) {
	if simulate {
		sim := device.NewSimulator(device.WithInterval(interval), device.WithDiagnostics())
		return sim, sim
	}
	return device.NewFile(a.cfg.Device.Path), nil
}

// cancelled reports whether err is only the result of shutting down.
func cancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
