// Command sensormon ingests live telemetry from the sensor device and shows
// the selected signal.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"sensormon/internal/config"
	"sensormon/internal/device"
	"sensormon/internal/home"
	"sensormon/internal/logging"
)

var version = "dev"

// app carries what every subcommand needs once flags and config are
// resolved.
type app struct {
	home   home.Dir
	cfg    config.Config
	logger *slog.Logger
	filter *logging.ComponentFilterHandler
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "sensormon",
		Short:         "Live sensor telemetry monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	rootCmd.PersistentFlags().String("home", "", "home directory (default: platform config dir)")
	rootCmd.PersistentFlags().String("config", "", "config file (default: <home>/config.yaml)")
	rootCmd.PersistentFlags().String("device", "", "device node (default: "+device.DefaultPath+")")
	rootCmd.PersistentFlags().String("log-level", "", "default log level: debug, info, warn, error")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(
		newWatchCmd(a),
		newSelectCmd(a),
		newResetCmd(a),
		newProbeCmd(a),
		versionCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sensormon:", err)
		os.Exit(1)
	}
}

// setup resolves the home directory, loads config, applies flag overrides
// and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	homeFlag, _ := cmd.Flags().GetString("home")
	hd, err := resolveHome(homeFlag)
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	a.home = hd

	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		cfgPath = hd.ConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if v, _ := cmd.Flags().GetString("device"); v != "" {
		cfg.Device.Path = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	return a.buildLogger(os.Stderr)
}

// buildLogger writes records to w in the configured format, filtered by
// the default and per-component levels.
func (a *app) buildLogger(w io.Writer) error {
	level, err := config.ParseLevel(a.cfg.Log.Level)
	if err != nil {
		return err
	}

	// Allow all levels; filtering is done by ComponentFilterHandler.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var base slog.Handler
	if a.cfg.Log.Format == "json" {
		base = slog.NewJSONHandler(w, opts)
	} else {
		base = slog.NewTextHandler(w, opts)
	}

	a.filter = logging.NewComponentFilterHandler(base, level)
	for component, name := range a.cfg.Log.Components {
		l, err := config.ParseLevel(name)
		if err != nil {
			return err
		}
		a.filter.SetLevel(component, l)
	}
	a.logger = slog.New(a.filter)
	return nil
}

// resolveHome returns a Dir from the flag value, or the platform default.
func resolveHome(flagValue string) (home.Dir, error) {
	if flagValue != "" {
		return home.New(flagValue), nil
	}
	return home.Default()
}

// instanceID returns the persistent instance identity, or "" if the home
// directory is not writable.
func (a *app) instanceID() string {
	if err := a.home.EnsureExists(); err != nil {
		a.logger.Warn("home directory unavailable", "error", err)
		return ""
	}
	id, err := a.home.InstanceID()
	if err != nil {
		a.logger.Warn("instance id unavailable", "error", err)
		return ""
	}
	return id
}
