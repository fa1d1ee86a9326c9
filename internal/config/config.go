// Package config loads sensormon configuration.
//
// Configuration comes from a single optional YAML file, normally
// <home>/config.yaml. A missing file yields Default(); fields left out of
// the file keep their defaults. Command-line flags are applied on top by
// the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sensormon/internal/device"
	"sensormon/internal/ingest"
	"sensormon/internal/schedule"
	"sensormon/internal/telemetry"
)

// Config is the full sensormon configuration.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Display DisplayConfig `yaml:"display"`
	Metrics MetricsConfig `yaml:"metrics"`
	Forward ForwardConfig `yaml:"forward"`
	Log     LogConfig     `yaml:"log"`
}

// DeviceConfig locates the sensor device.
type DeviceConfig struct {
	// Path is the character device node. Default: /dev/sensor_drv
	Path string `yaml:"path"`

	// InfoPath is the driver's informational proc file, printed by probe.
	// Default: /proc/sensor_qemu
	InfoPath string `yaml:"info_path"`

	// Signal is the signal selected at startup (0 or 1). Default: 0
	Signal int `yaml:"signal"`
}

// IngestConfig holds polling loop timings, in Go duration syntax.
type IngestConfig struct {
	IdleInterval    time.Duration `yaml:"idle_interval"`
	PaceInterval    time.Duration `yaml:"pace_interval"`
	BackoffInterval time.Duration `yaml:"backoff_interval"`
	StopTimeout     time.Duration `yaml:"stop_timeout"`
}

// DisplayConfig configures the console view.
type DisplayConfig struct {
	// RefreshInterval is how often the current view is redrawn.
	// Default: 500ms
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables it.
	Addr string `yaml:"addr"`
}

// ForwardConfig configures republishing of samples to MQTT.
type ForwardConfig struct {
	// Broker is the MQTT broker URL, e.g. tcp://localhost:1883. Empty
	// disables forwarding.
	Broker string `yaml:"broker"`

	// TopicPrefix is prepended to the signal name. Default: sensormon
	TopicPrefix string `yaml:"topic_prefix"`

	// QoS is the MQTT quality of service, 0 to 2.
	QoS int `yaml:"qos"`

	// ClientID defaults to sensormon-<instance id>.
	ClientID string `yaml:"client_id"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is the default level: debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`

	// Components overrides the level per component, e.g. ingestor: debug.
	Components map[string]string `yaml:"components"`

	// StatsCron schedules a periodic summary log line while watching.
	// Empty disables it. Default: every minute.
	StatsCron string `yaml:"stats_cron"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			Path:     device.DefaultPath,
			InfoPath: device.DefaultInfoPath,
			Signal:   int(telemetry.Primary),
		},
		Ingest: IngestConfig{
			IdleInterval:    ingest.DefaultIdleInterval,
			PaceInterval:    ingest.DefaultPaceInterval,
			BackoffInterval: ingest.DefaultBackoffInterval,
			StopTimeout:     ingest.DefaultStopTimeout,
		},
		Display: DisplayConfig{
			RefreshInterval: 500 * time.Millisecond,
		},
		Forward: ForwardConfig{
			TopicPrefix: "sensormon",
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			StatsCron: "* * * * *",
		},
	}
}

// Load reads path on top of Default and validates the result. A missing
// file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-supplied config location
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges. It does not touch the filesystem.
func (c Config) Validate() error {
	var errs []error
	if c.Device.Path == "" {
		errs = append(errs, errors.New("device.path is required"))
	}
	if !telemetry.SignalID(c.Device.Signal).Valid() {
		errs = append(errs, fmt.Errorf("device.signal: unknown signal %d", c.Device.Signal))
	}
	for name, d := range map[string]time.Duration{
		"ingest.idle_interval":     c.Ingest.IdleInterval,
		"ingest.pace_interval":     c.Ingest.PaceInterval,
		"ingest.backoff_interval":  c.Ingest.BackoffInterval,
		"ingest.stop_timeout":      c.Ingest.StopTimeout,
		"display.refresh_interval": c.Display.RefreshInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Forward.QoS < 0 || c.Forward.QoS > 2 {
		errs = append(errs, fmt.Errorf("forward.qos must be 0, 1 or 2, got %d", c.Forward.QoS))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	for comp, lvl := range c.Log.Components {
		if _, err := ParseLevel(lvl); err != nil {
			errs = append(errs, fmt.Errorf("log.components.%s: %w", comp, err))
		}
	}
	if c.Log.StatsCron != "" {
		if err := schedule.ValidateCron(c.Log.StatsCron); err != nil {
			errs = append(errs, fmt.Errorf("log.stats_cron: %w", err))
		}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// IngestorConfig converts the ingest section for ingest.NewIngestor.
func (c Config) IngestorConfig() ingest.Config {
	return ingest.Config{
		IdleInterval:    c.Ingest.IdleInterval,
		PaceInterval:    c.Ingest.PaceInterval,
		BackoffInterval: c.Ingest.BackoffInterval,
		StopTimeout:     c.Ingest.StopTimeout,
	}
}

// ParseLevel parses a level name (debug, info, warn, error), case-insensitive.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid level %q", s)
	}
	return l, nil
}
