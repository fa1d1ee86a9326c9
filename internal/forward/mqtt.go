// Package forward republishes stored samples to an MQTT broker.
//
// The Publisher sits on the ingestion path as an ingest.Observer, so it
// must never block the polling goroutine: samples go into a bounded queue
// and a separate goroutine publishes them. When the queue is full the
// sample is dropped from forwarding (it is still stored locally).
package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"sensormon/internal/ingest"
	"sensormon/internal/logging"
	"sensormon/internal/telemetry"
)

const (
	DefaultTopicPrefix    = "sensormon"
	DefaultQueueSize      = 256
	DefaultPublishTimeout = 5 * time.Second
)

// Client is the subset of mqtt.Client the Publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// Config configures a Publisher.
type Config struct {
	// TopicPrefix is prepended to the signal name: <prefix>/<signal>.
	TopicPrefix string
	QoS         byte
	QueueSize   int

	// PublishTimeout bounds the wait for a broker acknowledgement.
	PublishTimeout time.Duration

	Logger *slog.Logger
}

// Payload is the JSON body of a forwarded sample.
type Payload struct {
	Signal     int       `json:"signal"`
	Name       string    `json:"name"`
	Value      int64     `json:"value"`
	Unit       string    `json:"unit"`
	DeviceTS   int64     `json:"device_ts"`
	ObservedAt time.Time `json:"observed_at"`
}

// Publisher forwards samples to MQTT. It implements ingest.Observer; only
// SampleIngested does anything.
type Publisher struct {
	ingest.NopObserver

	client Client
	cfg    Config
	logger *slog.Logger
	queue  chan telemetry.Sample

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	errLog rate.Sometimes
}

// New creates a Publisher. Call Run to start publishing.
func New(client Client, cfg Config) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	return &Publisher{
		client: client,
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "forward"),
		queue:  make(chan telemetry.Sample, cfg.QueueSize),
		errLog: rate.Sometimes{Interval: 10 * time.Second},
	}
}

// SampleIngested queues s for publishing without blocking.
func (p *Publisher) SampleIngested(s telemetry.Sample) {
	select {
	case p.queue <- s:
	default:
		p.dropped.Add(1)
	}
}

// Run publishes queued samples until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("forwarding samples", "prefix", p.cfg.TopicPrefix, "qos", p.cfg.QoS)
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-p.queue:
			if err := p.publish(s); err != nil {
				p.failed.Add(1)
				p.errLog.Do(func() {
					p.logger.Warn("publish failed", "error", err)
				})
				continue
			}
			p.published.Add(1)
		}
	}
}

// Topic returns the topic samples of id are published on.
func (p *Publisher) Topic(id telemetry.SignalID) string {
	return p.cfg.TopicPrefix + "/" + id.String()
}

// Stats returns the published, dropped and failed counts.
func (p *Publisher) Stats() (published, dropped, failed uint64) {
	return p.published.Load(), p.dropped.Load(), p.failed.Load()
}

func (p *Publisher) publish(s telemetry.Sample) error {
	meta := telemetry.MetaFor(s.Signal)
	body, err := json.Marshal(Payload{
		Signal:     int(s.Signal),
		Name:       meta.Name,
		Value:      s.Value,
		Unit:       meta.UnitLabel,
		DeviceTS:   s.DeviceTS,
		ObservedAt: s.ObservedAt,
	})
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}

	tok := p.client.Publish(p.Topic(s.Signal), p.cfg.QoS, false, body)
	if !tok.WaitTimeout(p.cfg.PublishTimeout) {
		return fmt.Errorf("publish %s: timed out after %s", p.Topic(s.Signal), p.cfg.PublishTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", p.Topic(s.Signal), err)
	}
	return nil
}

// Dial connects to broker and returns the client. The client reconnects on
// its own after the first successful connection.
func Dial(ctx context.Context, broker, clientID string, logger *slog.Logger) (mqtt.Client, error) {
	logger = logging.Default(logger).With("component", "forward")
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", "error", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("mqtt connected", "broker", broker)
		})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, err)
	}
	return client, nil
}
