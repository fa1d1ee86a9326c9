// Package metrics exposes ingestion counters and gauges to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sensormon/internal/ingest"
	"sensormon/internal/signalbuf"
	"sensormon/internal/sysmetrics"
	"sensormon/internal/telemetry"
)

const metricPrefix = "sensormon_"

const (
	resultOK    = "ok"
	resultError = "error"
)

// Collector records ingestion events and serves them from its own
// registry. It implements ingest.Observer.
type Collector struct {
	registry *prometheus.Registry

	samples    *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	transient  prometheus.Counter
	selections *prometheus.CounterVec
	running    prometheus.Gauge
}

var _ ingest.Observer = (*Collector)(nil)

// New builds a Collector. Buffer length gauges read from buffers on every
// scrape; instance, if non-empty, is exported as sensormon_info.
func New(buffers *signalbuf.Set, instance string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		samples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "samples_total",
				Help: "Samples stored, by signal",
			},
			[]string{"signal"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "lines_dropped_total",
				Help: "Device lines discarded, by reason",
			},
			[]string{"reason"},
		),
		transient: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "transient_errors_total",
				Help: "Transient device faults that caused a backoff",
			},
		),
		selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "selections_total",
				Help: "Device commands written, by result",
			},
			[]string{"result"},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "ingestor_running",
				Help: "1 while the polling loop is running",
			},
		),
	}

	c.registry.MustRegister(c.samples, c.dropped, c.transient, c.selections, c.running)

	// Pre-create label values so series exist before the first event.
	for _, id := range telemetry.Signals {
		c.samples.WithLabelValues(id.String())
	}
	c.dropped.WithLabelValues(ingest.DropMalformed)
	c.dropped.WithLabelValues(ingest.DropUnroutable)
	c.selections.WithLabelValues(resultOK)
	c.selections.WithLabelValues(resultError)

	if buffers != nil {
		for _, id := range telemetry.Signals {
			b := buffers.Buffer(id)
			c.registry.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name:        metricPrefix + "buffer_length",
					Help:        "Samples currently held per signal",
					ConstLabels: prometheus.Labels{"signal": id.String()},
				},
				func() float64 { return float64(b.Len()) },
			))
		}
	}

	sampler := sysmetrics.NewSampler()
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "process_cpu_percent",
				Help: "Process CPU usage since the previous scrape",
			},
			sampler.CPUPercent,
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "process_memory_inuse_bytes",
				Help: "Heap and stack memory in use by the Go runtime",
			},
			func() float64 { return float64(sysmetrics.MemoryInuse()) },
		),
		collectors.NewGoCollector(),
	)

	if instance != "" {
		info := prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        metricPrefix + "info",
			Help:        "Instance identity",
			ConstLabels: prometheus.Labels{"instance_id": instance},
		})
		info.Set(1)
		c.registry.MustRegister(info)
	}

	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) SampleIngested(s telemetry.Sample) {
	c.samples.WithLabelValues(s.Signal.String()).Inc()
}

func (c *Collector) LineDropped(reason string) {
	c.dropped.WithLabelValues(reason).Inc()
}

func (c *Collector) TransientError(error) {
	c.transient.Inc()
}

func (c *Collector) SelectionDone(_ string, err error) {
	if err != nil {
		c.selections.WithLabelValues(resultError).Inc()
		return
	}
	c.selections.WithLabelValues(resultOK).Inc()
}

func (c *Collector) PhaseChanged(p ingest.Phase) {
	if p == ingest.Running {
		c.running.Set(1)
		return
	}
	c.running.Set(0)
}
