package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"m2mconv/internal/converter"
	"m2mconv/internal/media"
)

const namespace = "m2mconv"

var _ converter.Observer = (*Collector)(nil)

// Collector records converter events.
type Collector struct {
	registry *prometheus.Registry

	inputsQueued     prometheus.Counter
	inputsPending    prometheus.Gauge
	inputLatency     prometheus.Histogram
	outputsCompleted *prometheus.CounterVec
	staleSignals     *prometheus.CounterVec
	queueFailures    *prometheus.CounterVec
}

// NewCollector builds a collector with the Go runtime and process collectors
// registered alongside the converter metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		inputsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inputs_queued_total",
			Help:      "Input buffers accepted by QueueBuffers",
		}),
		inputsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inputs_pending",
			Help:      "Input buffers waiting for every stream to consume them",
		}),
		inputLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "input_completion_seconds",
			Help:      "Time from queueing an input buffer to its release",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		outputsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outputs_completed_total",
			Help:      "Output buffers completed per stream and status",
		}, []string{"stream", "status"}),
		staleSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_input_signals_total",
			Help:      "Input consumed signals for buffers no longer pending",
		}, []string{"stream"}),
		queueFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_failures_total",
			Help:      "Rejected QueueBuffers calls by error kind",
		}, []string{"kind"}),
	}
	c.registry.MustRegister(
		c.inputsQueued,
		c.inputsPending,
		c.inputLatency,
		c.outputsCompleted,
		c.staleSignals,
		c.queueFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry the collector publishes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) InputQueued(streams int) {
	c.inputsQueued.Inc()
	if streams > 0 {
		c.inputsPending.Inc()
	}
}

func (c *Collector) OutputCompleted(stream int, status media.FrameStatus) {
	c.outputsCompleted.WithLabelValues(strconv.Itoa(stream), status.String()).Inc()
}

func (c *Collector) InputCompleted(latency time.Duration) {
	c.inputsPending.Dec()
	c.inputLatency.Observe(latency.Seconds())
}

func (c *Collector) StaleSignalDropped(stream int) {
	c.staleSignals.WithLabelValues(strconv.Itoa(stream)).Inc()
}

func (c *Collector) QueueFailed(kind string) {
	c.queueFailures.WithLabelValues(kind).Inc()
}

func (c *Collector) PendingDropped(count int) {
	c.inputsPending.Sub(float64(count))
}
