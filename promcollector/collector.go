// Package promcollector exports structstore metrics to Prometheus.
//
//	c := promcollector.New("robot")
//	prometheus.MustRegister(c)
//	s, _ := structstore.New(1<<20, structstore.WithMetricsCollector(c))
package promcollector

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/structstore"
)

// Collector implements structstore.MetricsCollector and prometheus.Collector.
type Collector struct {
	lockWait     *prometheus.HistogramVec
	lockFailures *prometheus.CounterVec
	allocs       *prometheus.CounterVec
	allocBytes   prometheus.Counter
	frameLatency *prometheus.HistogramVec
	frameBytes   *prometheus.CounterVec
}

var _ structstore.MetricsCollector = (*Collector)(nil)

// New creates a collector whose metric names start with namespace.
func New(namespace string) *Collector {
	return &Collector{
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring container locks.",
			Buckets:   []float64{1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 0.1, 1},
		}, []string{"mode"}),
		lockFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_failures_total",
			Help:      "Failed lock acquisitions by mode and reason.",
		}, []string{"mode", "reason"}),
		allocs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Arena allocations by status.",
		}, []string{"status"}),
		allocBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocated_bytes_total",
			Help:      "Bytes handed out by arena allocations.",
		}),
		frameLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_duration_seconds",
			Help:      "Serialization latency by direction and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction", "status"}),
		frameBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_bytes_total",
			Help:      "Serialized frame bytes by direction.",
		}, []string{"direction"}),
	}
}

func mode(write bool) string {
	if write {
		return "write"
	}
	return "read"
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordLockWait implements structstore.MetricsCollector.
func (c *Collector) RecordLockWait(write bool, d time.Duration, err error) {
	c.lockWait.WithLabelValues(mode(write)).Observe(d.Seconds())
	if err == nil {
		return
	}
	reason := "other"
	switch {
	case errors.Is(err, structstore.ErrLockTimeout):
		reason = "timeout"
	case errors.Is(err, structstore.ErrLockProtocolViolation):
		reason = "protocol"
	case errors.Is(err, structstore.ErrInvalidReference):
		reason = "stale"
	}
	c.lockFailures.WithLabelValues(mode(write), reason).Inc()
}

// RecordAlloc implements structstore.MetricsCollector.
func (c *Collector) RecordAlloc(bytes int, err error) {
	c.allocs.WithLabelValues(status(err)).Inc()
	if err == nil {
		c.allocBytes.Add(float64(bytes))
	}
}

// RecordEncode implements structstore.MetricsCollector.
func (c *Collector) RecordEncode(bytes int, d time.Duration, err error) {
	c.frame("encode", bytes, d, err)
}

// RecordDecode implements structstore.MetricsCollector.
func (c *Collector) RecordDecode(bytes int, d time.Duration, err error) {
	c.frame("decode", bytes, d, err)
}

func (c *Collector) frame(direction string, bytes int, d time.Duration, err error) {
	c.frameLatency.WithLabelValues(direction, status(err)).Observe(d.Seconds())
	if err == nil {
		c.frameBytes.WithLabelValues(direction).Add(float64(bytes))
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.lockWait.Describe(ch)
	c.lockFailures.Describe(ch)
	c.allocs.Describe(ch)
	c.allocBytes.Describe(ch)
	c.frameLatency.Describe(ch)
	c.frameBytes.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.lockWait.Collect(ch)
	c.lockFailures.Collect(ch)
	c.allocs.Collect(ch)
	c.allocBytes.Collect(ch)
	c.frameLatency.Collect(ch)
	c.frameBytes.Collect(ch)
}
