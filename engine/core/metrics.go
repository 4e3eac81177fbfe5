package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Load results used as the "result" label.
const (
	ResultOK       = "ok"
	ResultHit      = "hit"
	ResultFailed   = "failed"
	ResultCircular = "circular"
)

// Metrics collects the resource system counters. A nil *Metrics is valid
// and records nothing, so callers never need to check whether metrics are enabled.
type Metrics struct {
	loads       *prometheus.CounterVec
	loadTime    *prometheus.HistogramVec
	bytesRead   prometheus.Counter
	queueDepth  prometheus.Gauge
	evictions   *prometheus.CounterVec
	advanceTime prometheus.Histogram
}

// NewMetrics registers the resource collectors on reg.
// Returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer, namespace string, labels prometheus.Labels) *Metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &Metrics{
		loads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "resource_loads_total",
			Help:        "Resource load requests by type and result",
			ConstLabels: labels,
		}, []string{"type", "result"}),
		loadTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "resource_load_duration_seconds",
			Help:        "Time spent reading and parsing a resource on the worker",
			ConstLabels: labels,
			Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"type"}),
		bytesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "resource_bytes_read_total",
			Help:        "Raw bytes read from mounted filesystems",
			ConstLabels: labels,
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "resource_queue_depth",
			Help:        "Tasks waiting for the resource worker",
			ConstLabels: labels,
		}),
		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "resource_evictions_total",
			Help:        "Cache entries dropped by unload passes",
			ConstLabels: labels,
		}, []string{"type"}),
		advanceTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "resource_advance_duration_seconds",
			Help:        "Duration of per-frame eviction passes",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveLoad(typ, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(typ, result).Inc()
	if result == ResultOK {
		m.loadTime.WithLabelValues(typ).Observe(d.Seconds())
	}
}

func (m *Metrics) AddBytesRead(n int) {
	if m == nil {
		return
	}
	m.bytesRead.Add(float64(n))
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) AddEvictions(typ string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.WithLabelValues(typ).Add(float64(n))
}

func (m *Metrics) ObserveAdvance(d time.Duration) {
	if m == nil {
		return
	}
	m.advanceTime.Observe(d.Seconds())
}
