// Package telemetry exposes Prometheus collectors for the cycling loop.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the loop collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ticks      prometheus.Counter
	applied    *prometheus.CounterVec
	suppressed *prometheus.CounterVec
	failures   *prometheus.CounterVec
	lost       *prometheus.CounterVec
	active     *prometheus.GaugeVec
	running    prometheus.Gauge
	tickTime   prometheus.Histogram
}

// New creates the collectors and registers them on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dimmerd",
			Name:      "ticks_total",
			Help:      "Number of completed scheduler ticks.",
		}),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dimmerd",
			Name:      "applied_total",
			Help:      "Values successfully applied to targets.",
		}, []string{"kind"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dimmerd",
			Name:      "suppressed_total",
			Help:      "Evaluations skipped because the change was below min_delta.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dimmerd",
			Name:      "apply_failures_total",
			Help:      "Transient apply failures, retried on the next tick.",
		}, []string{"kind"}),
		lost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dimmerd",
			Name:      "targets_lost_total",
			Help:      "Targets removed because they no longer exist.",
		}, []string{"kind"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dimmerd",
			Name:      "active_targets",
			Help:      "Targets currently cycling.",
		}, []string{"kind"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dimmerd",
			Name:      "loop_running",
			Help:      "1 while the scheduling loop is running.",
		}),
		tickTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dimmerd",
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent evaluating one tick.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	m.registry.MustRegister(
		m.ticks, m.applied, m.suppressed, m.failures, m.lost, m.active, m.running, m.tickTime,
	)
	return m
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) TickCompleted(seconds float64) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickTime.Observe(seconds)
}

func (m *Metrics) Applied(kind string) {
	if m == nil {
		return
	}
	m.applied.WithLabelValues(kind).Inc()
}

func (m *Metrics) Suppressed(kind string) {
	if m == nil {
		return
	}
	m.suppressed.WithLabelValues(kind).Inc()
}

func (m *Metrics) ApplyFailed(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) TargetLost(kind string) {
	if m == nil {
		return
	}
	m.lost.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetActive(kind string, n int) {
	if m == nil {
		return
	}
	m.active.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}
