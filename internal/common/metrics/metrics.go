// Package metrics exposes Prometheus collectors for the judge pipeline.
// All methods are safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "judgeflow"

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	queueDepth     *prometheus.GaugeVec
	submissions    *prometheus.CounterVec
	verdicts       *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	backendRetries prometheus.Counter
	activeStreams  prometheus.Gauge
}

// New creates a registry with process/go collectors and the pipeline collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_jobs",
			Help:      "Jobs in the judge queue by state.",
		}, []string{"state"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submission intake outcomes.",
		}, []string{"outcome"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Final submission statuses.",
		}, []string{"status"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_seconds",
			Help:      "Execution backend call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"op"}),
		backendRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_retries_total",
			Help:      "Retried execution backend calls.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Open streaming connections.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.queueDepth, m.submissions, m.verdicts, m.backendLatency, m.backendRetries, m.activeStreams,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetQueueDepth(pending, processing, dead int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("pending").Set(float64(pending))
	m.queueDepth.WithLabelValues("processing").Set(float64(processing))
	m.queueDepth.WithLabelValues("dead").Set(float64(dead))
}

func (m *Metrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveVerdict(status string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveBackendCall(op string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.backendLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) IncBackendRetry() {
	if m == nil {
		return
	}
	m.backendRetries.Inc()
}

// StreamOpened increments the open stream gauge and returns the matching decrement.
func (m *Metrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.activeStreams.Inc()
	return m.activeStreams.Dec
}
