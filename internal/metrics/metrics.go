package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the dashboard's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so components can be built without one.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pollFailures    prometheus.Counter
	staleResults    *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	streamActive    prometheus.Gauge
	streamFrames    prometheus.Counter
	viewClients     prometheus.Gauge
}

// New creates a new Metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_detector_requests_total",
			Help: "Requests sent to the detection service by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dashboard_detector_request_duration_seconds",
			Help:    "Detection service request latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
		pollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_stats_poll_failures_total",
			Help: "Background stats refreshes that failed and were ignored",
		}),
		staleResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_stale_results_discarded_total",
			Help: "Detect responses dropped because a newer request was issued for the same flow",
		}, []string{"flow"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_notifications_total",
			Help: "Notifications shown by severity",
		}, []string{"severity"}),
		streamActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_stream_active",
			Help: "1 while the live stream is bound, 0 otherwise",
		}),
		streamFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_stream_frames_total",
			Help: "Frames read from the live feed",
		}),
		viewClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_view_clients",
			Help: "Connected browser views",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.pollFailures,
		m.staleResults,
		m.notifications,
		m.streamActive,
		m.streamFrames,
		m.viewClients,
	)

	return m
}

// ObserveRequest records one detection service call
func (m *Metrics) ObserveRequest(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) PollFailed() {
	if m == nil {
		return
	}
	m.pollFailures.Inc()
}

func (m *Metrics) StaleResult(flow string) {
	if m == nil {
		return
	}
	m.staleResults.WithLabelValues(flow).Inc()
}

func (m *Metrics) Notified(severity string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(severity).Inc()
}

func (m *Metrics) SetStreamActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.streamActive.Set(1)
	} else {
		m.streamActive.Set(0)
	}
}

func (m *Metrics) StreamFrame() {
	if m == nil {
		return
	}
	m.streamFrames.Inc()
}

func (m *Metrics) SetViewClients(n int) {
	if m == nil {
		return
	}
	m.viewClients.Set(float64(n))
}

// Registry exposes the underlying registry (tests gather from it)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the Prometheus scrape endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
