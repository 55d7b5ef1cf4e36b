package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/teslashibe/go-mlat/internal/tracker"
)

const metricsNamespace = "go_mlat"

// Metrics holds the Prometheus collectors exported on /metrics.
// Each server owns its registry so tests can build servers side by side.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec   // method, route, status
	EstimatesTotal   *prometheus.CounterVec   // endpoint, outcome
	EstimateDuration *prometheus.HistogramVec // endpoint
	CandidatesKept   prometheus.Histogram
}

// NewMetrics registers request and estimation metrics plus gauges that read the
// tracker and WebSocket hub on every scrape. trk may be nil.
func NewMetrics(trk *tracker.Tracker, hub *WSHub, startTime time.Time) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		EstimatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "estimates_total",
			Help:      "Estimation calls by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		EstimateDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "estimate_duration_seconds",
			Help:      "Time spent estimating a position",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"endpoint"}),
		CandidatesKept: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "candidates_per_estimate",
			Help:      "Real intersection candidates fed to the aggregator",
			Buckets:   prometheus.LinearBuckets(0, 2, 12),
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "uptime_seconds",
		Help:      "Server uptime in seconds",
	}, func() float64 { return time.Since(startTime).Seconds() })

	if hub != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_clients",
			Help:      "Current WebSocket client count",
		}, func() float64 { return float64(hub.ClientCount()) })
	}

	if trk != nil {
		registerTrackerMetrics(factory, trk)
	}

	return m
}

func registerTrackerMetrics(factory promauto.Factory, trk *tracker.Tracker) {
	counter := func(name, help string, read func(tracker.TrackerStats) int64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(trk.Stats())) })
	}
	gauge := func(name, help string, read func(tracker.TrackerStats) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return read(trk.Stats()) })
	}

	counter("tracker_polls_total", "Total tracker polls",
		func(s tracker.TrackerStats) int64 { return s.PollCount })
	counter("tracker_poll_errors_total", "Polls that failed to observe or estimate",
		func(s tracker.TrackerStats) int64 { return s.ErrorCount })
	counter("tracker_no_fix_total", "Polls where no reference pair intersected",
		func(s tracker.TrackerStats) int64 { return s.NoFixCount })
	counter("tracker_fallback_total", "Fixes where trimming fell back to the plain mean",
		func(s tracker.TrackerStats) int64 { return s.FallbackCount })

	gauge("position_x_meters", "Smoothed transmitter X",
		func(s tracker.TrackerStats) float64 { return s.CurrentPosition.X })
	gauge("position_y_meters", "Smoothed transmitter Y",
		func(s tracker.TrackerStats) float64 { return s.CurrentPosition.Y })
	gauge("position_confidence", "Confidence of the latest fix",
		func(s tracker.TrackerStats) float64 { return s.CurrentConfidence })
	gauge("tracker_avg_latency_ms", "Average observation latency in milliseconds",
		func(s tracker.TrackerStats) float64 { return s.AvgLatencyMs })
	gauge("source_healthy", "Range source health (1=healthy, 0=unhealthy)",
		func(s tracker.TrackerStats) float64 { return boolToFloat(s.SourceHealthy) })
	gauge("has_fix", "Whether the latest poll produced a position",
		func(s tracker.TrackerStats) float64 { return boolToFloat(s.HasFix) })
}

// Registry returns the registry served on /metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveEstimate records one estimation call
func (m *Metrics) ObserveEstimate(endpoint, outcome string, elapsed time.Duration, candidates int) {
	m.EstimatesTotal.WithLabelValues(endpoint, outcome).Inc()
	m.EstimateDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
	if outcome == outcomeOK || outcome == outcomeFallback {
		m.CandidatesKept.Observe(float64(candidates))
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
