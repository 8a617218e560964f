package web

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics groups the Prometheus instruments for the service. One instance
// is created per Server with its own registry, keeping handler tests
// isolated from each other.
type metrics struct {
	registry *prometheus.Registry

	uploadsTotal     *prometheus.CounterVec
	resolutionsTotal *prometheus.CounterVec
	streamDuration   *prometheus.HistogramVec
	activeStreams    prometheus.Gauge
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &metrics{
		registry: registry,
		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bomcheck_uploads_total",
			Help: "Spreadsheet uploads by result.",
		}, []string{"result"}),
		resolutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bomcheck_resolutions_total",
			Help: "Per-row resolution outcomes by vendor source.",
		}, []string{"source", "outcome"}),
		streamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bomcheck_stream_duration_seconds",
			Help:    "Wall time of complete result streams by vendor source.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"source"}),
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bomcheck_active_streams",
			Help: "Currently running result streams.",
		}),
	}
}
