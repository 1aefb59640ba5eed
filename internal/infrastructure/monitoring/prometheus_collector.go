package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes fan-out and connection metrics. It
// implements the dispatcher's metrics interface.
type PrometheusCollector struct {
	dispatchesTotal   prometheus.Counter
	pushesTotal       prometheus.Counter
	pushFailuresTotal prometheus.Counter
	staleSamplesTotal prometheus.Counter

	fanoutDuration prometheus.Histogram
	fanoutViewers  prometheus.Histogram
}

// NewPrometheusCollector registers all metrics with the default
// registry. connectionCount is sampled on every scrape so the gauge
// never drifts from the registry's own view.
func NewPrometheusCollector(connectionCount func() int) *PrometheusCollector {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "livemap_connections",
		Help: "Number of live WebSocket connections",
	}, func() float64 {
		return float64(connectionCount())
	})

	return &PrometheusCollector{
		dispatchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "livemap_dispatches_total",
			Help: "Total number of location samples accepted for fan-out",
		}),

		pushesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "livemap_pushes_total",
			Help: "Total number of location updates pushed to viewer connections",
		}),

		pushFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "livemap_push_failures_total",
			Help: "Total number of failed pushes that caused a disconnect",
		}),

		staleSamplesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "livemap_stale_samples_total",
			Help: "Total number of samples rejected by the monotonic capture-time guard",
		}),

		fanoutDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "livemap_fanout_duration_seconds",
			Help:    "Duration of one sample's fan-out to all viewers",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		fanoutViewers: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "livemap_fanout_viewers",
			Help:    "Number of authorized viewers per dispatched sample",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

func (p *PrometheusCollector) RecordDispatch(viewers, pushes, failures int, duration time.Duration) {
	p.dispatchesTotal.Inc()
	p.pushesTotal.Add(float64(pushes))
	p.pushFailuresTotal.Add(float64(failures))
	p.fanoutDuration.Observe(duration.Seconds())
	p.fanoutViewers.Observe(float64(viewers))
}

func (p *PrometheusCollector) RecordStaleSample() {
	p.staleSamplesTotal.Inc()
}
