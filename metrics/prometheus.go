// Package metrics exports geojoin metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/geojoin"
	"github.com/hupe1980/geojoin/operator"
)

// PrometheusCollector implements geojoin.MetricsCollector.
type PrometheusCollector struct {
	opLatency   *prometheus.HistogramVec
	rows        *prometheus.CounterVec
	candidates  prometheus.Counter
	yields      prometheus.Counter
	indexBytes  prometheus.Gauge
	probeMemory prometheus.Gauge
}

var _ geojoin.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates the collector and registers it with reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &PrometheusCollector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geojoin_operation_latency_seconds",
			Help:    "Latency of join operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geojoin_rows_total",
			Help: "Rows processed by side",
		}, []string{"side"}),
		candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geojoin_probe_candidates_total",
			Help: "Index candidates returned to probe operators",
		}),
		yields: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geojoin_probe_yields_total",
			Help: "Times probe operators yielded mid-page",
		}),
		indexBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geojoin_index_size_bytes",
			Help: "Size of the most recently built index",
		}),
		probeMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geojoin_probe_peak_memory_bytes",
			Help: "Peak lookup memory of the most recent probe partition",
		}),
	}

	reg.MustRegister(c.opLatency, c.rows, c.candidates, c.yields, c.indexBytes, c.probeMemory)
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordBuild implements geojoin.MetricsCollector.
func (c *PrometheusCollector) RecordBuild(rows int, sizeBytes int64, d time.Duration, err error) {
	c.opLatency.WithLabelValues("build", status(err)).Observe(d.Seconds())
	if err != nil {
		return
	}
	c.rows.WithLabelValues("build").Add(float64(rows))
	c.indexBytes.Set(float64(sizeBytes))
}

// RecordProbe implements geojoin.MetricsCollector.
func (c *PrometheusCollector) RecordProbe(stats operator.Stats, d time.Duration, err error) {
	c.opLatency.WithLabelValues("probe", status(err)).Observe(d.Seconds())
	c.rows.WithLabelValues("probe").Add(float64(stats.InputPositions))
	c.candidates.Add(float64(stats.Candidates))
	c.yields.Add(float64(stats.Yields))
	c.probeMemory.Set(float64(stats.PeakMemoryBytes))
}

// RecordJoin implements geojoin.MetricsCollector.
func (c *PrometheusCollector) RecordJoin(outputRows int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("join", status(err)).Observe(d.Seconds())
	if err == nil {
		c.rows.WithLabelValues("output").Add(float64(outputRows))
	}
}
