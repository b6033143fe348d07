package runner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the run counters exported on /metrics.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    prometheus.Histogram
	records     prometheus.Gauge
	reports     prometheus.Gauge
	lastSuccess prometheus.Gauge
}

// NewMetrics registers the run metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadrecon",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "leadrecon",
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leadrecon",
			Name:      "records",
			Help:      "Reconciled records in the last successful run.",
		}),
		reports: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leadrecon",
			Name:      "reports",
			Help:      "Report exports read by the last successful run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "leadrecon",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
	}
	reg.MustRegister(m.runs, m.duration, m.records, m.reports, m.lastSuccess)
	return m
}

func (m *Metrics) observe(status string, took time.Duration, records, reports int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.duration.Observe(took.Seconds())
	if status == "succeeded" {
		m.records.Set(float64(records))
		m.reports.Set(float64(reports))
		m.lastSuccess.SetToCurrentTime()
	}
}
