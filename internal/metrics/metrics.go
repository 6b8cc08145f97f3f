// Package metrics exposes sync pipeline counters for Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "grantsync"

// Metrics holds the collectors updated by the sync pipeline. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	recordsTotal     *prometheus.CounterVec
	rejectedTotal    prometheus.Counter
	lastSuccess      prometheus.Gauge
	storedActive     prometheus.Gauge
	extractSizeBytes prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "sync runs by terminal status",
		},
		[]string{"status", "trigger"},
	)
	m.runDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "wall time of completed sync runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)
	m.recordsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "opportunity records by outcome",
		},
		[]string{"outcome"},
	)
	m.rejectedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_rejected_total",
			Help:      "sync requests refused because a run was live",
		},
	)
	m.lastSuccess = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "unix time of the last successful sync",
		},
	)
	m.storedActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_opportunities",
			Help:      "stored opportunities still open at the last status check",
		},
	)
	m.extractSizeBytes = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "extract_size_bytes",
			Help:      "size of the most recently downloaded extract",
		},
	)
	return m
}

// Run describes a finished run for ObserveRun.
type Run struct {
	Status    string
	Trigger   string
	Duration  time.Duration
	Processed int
	Deleted   int
	Skipped   int
	FileSize  int64
	Finished  time.Time
}

// ObserveRun records a completed run.
func (m *Metrics) ObserveRun(r Run) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(r.Status, r.Trigger).Inc()
	m.runDuration.Observe(r.Duration.Seconds())
	m.recordsTotal.WithLabelValues("upserted").Add(float64(r.Processed))
	m.recordsTotal.WithLabelValues("deleted").Add(float64(r.Deleted))
	m.recordsTotal.WithLabelValues("skipped").Add(float64(r.Skipped))
	if r.FileSize > 0 {
		m.extractSizeBytes.Set(float64(r.FileSize))
	}
	if r.Status == "success" {
		m.lastSuccess.Set(float64(r.Finished.Unix()))
	}
}

// ObserveRejected counts a request refused by the run guard.
func (m *Metrics) ObserveRejected() {
	if m == nil {
		return
	}
	m.rejectedTotal.Inc()
}

// SetActive records the active opportunity count.
func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.storedActive.Set(float64(n))
}
