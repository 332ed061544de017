// Package metrics exposes sync instrumentation on a private Prometheus
// registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starford/appcatalog/internal/models"
	"github.com/starford/appcatalog/internal/syncer"
)

const namespace = "appcatalog"

// Sync collects sync run metrics. It implements syncer.Notifier.
type Sync struct {
	registry *prometheus.Registry

	runs         *prometheus.CounterVec
	records      *prometheus.CounterVec
	recordErrors prometheus.Counter
	duration     prometheus.Histogram
	inProgress   prometheus.Gauge
}

var _ syncer.Notifier = (*Sync)(nil)

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Sync {
	m := &Sync{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "runs_total",
				Help:      "Total number of finished sync runs.",
			},
			[]string{"status"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "records_total",
				Help:      "Records applied by sync runs, by classification.",
			},
			[]string{"classification"},
		),
		recordErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "record_errors_total",
			Help:      "Records that failed to apply.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of sync runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27m
		}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "in_progress",
			Help:      "1 while a sync run is executing.",
		}),
	}
	m.registry.MustRegister(
		m.runs,
		m.records,
		m.recordErrors,
		m.duration,
		m.inProgress,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Sync) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Sync) Registry() *prometheus.Registry {
	return m.registry
}

// SyncStarted implements syncer.Notifier.
func (m *Sync) SyncStarted(*models.SyncRun) {
	m.inProgress.Set(1)
}

// SyncFinished implements syncer.Notifier.
func (m *Sync) SyncFinished(run *models.SyncRun, _ []syncer.Result) {
	m.inProgress.Set(0)
	m.runs.WithLabelValues(string(run.Status)).Inc()

	s := run.Stats
	m.records.WithLabelValues(string(models.Added)).Add(float64(s.Added))
	m.records.WithLabelValues(string(models.Updated)).Add(float64(s.Updated))
	m.records.WithLabelValues(string(models.Unchanged)).Add(float64(s.Unchanged))
	m.records.WithLabelValues(string(models.Removed)).Add(float64(s.Removed))
	m.recordErrors.Add(float64(s.Errors))

	if run.FinishedAt != nil {
		m.duration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	}
}
