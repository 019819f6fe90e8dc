package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"medguard/internal/guard"
)

const namespace = "medguard"

// Metrics holds the Prometheus collectors for the protection service.
// It implements guard.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal      *prometheus.CounterVec
	BackupsTotal     *prometheus.CounterVec
	BackupFailures   *prometheus.CounterVec
	BackupDuration   prometheus.Histogram
	RestoresTotal    prometheus.Counter
	RestoreFailures  *prometheus.CounterVec
	RestoreDuration  prometheus.Histogram
	AlertsTotal      prometheus.Counter
	LastAlertScore   prometheus.Gauge
	ThreatScoreGauge prometheus.Gauge
}

var _ guard.Recorder = (*Metrics)(nil)

// NewMetrics registers every collector on a fresh registry, along with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_events_total",
			Help:      "Total number of file events processed, by kind",
		}, []string{"kind"}),
		BackupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "Total number of completed backups, by result",
		}, []string{"result"}),
		BackupFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backup_failures_total",
			Help:      "Total number of failed backups, by error kind",
		}, []string{"kind"}),
		BackupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backup_duration_seconds",
			Help:      "Time taken to back up one file",
			Buckets:   prometheus.DefBuckets,
		}),
		RestoresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restores_total",
			Help:      "Total number of completed restores",
		}),
		RestoreFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restore_failures_total",
			Help:      "Total number of failed restores, by error kind",
		}, []string{"kind"}),
		RestoreDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "restore_duration_seconds",
			Help:      "Time taken to restore one file",
			Buckets:   prometheus.DefBuckets,
		}),
		AlertsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Total number of threat alerts raised",
		}),
		LastAlertScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_alert_score",
			Help:      "Score of the most recent threat alert",
		}),
		ThreatScoreGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threat_score",
			Help:      "Threat score of the current detection window",
		}),
	}
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) EventProcessed(kind guard.EventKind) {
	m.EventsTotal.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) BackupCompleted(created bool, d time.Duration) {
	result := "unchanged"
	if created {
		result = "created"
	}
	m.BackupsTotal.WithLabelValues(result).Inc()
	m.BackupDuration.Observe(d.Seconds())
}

func (m *Metrics) BackupFailed(errorKind string) {
	m.BackupFailures.WithLabelValues(errorKind).Inc()
}

func (m *Metrics) RestoreCompleted(d time.Duration) {
	m.RestoresTotal.Inc()
	m.RestoreDuration.Observe(d.Seconds())
}

func (m *Metrics) RestoreFailed(errorKind string) {
	m.RestoreFailures.WithLabelValues(errorKind).Inc()
}

func (m *Metrics) AlertRaised(score int) {
	m.AlertsTotal.Inc()
	m.LastAlertScore.Set(float64(score))
}

func (m *Metrics) ThreatScore(score int) {
	m.ThreatScoreGauge.Set(float64(score))
}
