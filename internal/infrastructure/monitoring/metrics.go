package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the catalog core.
type Metrics struct {
	// Extraction metrics
	ExtractionsTotal    *prometheus.CounterVec
	ExtractionDuration  *prometheus.HistogramVec
	EntriesExtracted    prometheus.Counter
	TraversalRejections prometheus.Counter

	// Ingestion metrics
	IngestsTotal *prometheus.CounterVec

	// Registry metrics
	RegistryWrites  *prometheus.CounterVec
	EntriesManaged  prometheus.Gauge
	LockWaitSeconds prometheus.Histogram

	// Batch metrics
	BatchRuns      prometheus.Counter
	BatchDirs      prometheus.Counter
	BackupsCreated prometheus.Counter
}

// NewMetrics creates and registers all metrics. A nil registerer uses the
// process-wide default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ExtractionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greenstash_extractions_total",
				Help: "Total number of archive extractions",
			},
			[]string{"format", "status"},
		),
		ExtractionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "greenstash_extraction_duration_seconds",
				Help:    "Archive extraction duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"format"},
		),
		EntriesExtracted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "greenstash_archive_entries_extracted_total",
				Help: "Total number of archive entries written",
			},
		),
		TraversalRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "greenstash_traversal_rejections_total",
				Help: "Archive entries skipped for escaping the destination root",
			},
		),
		IngestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greenstash_ingests_total",
				Help: "Total number of ingestion attempts",
			},
			[]string{"status"},
		),
		RegistryWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greenstash_registry_writes_total",
				Help: "Total number of catalog writes",
			},
			[]string{"status"},
		),
		EntriesManaged: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "greenstash_entries_managed",
				Help: "Number of managed entries in the catalog",
			},
		),
		LockWaitSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "greenstash_registry_lock_wait_seconds",
				Help:    "Time spent waiting for the registry lock",
				Buckets: []float64{.001, .01, .05, .1, .5, 1, 5, 10},
			},
		),
		BatchRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "greenstash_batch_runs_total",
				Help: "Total number of batch archive runs",
			},
		),
		BatchDirs: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "greenstash_batch_dirs_total",
				Help: "Total number of directories processed by batch runs",
			},
		),
		BackupsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "greenstash_backups_created_total",
				Help: "Total number of backup archives created",
			},
		),
	}
}

// NewTestMetrics creates metrics on a private registry, safe to construct
// repeatedly in tests.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// ObserveExtraction records one extraction outcome.
func (m *Metrics) ObserveExtraction(format, status string, duration time.Duration) {
	m.ExtractionsTotal.WithLabelValues(format, status).Inc()
	m.ExtractionDuration.WithLabelValues(format).Observe(duration.Seconds())
}
