package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "magpie_queue_depth",
			Help: "Number of document events currently buffered in the job queue",
		},
	)

	QueueEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_queue_enqueued_total",
			Help: "Total number of document events accepted into the queue",
		},
	)

	QueueDequeued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_queue_dequeued_total",
			Help: "Total number of document events handed to workers",
		},
	)

	// Job metrics
	JobsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "magpie_jobs_inflight",
			Help: "Number of jobs currently being processed by workers",
		},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_jobs_total",
			Help: "Total number of jobs finished by terminal status",
		},
		[]string{"status"},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "magpie_job_duration_seconds",
			Help:    "End-to-end job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// Download metrics
	DownloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_downloads_total",
			Help: "Total number of completed document downloads",
		},
	)

	DownloadRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_download_retries_total",
			Help: "Total number of download attempts retried after transient failures",
		},
	)

	DownloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_download_bytes_total",
			Help: "Total bytes streamed into the content store",
		},
	)

	DuplicatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_duplicates_total",
			Help: "Total number of duplicate documents skipped by dedup stage",
		},
		[]string{"stage"},
	)

	// Extraction and scanning metrics
	ExtractFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_extract_failures_total",
			Help: "Total number of archive extractions aborted by reason",
		},
		[]string{"reason"},
	)

	IndicatorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magpie_indicators_total",
			Help: "Total number of indicator occurrences written by type",
		},
		[]string{"type"},
	)

	ScanTruncatedLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "magpie_scan_truncated_lines_total",
			Help: "Total number of scanned lines truncated at the line cap",
		},
	)

	// Database snapshot gauges, refreshed by the Collector
	DBJobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "magpie_db_jobs_total",
			Help: "Jobs currently recorded in the database by status",
		},
		[]string{"status"},
	)

	DBIndicatorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "magpie_db_indicators_total",
			Help: "Indicators currently recorded in the database by type",
		},
		[]string{"type"},
	)

	ProcessedFilesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "magpie_processed_files_total",
			Help: "Processed files currently recorded in the database",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueEnqueued)
	prometheus.MustRegister(QueueDequeued)
	prometheus.MustRegister(JobsInflight)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(DownloadsTotal)
	prometheus.MustRegister(DownloadRetries)
	prometheus.MustRegister(DownloadBytes)
	prometheus.MustRegister(DuplicatesTotal)
	prometheus.MustRegister(ExtractFailures)
	prometheus.MustRegister(IndicatorsTotal)
	prometheus.MustRegister(ScanTruncatedLines)
	prometheus.MustRegister(DBJobsTotal)
	prometheus.MustRegister(DBIndicatorsTotal)
	prometheus.MustRegister(ProcessedFilesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
