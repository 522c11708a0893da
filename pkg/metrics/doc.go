/*
Package metrics provides Prometheus instrumentation, component health
tracking and the observability HTTP surface for magpie.

The package defines and registers all magpie metrics against the default
Prometheus registry at init, tracks per-component health for the probe
endpoints, and serves everything from a single HTTP server. Other
packages import the collectors directly and increment them inline; there
is no metrics plumbing through constructors.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                    Observability Server                     │
	│                                                             │
	│   /metrics ──▶ promhttp (default registry)                  │
	│   /health  ──▶ HealthChecker: every reported component      │
	│   /ready   ──▶ HealthChecker: repository, store, telegram   │
	└──────────────────────────▲──────────────────────────────────┘
	                           │
	      ┌────────────────────┼─────────────────────┐
	      │                    │                     │
	┌─────┴─────┐       ┌──────┴──────┐       ┌──────┴──────┐
	│ pipeline  │       │ queue       │       │ Collector   │
	│ counters, │       │ depth gauge │       │ DB snapshot │
	│ histogram │       │ + counters  │       │ gauges, 15s │
	└───────────┘       └─────────────┘       └─────────────┘

# Core Components

Package-level collectors:
  - Declared as vars, registered in init with MustRegister
  - Incremented inline at the call sites they measure
  - Counter names end in _total, gauges describe current state

Collector:
  - 15-second poller mirroring database counts (jobs by status,
    indicators by type, processed files) into gauges
  - Dashboards see durable state next to process counters
  - Poll errors keep the last good values; emptied states are zeroed
    explicitly so labels never go stale

HealthChecker:
  - Aggregates component state reported through UpdateComponent
  - /health reflects every reported component
  - /ready gates on the critical three (repository, store, telegram),
    so a reconnecting listener takes the service out of rotation
    without restarting it

Server:
  - One mux serving /metrics, /health, /ready
  - Conservative read/write timeouts; Shutdown drains in-flight requests

Timer:
  - Elapsed-time helper for histogram observations, plain and Vec

# Metrics Reference

Queue:
  - magpie_queue_depth (gauge): events buffered right now
  - magpie_queue_enqueued_total, magpie_queue_dequeued_total

Jobs:
  - magpie_jobs_inflight (gauge)
  - magpie_jobs_total{status="completed"|"failed"}
  - magpie_job_duration_seconds (histogram, 0.1s to ~200s buckets)

Downloads:
  - magpie_downloads_total, magpie_download_retries_total
  - magpie_download_bytes_total

Dedup and safety:
  - magpie_duplicates_total{stage="pre"|"post"}
  - magpie_extract_failures_total{reason}
  - magpie_scan_truncated_lines_total

Indicators:
  - magpie_indicators_total{type="domain"|"email"|"ipv4"}

Database snapshots (Collector-refreshed gauges):
  - magpie_db_jobs_total{status}
  - magpie_db_indicators_total{type}
  - magpie_processed_files_total

# Usage

Reporting health and version:

	metrics.SetVersion(version)
	metrics.UpdateComponent("repository", true, "")
	metrics.UpdateComponent("telegram", false, "reconnecting")

Instrumenting an operation:

	timer := metrics.NewTimer()
	// ... process job ...
	timer.ObserveDuration(metrics.JobDuration)
	metrics.JobsTotal.WithLabelValues("completed").Inc()

Serving the endpoints:

	srv := metrics.NewServer(cfg.MetricsAddr)
	go srv.Start()
	defer srv.Shutdown(ctx)

Running the database poller:

	c := metrics.NewCollector(repo)
	c.Start()
	defer c.Stop()

# Probe Semantics

/health (liveness):
  - 200 when every reported component is healthy, 503 otherwise
  - Body lists each component with its message
  - Meant for "is the process sane", not for load balancing

/ready (readiness):
  - 200 only when repository, store, and telegram are all reported
    healthy; missing registration counts as not ready
  - Degrades during listener reconnects and flips back on OnReady
  - Meant for rotation decisions and deployment gates

# Integration Points

This package integrates with:

  - pkg/queue: depth gauge and enqueue/dequeue counters
  - pkg/pipeline: job, download, duplicate, extraction and indicator
    counters plus the duration histogram
  - pkg/supervisor: starts the server and the Collector, reports
    component health transitions
  - pkg/repository: satisfies StatsSource for the Collector and backs
    the readiness probe
  - cmd/magpie: stamps the build version into the health payload

# Design Patterns

Global Registry:
  - Default Prometheus registry, package-level collectors, init-time
    registration
  - Call sites increment directly; no instrumentation interfaces

Counters vs Snapshots:
  - Process counters reset with the process and measure rates
  - DB snapshot gauges survive restarts and measure accumulated state
  - Dashboards need both; the name prefix (magpie_db_) separates them

Last-Good-Value Polling:
  - A failed database poll is logged, not propagated to gauges
  - A brief lock never makes dashboards lie with zeros

# Monitoring

Suggested alerts:

  - rate(magpie_jobs_total{status="failed"}[10m]) high: pipeline unwell
  - magpie_queue_depth near capacity for minutes: workers starved or
    downloads stalled
  - /ready returning 503 for more than a few minutes: listener cannot
    re-establish its session
  - rate(magpie_extract_failures_total[1h]) spike: a channel is posting
    hostile archives

# See Also

  - pkg/supervisor for where the server and Collector are started
  - pkg/pipeline for the call sites of most counters
  - Prometheus client: https://github.com/prometheus/client_golang
  - Naming conventions: https://prometheus.io/docs/practices/naming/
*/
package metrics
