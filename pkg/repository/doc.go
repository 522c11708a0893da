/*
Package repository provides idempotent persistence for the ingestion
pipeline on SQLite: processed files, job history and extracted indicators.

The repository is the service's memory. Everything that makes restarts
and redeliveries safe lives here: the dedup index, per-attempt job rows,
and indicator provenance, all written so that replaying any operation
converges instead of corrupting.

# Architecture

	┌──────────────────────────────────────────────────────┐
	│ Repository (database/sql + mattn/go-sqlite3)         │
	│                                                      │
	│  processed_files      keyed by telegram_file_id      │
	│  processing_jobs      keyed by job_id (UUID)         │
	│  extracted_indicators composite unique key           │
	│                                                      │
	│  WAL, synchronous=NORMAL, busy_timeout=5s,           │
	│  single pooled connection, busy/locked retry         │
	└──────────────────────────────────────────────────────┘

The embedded schema is applied on every open and PRAGMA user_version tracks
migrations, so Open is idempotent and upgrades happen in place.

# Tables

processed_files:
  - One row per successfully ingested artifact
  - telegram_file_id holds the external ref token, UNIQUE; this is the
    pre-download dedup index
  - file_hash is the BLAKE2b-256 digest, indexed but deliberately not
    unique: distinct refs may share identical content
  - first_seen_at is set once; last_seen_at refreshes on re-encounter

processing_jobs:
  - One row per processing attempt, keyed by UUID
  - status walks queued -> processing -> {completed, failed}
  - failed rows keep their classified error text and any known hash
  - no foreign key to processed_files: a failed job is history worth
    keeping even though no file row ever appears

extracted_indicators:
  - One row per distinct indicator occurrence
  - UNIQUE (indicator_type, value, source_file_hash, source_line)
    absorbs replays; re-scanning an archive cannot double-count
  - source_file_hash names the archive blob, source_file names the member

# Write Discipline

Every write is shaped so that replaying it after a crash cannot corrupt
state:

  - BeginJob inserts a fresh UUID row; re-delivered events create new job
    rows rather than fighting over one.
  - MarkJob never erases a known hash: an empty hash argument keeps the
    stored value, so a late failure still records what was downloaded.
  - CompleteJob couples the processed-file upsert and the completed
    transition in one transaction. The upsert conflicts on
    telegram_file_id and only refreshes last_seen_at, never first_seen_at.
  - UpsertIndicators writes chunks of 100 in sub-transactions; the
    composite unique key absorbs replays.

# Concurrency

SQLite allows one writer at a time. The pool is capped at a single
connection shared by all workers, which serializes writes in-process
instead of bouncing off the file lock. Three layers absorb what
contention remains:

 1. busy_timeout=5000 makes the driver wait before reporting SQLITE_BUSY
 2. withRetry re-runs busy/locked statements with linear backoff
    (50ms, 100ms, 150ms; attempts configurable via WithMaxRetries)
 3. The pipeline classifies a surfaced busy as db_transient, failing
    only the one job

# Usage

Opening:

	repo, err := repository.Open(cfg.DatabaseURL,
		repository.WithMaxRetries(cfg.DBMaxRetries))
	if err != nil {
		return err
	}
	defer repo.Close()

The per-job write sequence:

	seen, err := repo.IsProcessed(ctx, ref)          // pre-download dedup
	jobID, err := repo.BeginJob(ctx, ref)            // queued row
	err = repo.MarkJob(ctx, jobID, types.JobProcessing, "", "")
	err = repo.MarkJob(ctx, jobID, types.JobProcessing, "", hash)
	err = repo.CompleteJob(ctx, jobID, processedFile) // one transaction
	err = repo.UpsertIndicators(ctx, batch)           // after the commit

Reads for tooling:

	counts, err := repo.JobCounts(ctx)
	jobs, err := repo.RecentJobs(ctx, 20)
	err = repo.ListProcessedFiles(ctx, func(pf types.ProcessedFile) error {
		return verify(pf) // streaming, one row at a time
	})

# Performance Characteristics

Write latency:
  - WAL with synchronous=NORMAL: a short transaction commits in well
    under a millisecond on SSD
  - The happy path per job is four to five such transactions
  - Indicator chunks amortize to ~100 rows per prepared statement

Read behavior:
  - IsProcessed is a unique-index point lookup
  - WAL lets the stats command and the metrics collector read while
    workers write

Scale envelope:
  - Single-node SQLite comfortably holds millions of rows per table
  - ListProcessedFiles streams via callback, so fsck never loads the
    table into memory

# Integration Points

This package integrates with:

  - pkg/pipeline: IsProcessed for pre-download dedup, then the
    BeginJob/MarkJob/CompleteJob/UpsertIndicators sequence per job
  - cmd/magpie: stats and fsck read through JobCounts, IndicatorCounts,
    ProcessedCount, RecentJobs and ListProcessedFiles
  - pkg/metrics: Ping backs the readiness probe; the counts feed the
    database snapshot gauges
  - pkg/types: row shapes and the JobStatus state machine

# Design Patterns

Idempotent Open:
  - CREATE TABLE IF NOT EXISTS plus user_version stamping
  - Every boot converges the schema; there is no separate migrate step

Upsert for Re-encounters:
  - ON CONFLICT DO UPDATE touches only last_seen_at
  - Seeing an artifact again is an observation, not a new fact

Append-Only Job History:
  - Job rows are never deleted or reused
  - The table is the audit log of every attempt, including failures

Classified Errors at the Boundary:
  - IsBusy and IsConstraint inspect driver error codes
  - Callers branch on classification, never on message text

# Troubleshooting

Common Issues:

database is locked:
  - Symptom: db_transient job failures under load
  - Cause: an external process holding the database, or very slow disk
  - Check: nothing else opens the file while the service runs
  - Solution: the built-in retries absorb transient cases; persistent
    lock-ups mean a second writer exists

Database grows without bound:
  - Symptom: file size far beyond row counts
  - Cause: WAL checkpointing lagging on a busy instance
  - Solution: stop the service cleanly (checkpoint runs on close), or
    PRAGMA wal_checkpoint(TRUNCATE) out of band

Stale processing rows after a crash:
  - Symptom: jobs stuck in processing with no worker running
  - Expected: they are the record of a hard crash; re-delivered events
    start fresh jobs, and the stale rows remain as history

# See Also

  - pkg/types for the row and status definitions
  - pkg/pipeline for the write sequence per job
  - schema.sql in this package for the authoritative DDL
  - go-sqlite3 driver: https://github.com/mattn/go-sqlite3
  - SQLite WAL mode: https://www.sqlite.org/wal.html
*/
package repository
