/*
Package pipeline turns queued document events into terminal job records:
downloaded, stored, extracted, scanned, persisted, or failed with a
classified error.

The pipeline package is the data plane of magpie. A fixed pool of workers
pulls document events off the shared queue and drives each one through a
straight-line job lifecycle. Every job ends in exactly one terminal state,
every failure is isolated to its job, and every outcome is recorded in the
repository and the metrics registry.

# Architecture

	           ┌────────────────────────── Pool ──────────────────────────┐
	queue ───▶ │ worker 0..N-1: Dequeue ──▶ Processor.Process             │
	           └──────────────────────────────┬───────────────────────────┘
	                                          │
	        IsProcessed ──▶ BeginJob ──▶ download (retry) ──▶ PutStream
	                                          │
	                         extract + scan (archives only)
	                                          │
	                        CompleteJob ──▶ UpsertIndicators

Each job is a straight line with two dedup exits: a known external ref is
skipped before any download, and a known content hash is detected by the
store after the bytes land, producing a fresh processed_files row that
points at the existing blob.

Downloads stream through an io.Pipe into the content store, so a document
is never buffered whole. Transient failures retry with capped exponential
backoff; authorization failures and vanished documents do not retry.

Extraction and scanning happen before the completion write. A job whose
archive is password-protected, traversal-laden, or bomb-like ends failed
with no processed_files row, and its scratch directory is removed.
Indicators are written after the completion commit so every indicator row
references an existing processed_files row.

A worker survives anything a job does, panics included. Failures are
recorded on the job row with a classified error string and counted in the
jobs_total metric; they never escape the pool.

# Core Components

Processor:
  - The per-job state machine
  - Holds the repository, store, scanner, and downloader collaborators
  - Consumer-side interfaces, swappable in tests
  - One Process call per document event, always a terminal outcome

Pool:
  - Fixed set of workers looping on the shared queue
  - Run blocks until the queue closes and drains, or the context cancels
  - Job errors are logged and counted, never stop a worker

Classify:
  - Maps any job error onto the failure taxonomy in pkg/types
  - errors.Is / errors.As chains over sentinels and error types
  - Most specific class wins; auth beats network, guards beat storage

Config:
  - Limits: decompression ceiling and ratio handed to pkg/archive
  - DownloadAttempts: total tries per job, first included (minimum 1)
  - RetryBase / RetryCap: backoff shape, defaulting to 1s and 60s

# Job Lifecycle

Dedup and admission:

 1. Render the external ref token "{channel}_{message}_{document}"
 2. IsProcessed: known token means skip, count duplicates_total{stage=pre}
 3. BeginJob: insert a queued job row with a fresh UUID
 4. Mark the job processing; from here every exit writes a terminal row

Download and store:

 1. Open an io.Pipe; a goroutine streams the document into the writer
 2. PutStream spools, hashes (BLAKE2b-256), and finalizes atomically
 3. Compare byte counts; a short or long transfer is a transient failure
 4. On transient failure, retry with exponential backoff (base 1s, cap 60s)
 5. On auth failure or vanished document, stop immediately
 6. PutResult.Existed means identical bytes are already stored: count
    duplicates_total{stage=post}, record a fresh processed-file row
    pointing at the existing blob, and skip extraction

Extract and scan (archive documents only):

 1. Create a per-job scratch directory on the store's filesystem
 2. Extract members one at a time under path and bomb guards
 3. Scan each .txt member for indicator rules, then delete the member
 4. Collect hits with provenance: archive hash, member path, line number
 5. Remove the scratch directory whether extraction succeeded or not

Persist:

 1. CompleteJob: processed-file upsert and completed transition, one tx
 2. UpsertIndicators: chunked writes after the commit; a failure here is
    logged but does not fail the job, replay will converge the rows

Failure:

 1. Classify the error into its failure class
 2. Write the failed transition with "<class>: <error>" on the job row
 3. Emit the job_failed event and count jobs_total{status=failed}
 4. If the worker context is already cancelled, the terminal write runs
    under a short background context so the row is never left processing

# Deduplication

Two layers, checked at different times, serving different purposes:

Pre-download (external ref):
  - Same channel, message, and document seen before
  - Catches redelivered updates and restarts
  - Costs one indexed SELECT, saves the whole download

Post-download (content hash):
  - Different message carrying byte-identical content
  - Catches cross-posted and re-uploaded artifacts
  - Costs the download, saves storage, extraction, and scanning
  - Still records the new external ref as processed, so the pre-download
    check catches it next time

# Usage

Wiring a processor and pool:

	proc := pipeline.NewProcessor(repo, store, scanner, client, pipeline.Config{
		Limits:           archive.Limits{MaxTotalBytes: 2 << 30, MaxRatio: 100},
		DownloadAttempts: 5,
	})
	pool := pipeline.NewPool(q, proc, cfg.WorkerCount)
	pool.Run(ctx) // blocks until the queue closes and drains

Classifying an error outside the pool:

	class := pipeline.Classify(err)
	if class == types.ErrClassAuthFailed {
		// needs a human with a login code
	}

# Failure Scenarios

Transient network failure:
  - Download retries up to DownloadAttempts with capped backoff
  - Each retry counts download_retries_total and logs download_retry
  - Exhausted retries fail the job as transient_network

Vanished document:
  - The message was deleted or access revoked while the event was queued
  - No retry; the document will not come back
  - Job fails with the wrapped not-found error

Password-protected archive:
  - Extraction stops at the first encrypted member
  - Job fails as password_required with no processed_files row
  - The stored blob remains; an operator can extract it by hand later

Hostile archive (traversal or bomb):
  - Extraction stops at the first guard violation
  - Job fails as unsafe_archive; extract_failures_total counts the reason
  - Scratch directory is removed, nothing escapes it

Indicator write failure:
  - The job is already completed; the failure is logged, not recorded
  - Replaying the same archive later converges the indicator rows

Worker panic:
  - Recovered in the job runner with the stack logged
  - The job fails like any other error; the worker keeps running

Shutdown mid-job:
  - The worker context cancels; in-flight downloads stop
  - The terminal job write runs under a short background context

# Performance Characteristics

Throughput shape:
  - One document in flight per worker; N workers, N downloads
  - Downloads dominate wall time; hashing and storage add one file copy
  - Extraction and scanning are local CPU and disk, usually much faster
    than the network phase they follow

Memory:
  - Streaming end to end; no document is ever held in memory whole
  - Per-worker overhead is the pipe buffer plus the decoder's window

Database:
  - Four to five short writes per job on the happy path
  - Indicator upserts batch 100 rows per statement

# Integration Points

This package integrates with:

  - pkg/queue: the pool's work source; drain semantics drive shutdown
  - pkg/telegram: the Downloader implementation and its error sentinels
  - pkg/blobstore: content-addressed storage plus extraction scratch dirs
  - pkg/archive: extraction with safety guards, sentinel error mapping
  - pkg/scanner: indicator matching over extracted text members
  - pkg/repository: job rows, processed files, indicator upserts
  - pkg/metrics: job, download, duplicate, and indicator instrumentation
  - pkg/supervisor: builds the processor and pool, owns their lifecycle

# Design Patterns

Consumer-Side Interfaces:
  - Downloader, Repository, and Store are declared here, not implemented
  - Each names only the methods one job actually needs
  - Tests substitute small fakes without touching the real packages

Terminal-State Discipline:
  - Every admitted job ends completed or failed, exactly once
  - Failure writes survive context cancellation via a background deadline
  - No code path leaves a row in processing except a hard crash, and the
    job row shows exactly where it stopped

Streaming Pipe:
  - Producer goroutine downloads into an io.Pipe writer
  - Consumer side hashes and spools in one pass
  - A panic in the producer folds into the pipe error, not the process

Error Classification at the Edge:
  - Jobs run on plain wrapped errors end to end
  - Classification happens once, at the terminal write
  - The class string is for operators and dashboards, not control flow

# Monitoring

Key metrics to monitor:

Job health:
  - magpie_jobs_total{status}: terminal outcomes; watch the failed rate
  - magpie_jobs_inflight: should hover at or below the worker count
  - magpie_job_duration_seconds: end-to-end latency distribution

Download behavior:
  - magpie_download_retries_total: rising fast means a flaky link or
    rate limiting
  - magpie_download_bytes_total: ingest volume

Dedup effectiveness:
  - magpie_duplicates_total{stage="pre"}: redelivery and restart churn
  - magpie_duplicates_total{stage="post"}: cross-posted content

Archive safety:
  - magpie_extract_failures_total{reason}: hostile or encrypted archives

# See Also

  - pkg/queue for the bounded buffer the pool consumes
  - pkg/archive for the extraction guard machinery
  - pkg/repository for the persistence the lifecycle writes through
  - pkg/supervisor for boot order and drain semantics
  - Backoff library: https://github.com/cenkalti/backoff
*/
package pipeline
