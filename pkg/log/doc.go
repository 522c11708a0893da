/*
Package log provides structured logging for magpie using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

Magpie's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("worker")                  │          │
	│  │  - WithJobID("a81bc8f2-...")                │          │
	│  │  - WithRef("42_7_1001")                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "worker",                   │          │
	│  │    "event": "download_complete",            │          │
	│  │    "ref": "42_7_1001",                      │          │
	│  │    "time": "2026-03-02T10:30:00Z",          │          │
	│  │    "message": "download complete"           │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF download complete event=...    │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all magpie packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithJobID: Add job UUID context
  - WithRef: Add external artifact ref context

# Observability Events

Pipeline milestones are logged exactly once per occurrence as an "event"
field so that operators can count and alert on them:

	download_start              worker begins streaming an artifact
	download_complete           artifact stored (hash, size, duration)
	download_retry              transient failure, will retry (attempt, wait)
	skipped_duplicate_pre       external ref already processed, job dropped
	skipped_duplicate_post      identical bytes already in the content store
	extract_start               archive extraction begins
	extract_complete            extraction finished (members, bytes)
	extract_password_required   encrypted archive, job fails non-fatally
	extract_unsafe_member       path traversal attempt detected
	extract_bomb_aborted        decompression ceiling or ratio exceeded
	indicators_found            scan finished (counts per indicator type)
	job_failed                  terminal job failure (error class)

Event log lines carry the external ref token and, where known, the job id
and content hash, so a single artifact's history can be grepped from the
stream.

# Usage

Initializing the Logger:

	import "github.com/corvusec/magpie/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("supervisor started")
	log.Warn("queue approaching capacity")
	log.Error("failed to open repository")
	log.Fatal("cannot start without storage path") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("event", "download_complete").
		Str("ref", ref.String()).
		Str("hash", res.Hash).
		Int64("size", res.Size).
		Msg("download complete")

Component Loggers:

	workerLog := log.WithComponent("worker")
	workerLog.Info().Msg("worker started")

	jobLog := workerLog.With().
		Str("job_id", jobID).
		Str("ref", ref.String()).Logger()
	jobLog.Info().Str("event", "extract_start").Msg("extracting archive")

# Integration Points

This package integrates with:

  - pkg/supervisor: Boot and shutdown milestones
  - pkg/pipeline: Per-job observability events
  - pkg/telegram: Connection, auth, and update-loop state
  - pkg/repository: Migration and transaction retry logs
  - pkg/metrics: HTTP server lifecycle

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Component loggers at construction, job loggers per job
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Event Pattern:
  - Pipeline milestones carry an "event" field with a stable name
  - Operators count and alert on events, not message substrings
  - The message stays human-readable; the fields stay machine-readable

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Consistent error format across the codebase
  - Enables error tracking and alerting

# Performance Characteristics

Logging Overhead:
  - Disabled level: effectively free (zerolog short-circuits)
  - JSON encode: well under a microsecond per line
  - Console format: slower, intended for development only

Volume:
  - Steady state is a handful of lines per job, not per line scanned
  - Scanner per-line detail is Debug and off in production
  - Bottleneck is the output writer, not the encoder

# Troubleshooting

Common Issues:

No Log Output:
  - Symptom: no logs appearing
  - Check: log.Init() called before logging
  - Check: LOG_LEVEL not set above the lines you expect
  - Solution: Init runs in cmd/magpie before any component boots

Unreadable Production Logs:
  - Symptom: JSON where a human wanted columns
  - Cause: LOG_JSON=true is the production default
  - Solution: set LOG_JSON=false for interactive debugging

Missing Context Fields:
  - Symptom: lines missing component, ref, or job_id
  - Cause: using the global Logger instead of a context logger
  - Solution: use WithComponent/WithJobID/WithRef or a child logger

# Best Practices

 1. Initialize once, at process start, before any component boots
 2. Create component loggers at construction and reuse them
 3. Put machine-read fields (event, ref, hash) in fields, not the message
 4. Reserve Fatal for boot-time errors; runtime errors belong to the job
 5. Use Debug for per-line scanner detail; Info for per-job milestones

# See Also

  - pkg/pipeline for the per-job observability events
  - Zerolog documentation: https://github.com/rs/zerolog
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
