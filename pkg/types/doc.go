/*
Package types defines the core data structures used throughout magpie.

This package contains the fundamental types of the ingestion domain:
external references, job descriptors, processed-file records, extracted
indicators, and the enums that govern job state and failure
classification. All other packages depend on it; it depends on nothing
but the standard library.

# Architecture

The types package is the foundation of magpie's data model. It defines:

  - Artifact identity (ExternalRef and its token rendering)
  - Queue payloads (DocumentEvent)
  - Persistence rows (ProcessedFile, ProcessingJob, ExtractedIndicator)
  - State machines (JobStatus transitions)
  - Failure taxonomy (ErrorClass)

All types are designed to be:
  - Plain values (no behavior beyond rendering and parsing)
  - Serializable (database rows, structured log fields)
  - Self-documenting (clear field names and comments)

# Core Types

Identity:
  - ExternalRef: {channel_id, message_id, document_id} as a value type.
    The string token "{channel_id}_{message_id}_{document_id}" is an
    encoding convenience; code passes the struct and renders the token
    only at the edges (database keys, log fields).

Pipeline:
  - DocumentEvent: what the listener enqueues and a worker dequeues.
    Carries the ref, filename, declared size, channel title, and the
    observation timestamp.
  - ProcessedFile: a successfully ingested artifact, keyed by the
    external ref token, carrying the BLAKE2b-256 content hash and the
    relative storage path.
  - ProcessingJob: one attempt record per job, queued -> processing ->
    {completed, failed}. Deliberately not foreign-keyed to
    ProcessedFile so failed attempts keep their history.
  - ExtractedIndicator: an IOC with provenance (archive hash, member
    path, 1-based line number). Unique on (type, value, source hash,
    source line).

Enumerations:
  - JobStatus: queued, processing, completed, failed
  - IndicatorType: domain, email, ipv4
  - ErrorClass: the nine failure buckets used in job records and
    job_failed events (config_invalid, auth_failed, transient_network,
    storage_io, db_transient, db_constraint, unsafe_archive,
    password_required, unknown)

# State Machine

Jobs follow a straight-line state machine:

	queued ──▶ processing ──▶ completed
	                    └────▶ failed

Valid transitions:
  - queued -> processing (a worker picked the job up)
  - processing -> completed (file row written, one transaction)
  - processing -> failed (classified error recorded)

Terminal() reports whether a status can still transition. There is no
retry transition: a re-delivered event starts a new job row, so the
history of attempts stays append-only.

# Usage

Building a ref and its token:

	ref := types.ExternalRef{ChannelID: 42, MessageID: 7, DocumentID: 1001}
	token := ref.String() // "42_7_1001"

Parsing a token read back from the database:

	ref, err := types.ParseExternalRef("42_7_1001")
	if err != nil {
		// token did not come from ExternalRef.String
	}

Checking a job state:

	if job.Status.Terminal() {
		// completed or failed, no further transitions
	}

# Design Patterns

Typed String Enums:
  - JobStatus, IndicatorType, and ErrorClass are string types with
    typed constants
  - The string values are the database and log representations, so no
    mapping layer sits between the code and its records

Struct Identity, Token at the Edges:
  - Code passes ExternalRef by value; only database keys and log fields
    see the underscore token
  - ParseExternalRef is strict: exactly three numeric fields, so a
    malformed token is caught where it enters, not where it is used

No Behavior in Rows:
  - ProcessedFile, ProcessingJob, and ExtractedIndicator are records
  - Validation and transitions live in the packages that own them

# Integration Points

This package integrates with:

  - pkg/telegram: constructs DocumentEvent and ExternalRef from updates
  - pkg/queue: buffers DocumentEvent values
  - pkg/pipeline: walks JobStatus and assigns ErrorClass
  - pkg/repository: persists the row types and parses status strings
  - pkg/scanner: tags hits with IndicatorType
  - pkg/metrics: status and type strings become label values

# See Also

  - pkg/repository for how the row types map onto tables
  - pkg/pipeline for where ErrorClass values are assigned
*/
package types
