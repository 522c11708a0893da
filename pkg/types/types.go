package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ExternalRef identifies an artifact as known to the upstream platform.
// It is immutable and rendered as "{channel_id}_{message_id}_{document_id}"
// wherever a string token is needed (logs, database keys).
type ExternalRef struct {
	ChannelID  int64
	MessageID  int
	DocumentID int64
}

// String renders the canonical token form.
func (r ExternalRef) String() string {
	return fmt.Sprintf("%d_%d_%d", r.ChannelID, r.MessageID, r.DocumentID)
}

// ParseExternalRef parses a token previously produced by String.
func ParseExternalRef(s string) (ExternalRef, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 {
		return ExternalRef{}, fmt.Errorf("invalid external ref %q: want 3 fields, got %d", s, len(parts))
	}
	channelID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ExternalRef{}, fmt.Errorf("invalid external ref %q: channel id: %w", s, err)
	}
	messageID, err := strconv.Atoi(parts[1])
	if err != nil {
		return ExternalRef{}, fmt.Errorf("invalid external ref %q: message id: %w", s, err)
	}
	documentID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return ExternalRef{}, fmt.Errorf("invalid external ref %q: document id: %w", s, err)
	}
	return ExternalRef{ChannelID: channelID, MessageID: messageID, DocumentID: documentID}, nil
}

// DocumentEvent is the job descriptor produced by the listener and carried
// through the queue to the workers.
type DocumentEvent struct {
	Ref          ExternalRef
	ChannelTitle string
	Filename     string // original name as posted, sanitized to a basename
	SizeBytes    int64  // size declared by the platform, 0 when unknown
	MimeType     string
	SentAt       time.Time
}

// ProcessedFile is a successfully ingested artifact.
type ProcessedFile struct {
	ExternalRef  string // token form, primary identity
	ChannelID    int64
	ChannelTitle string
	Filename     string
	SizeBytes    int64
	FileHash     string // BLAKE2b-256, lowercase hex, 64 chars
	StoragePath  string // relative path inside the content store
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
}

// JobStatus represents the state of a processing job
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ProcessingJob is an attempt record. It survives even when no ProcessedFile
// row results, so failed downloads keep their history.
type ProcessingJob struct {
	JobID       string // UUID
	ExternalRef string // token form, deliberately not a foreign key
	Status      JobStatus
	Error       string // empty when none
	FileHash    string // empty until computed
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IndicatorType tags an extracted indicator
type IndicatorType string

const (
	IndicatorDomain IndicatorType = "domain"
	IndicatorEmail  IndicatorType = "email"
	IndicatorIPv4   IndicatorType = "ipv4"
)

// ExtractedIndicator is an IOC mined from an artifact's contents. The source
// hash is the hash of the enclosing archive, not of the inner member.
// Uniqueness is (Type, Value, SourceFileHash, SourceLine).
type ExtractedIndicator struct {
	Type               IndicatorType
	Value              string
	SourceFileHash     string
	SourceRelativePath string // path inside the archive
	SourceLine         int    // 1-based
	ChannelID          int64
	FirstSeenAt        time.Time
	LastSeenAt         time.Time
}

// ErrorClass buckets job failures for the job record and the job_failed
// event. Classification happens once, at the point the job is marked failed.
type ErrorClass string

const (
	ErrClassConfigInvalid    ErrorClass = "config_invalid"
	ErrClassAuthFailed       ErrorClass = "auth_failed"
	ErrClassTransientNetwork ErrorClass = "transient_network"
	ErrClassStorageIO        ErrorClass = "storage_io"
	ErrClassDBTransient      ErrorClass = "db_transient"
	ErrClassDBConstraint     ErrorClass = "db_constraint"
	ErrClassUnsafeArchive    ErrorClass = "unsafe_archive"
	ErrClassPasswordRequired ErrorClass = "password_required"
	ErrClassUnknown          ErrorClass = "unknown"
)
