package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corvusec/magpie/pkg/types"
)

// indicatorChunkSize bounds the statements per indicator sub-transaction.
// Each chunk is independently idempotent, so a failure mid-batch is safe to
// retry from the top.
const indicatorChunkSize = 100

// BeginJob inserts a processing_jobs row with status queued and returns its
// id.
func (r *Repository) BeginJob(ctx context.Context, ref string) (string, error) {
	jobID := uuid.NewString()
	now := time.Now().UTC()

	err := r.withRetry(ctx, "begin job", func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO processing_jobs
			(job_id, telegram_file_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, jobID, ref, types.JobQueued, now, now)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to begin job for %s: %w", ref, err)
	}
	return jobID, nil
}

// MarkJob transitions a job to the given status. An empty errText stores
// NULL; an empty fileHash leaves any previously recorded hash in place.
// Returns ErrJobNotFound when the id does not exist.
func (r *Repository) MarkJob(ctx context.Context, jobID string, status types.JobStatus, errText, fileHash string) error {
	now := time.Now().UTC()

	err := r.withRetry(ctx, "mark job", func() error {
		res, err := r.db.ExecContext(ctx, `
			UPDATE processing_jobs
			SET status = ?,
			    error = ?,
			    file_hash = COALESCE(NULLIF(?, ''), file_hash),
			    updated_at = ?
			WHERE job_id = ?
		`, status, nullable(errText), fileHash, now, jobID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrJobNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark job %s %s: %w", jobID, status, err)
	}
	return nil
}

// CompleteJob records a successful ingestion in a single transaction: the
// processed-file upsert plus the job transition to completed. On a ref
// conflict only last_seen_at moves; first_seen_at and the original row are
// left untouched.
//
// The processed_files row therefore appears only after the bytes are
// already durable in the content store, which callers guarantee by ordering.
func (r *Repository) CompleteJob(ctx context.Context, jobID string, pf types.ProcessedFile) error {
	now := time.Now().UTC()
	first := pf.FirstSeenAt
	if first.IsZero() {
		first = now
	}
	last := pf.LastSeenAt
	if last.IsZero() {
		last = now
	}

	err := r.withRetry(ctx, "complete job", func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO processed_files
			(telegram_file_id, channel_id, channel_title, filename, size_bytes, file_hash, storage_path, first_seen_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(telegram_file_id) DO UPDATE SET last_seen_at = excluded.last_seen_at
		`, pf.ExternalRef, pf.ChannelID, pf.ChannelTitle, pf.Filename, pf.SizeBytes, pf.FileHash, pf.StoragePath, first, last)
		if err != nil {
			return fmt.Errorf("upsert processed file: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE processing_jobs
			SET status = ?, error = NULL, file_hash = ?, updated_at = ?
			WHERE job_id = ?
		`, types.JobCompleted, pf.FileHash, now, jobID)
		if err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return ErrJobNotFound
		}

		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	return nil
}

// UpsertIndicators writes a batch of indicators in chunked sub-transactions.
// The composite unique key absorbs replays: a re-seen indicator only has its
// last_seen_at refreshed.
func (r *Repository) UpsertIndicators(ctx context.Context, batch []types.ExtractedIndicator) error {
	for start := 0; start < len(batch); start += indicatorChunkSize {
		end := min(start+indicatorChunkSize, len(batch))
		chunk := batch[start:end]

		err := r.withRetry(ctx, "upsert indicators", func() error {
			return r.upsertIndicatorChunk(ctx, chunk)
		})
		if err != nil {
			return fmt.Errorf("failed to upsert indicators [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

func (r *Repository) upsertIndicatorChunk(ctx context.Context, chunk []types.ExtractedIndicator) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO extracted_indicators
		(indicator_type, value, source_file_hash, source_relative_path, source_line, channel_id, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(indicator_type, value, source_file_hash, source_line)
		DO UPDATE SET last_seen_at = excluded.last_seen_at
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, ind := range chunk {
		first := ind.FirstSeenAt
		if first.IsZero() {
			first = now
		}
		last := ind.LastSeenAt
		if last.IsZero() {
			last = now
		}
		_, err := stmt.ExecContext(ctx,
			ind.Type, ind.Value, ind.SourceFileHash, ind.SourceRelativePath,
			ind.SourceLine, ind.ChannelID, first, last)
		if err != nil {
			return fmt.Errorf("upsert %s %q: %w", ind.Type, ind.Value, err)
		}
	}

	return tx.Commit()
}
