package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/corvusec/magpie/pkg/types"
)

// IsProcessed reports whether a processed_files row exists for the ref.
// This is the pre-download dedup check, so it runs before any job row is
// written.
func (r *Repository) IsProcessed(ctx context.Context, ref string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM processed_files WHERE telegram_file_id = ?
	`, ref).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check processed %s: %w", ref, err)
	}
	return n > 0, nil
}

// ProcessedCount returns the number of processed files.
func (r *Repository) ProcessedCount(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count processed files: %w", err)
	}
	return n, nil
}

// JobCounts returns the number of jobs per status. Statuses with no jobs
// are absent from the map.
func (r *Repository) JobCounts(ctx context.Context) (map[types.JobStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM processing_jobs GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.JobStatus]int64)
	for rows.Next() {
		var status types.JobStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job counts: %w", err)
	}
	return counts, nil
}

// IndicatorCounts returns the number of indicators per type.
func (r *Repository) IndicatorCounts(ctx context.Context) (map[types.IndicatorType]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT indicator_type, COUNT(*) FROM extracted_indicators GROUP BY indicator_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count indicators: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.IndicatorType]int64)
	for rows.Next() {
		var typ types.IndicatorType
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("failed to scan indicator count: %w", err)
		}
		counts[typ] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate indicator counts: %w", err)
	}
	return counts, nil
}

// ListProcessedFiles streams every processed file to fn in insertion order.
// A non-nil error from fn stops the walk and is returned unchanged.
func (r *Repository) ListProcessedFiles(ctx context.Context, fn func(types.ProcessedFile) error) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT telegram_file_id, channel_id, channel_title, filename, size_bytes,
		       file_hash, storage_path, first_seen_at, last_seen_at
		FROM processed_files
		ORDER BY id ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to list processed files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pf types.ProcessedFile
		err := rows.Scan(&pf.ExternalRef, &pf.ChannelID, &pf.ChannelTitle, &pf.Filename,
			&pf.SizeBytes, &pf.FileHash, &pf.StoragePath, &pf.FirstSeenAt, &pf.LastSeenAt)
		if err != nil {
			return fmt.Errorf("failed to scan processed file: %w", err)
		}
		if err := fn(pf); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate processed files: %w", err)
	}
	return nil
}

// RecentJobs returns up to limit jobs, newest first.
func (r *Repository) RecentJobs(ctx context.Context, limit int) ([]types.ProcessingJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, telegram_file_id, status, error, file_hash, created_at, updated_at
		FROM processing_jobs
		ORDER BY created_at DESC, job_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.ProcessingJob
	for rows.Next() {
		var j types.ProcessingJob
		var errText, fileHash sql.NullString
		err := rows.Scan(&j.JobID, &j.ExternalRef, &j.Status, &errText, &fileHash, &j.CreatedAt, &j.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		j.Error = errText.String
		j.FileHash = fileHash.String
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

// GetJob returns a single job by id. Returns ErrJobNotFound when absent.
func (r *Repository) GetJob(ctx context.Context, jobID string) (types.ProcessingJob, error) {
	var j types.ProcessingJob
	var errText, fileHash sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT job_id, telegram_file_id, status, error, file_hash, created_at, updated_at
		FROM processing_jobs
		WHERE job_id = ?
	`, jobID).Scan(&j.JobID, &j.ExternalRef, &j.Status, &errText, &fileHash, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return types.ProcessingJob{}, ErrJobNotFound
	}
	if err != nil {
		return types.ProcessingJob{}, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	j.Error = errText.String
	j.FileHash = fileHash.String
	return j, nil
}
