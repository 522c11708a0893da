package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/corvusec/magpie/pkg/archive"
	"github.com/corvusec/magpie/pkg/blobstore"
	"github.com/corvusec/magpie/pkg/log"
	"github.com/corvusec/magpie/pkg/metrics"
	"github.com/corvusec/magpie/pkg/scanner"
	"github.com/corvusec/magpie/pkg/telegram"
	"github.com/corvusec/magpie/pkg/types"
)

// Downloader fetches a document's bytes into w, returning the byte count.
type Downloader interface {
	Download(ctx context.Context, ref types.ExternalRef, w io.Writer) (int64, error)
}

// Repository is the persistence surface one job needs.
type Repository interface {
	IsProcessed(ctx context.Context, ref string) (bool, error)
	BeginJob(ctx context.Context, ref string) (string, error)
	MarkJob(ctx context.Context, jobID string, status types.JobStatus, errText, fileHash string) error
	CompleteJob(ctx context.Context, jobID string, pf types.ProcessedFile) error
	UpsertIndicators(ctx context.Context, batch []types.ExtractedIndicator) error
}

// Store is the content-addressed blob store surface one job needs.
type Store interface {
	PutStream(r io.Reader) (blobstore.PutResult, error)
	DiskPath(hash string) string
	ScratchDir(prefix string) (string, error)
}

// Config tunes a Processor.
type Config struct {
	Limits archive.Limits

	// DownloadAttempts is the total number of download attempts per job,
	// first try included. Values below 1 are clamped to 1.
	DownloadAttempts int

	// RetryBase and RetryCap shape the exponential backoff between
	// attempts. Zero values mean 1s and 60s.
	RetryBase time.Duration
	RetryCap  time.Duration
}

// Processor carries one document event through the full job lifecycle:
// dedup, download, store, extract, scan, persist.
type Processor struct {
	repo     Repository
	store    Store
	scanner  *scanner.Scanner
	download Downloader

	limits   archive.Limits
	attempts int
	base     time.Duration
	cap      time.Duration

	// extractorFor is the archive dispatch, swappable in tests.
	extractorFor func(string) (archive.Extractor, bool)

	logger zerolog.Logger
}

// NewProcessor wires a Processor from its collaborators.
func NewProcessor(repo Repository, store Store, sc *scanner.Scanner, dl Downloader, cfg Config) *Processor {
	attempts := cfg.DownloadAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := cfg.RetryBase
	if base == 0 {
		base = time.Second
	}
	retryCap := cfg.RetryCap
	if retryCap == 0 {
		retryCap = 60 * time.Second
	}
	return &Processor{
		repo:         repo,
		store:        store,
		scanner:      sc,
		download:     dl,
		limits:       cfg.Limits,
		attempts:     attempts,
		base:         base,
		cap:          retryCap,
		extractorFor: archive.ForFilename,
		logger:       log.WithComponent("pipeline"),
	}
}

// Process runs one job to a terminal state. Every failure is isolated to
// the job: the error is recorded on the job row and returned for the
// caller's log, never propagated as fatal.
func (p *Processor) Process(ctx context.Context, ev types.DocumentEvent) error {
	ref := ev.Ref.String()
	logger := p.logger.With().Str("ref", ref).Str("channel", ev.ChannelTitle).Logger()

	seen, err := p.repo.IsProcessed(ctx, ref)
	if err != nil {
		logger.Error().Err(err).Msg("dedup check failed")
		return fmt.Errorf("dedup check: %w", err)
	}
	if seen {
		metrics.DuplicatesTotal.WithLabelValues("pre").Inc()
		logger.Info().Msg("skipped_duplicate_pre")
		return nil
	}

	jobID, err := p.repo.BeginJob(ctx, ref)
	if err != nil {
		logger.Error().Err(err).Msg("failed to begin job")
		return fmt.Errorf("begin job: %w", err)
	}
	logger = logger.With().Str("job_id", jobID).Logger()

	timer := metrics.NewTimer()
	metrics.JobsInflight.Inc()
	defer func() {
		metrics.JobsInflight.Dec()
		timer.ObserveDuration(metrics.JobDuration)
	}()

	if err := p.runJob(ctx, logger, jobID, ev); err != nil {
		return p.failJob(ctx, logger, jobID, err)
	}
	return nil
}

// runJob is the fallible middle of Process. A panic inside it is turned
// into an ordinary job error so one poisoned archive cannot take a worker
// down.
func (p *Processor) runJob(ctx context.Context, logger zerolog.Logger, jobID string, ev types.DocumentEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("job panicked")
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := p.repo.MarkJob(ctx, jobID, types.JobProcessing, "", ""); err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}

	res, err := p.fetchToStore(ctx, logger, ev)
	if err != nil {
		return err
	}
	if res.Existed {
		metrics.DuplicatesTotal.WithLabelValues("post").Inc()
		logger.Info().Str("hash", res.Hash).Msg("skipped_duplicate_post")
	}
	if err := p.repo.MarkJob(ctx, jobID, types.JobProcessing, "", res.Hash); err != nil {
		return fmt.Errorf("failed to record file hash: %w", err)
	}

	// Extraction and scanning run before the completion commit: a job
	// whose archive turns out hostile must end failed, with no
	// processed_files row.
	indicators, err := p.extractAndScan(ctx, logger, ev, res)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	pf := types.ProcessedFile{
		ExternalRef:  ev.Ref.String(),
		ChannelID:    ev.Ref.ChannelID,
		ChannelTitle: ev.ChannelTitle,
		Filename:     ev.Filename,
		SizeBytes:    res.Size,
		FileHash:     res.Hash,
		StoragePath:  res.RelPath,
		FirstSeenAt:  now,
		LastSeenAt:   now,
	}
	if err := p.repo.CompleteJob(ctx, jobID, pf); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	metrics.JobsTotal.WithLabelValues(string(types.JobCompleted)).Inc()
	logger.Info().Str("hash", res.Hash).Int64("size", res.Size).Msg("job completed")

	// Indicators land after the completion commit so every indicator row
	// references an existing processed_files row. The job stays
	// completed even if this write fails; losing indicator rows is
	// recoverable by rescanning, losing the dedup record is not.
	if len(indicators) > 0 {
		if err := p.repo.UpsertIndicators(ctx, indicators); err != nil {
			logger.Error().Err(err).Int("count", len(indicators)).Msg("failed to persist indicators")
		}
	}
	return nil
}

// fetchToStore downloads the document with capped exponential backoff,
// streaming straight into the content store. No full copy is ever held in
// memory or in a spool file outside the store's scratch area.
func (p *Processor) fetchToStore(ctx context.Context, logger zerolog.Logger, ev types.DocumentEvent) (blobstore.PutResult, error) {
	var res blobstore.PutResult
	attempt := 0

	op := func() error {
		attempt++
		logger.Info().Int("attempt", attempt).Int64("declared_size", ev.SizeBytes).Msg("download_start")

		pr, pw := io.Pipe()
		var (
			dlErr error
			done  = make(chan struct{})
		)
		go func() {
			defer close(done)
			defer func() {
				// A panic here would escape the worker's recovery, so it
				// is folded into the download error instead.
				if r := recover(); r != nil {
					dlErr = fmt.Errorf("download panicked: %v", r)
				}
				pw.CloseWithError(dlErr)
			}()
			_, dlErr = p.download.Download(ctx, ev.Ref, pw)
		}()

		putRes, putErr := p.store.PutStream(pr)
		pr.CloseWithError(putErr)
		<-done

		if dlErr != nil {
			if errors.Is(dlErr, telegram.ErrAuthFailed) || errors.Is(dlErr, telegram.ErrNotFound) {
				return backoff.Permanent(dlErr)
			}
			return dlErr
		}
		if putErr != nil {
			return putErr
		}
		if ev.SizeBytes > 0 && putRes.Size != ev.SizeBytes {
			return fmt.Errorf("%w: declared %d, received %d", ErrSizeMismatch, ev.SizeBytes, putRes.Size)
		}

		res = putRes
		metrics.DownloadsTotal.Inc()
		metrics.DownloadBytes.Add(float64(putRes.Size))
		logger.Info().
			Int("attempt", attempt).
			Str("hash", putRes.Hash).
			Int64("size", putRes.Size).
			Msg("download_complete")
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(p.retryPolicy(), uint64(p.attempts-1)),
		ctx,
	)
	notify := func(err error, next time.Duration) {
		metrics.DownloadRetries.Inc()
		logger.Warn().Err(err).Dur("backoff", next).Int("attempt", attempt).Msg("download_retry")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return blobstore.PutResult{}, fmt.Errorf("download failed after %d attempts: %w", attempt, err)
	}
	return res, nil
}

func (p *Processor) retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.base
	b.MaxInterval = p.cap
	b.MaxElapsedTime = 0
	return b
}

// extractAndScan unpacks archive documents into a scratch directory and
// runs the indicator scanner over text members. Non-archive documents
// pass through untouched. The scratch directory is removed on every exit
// path.
func (p *Processor) extractAndScan(ctx context.Context, logger zerolog.Logger, ev types.DocumentEvent, res blobstore.PutResult) ([]types.ExtractedIndicator, error) {
	ex, ok := p.extractorFor(ev.Filename)
	if !ok {
		return nil, nil
	}

	dest, err := p.store.ScratchDir("extract")
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			logger.Warn().Err(rmErr).Str("dir", dest).Msg("failed to remove extraction dir")
		}
	}()

	logger.Info().Str("filename", ev.Filename).Str("hash", res.Hash).Msg("extract_start")

	var (
		indicators []types.ExtractedIndicator
		members    int
		scanned    int
		truncated  int64
	)
	now := time.Now().UTC()

	err = ex.Extract(ctx, p.store.DiskPath(res.Hash), dest, p.limits, func(m archive.Member) error {
		members++
		if !p.scanner.ShouldScan(m.RelPath) {
			os.Remove(m.DiskPath)
			return nil
		}
		scanned++
		hits, stats, scanErr := p.scanner.ScanFile(ctx, m.RelPath, m.DiskPath)
		// Each member is deleted as soon as it has been scanned, so disk
		// usage stays near one member rather than the whole archive.
		os.Remove(m.DiskPath)
		if scanErr != nil {
			return fmt.Errorf("scan %s: %w", m.RelPath, scanErr)
		}
		truncated += stats.TruncatedLines
		for _, h := range hits {
			indicators = append(indicators, types.ExtractedIndicator{
				Type:               h.Type,
				Value:              h.Value,
				SourceFileHash:     res.Hash,
				SourceRelativePath: h.RelPath,
				SourceLine:         h.Line,
				ChannelID:          ev.Ref.ChannelID,
				FirstSeenAt:        now,
				LastSeenAt:         now,
			})
		}
		return nil
	})
	if err != nil {
		p.noteExtractFailure(logger, err)
		return nil, fmt.Errorf("extract %s: %w", ev.Filename, err)
	}

	if truncated > 0 {
		metrics.ScanTruncatedLines.Add(float64(truncated))
	}
	logger.Info().Int("members", members).Int("scanned", scanned).Msg("extract_complete")

	if len(indicators) > 0 {
		counts := map[types.IndicatorType]int{}
		for _, ind := range indicators {
			counts[ind.Type]++
		}
		for typ, n := range counts {
			metrics.IndicatorsTotal.WithLabelValues(string(typ)).Add(float64(n))
		}
		logger.Info().
			Int("domain", counts[types.IndicatorDomain]).
			Int("email", counts[types.IndicatorEmail]).
			Int("ipv4", counts[types.IndicatorIPv4]).
			Msg("indicators_found")
	}
	return indicators, nil
}

func (p *Processor) noteExtractFailure(logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, archive.ErrPasswordRequired):
		metrics.ExtractFailures.WithLabelValues("password_required").Inc()
		logger.Warn().Msg("extract_password_required")
	case errors.Is(err, archive.ErrUnsafePath):
		metrics.ExtractFailures.WithLabelValues("unsafe_path").Inc()
		logger.Warn().Err(err).Msg("extract_unsafe_member")
	case errors.Is(err, archive.ErrBombCeiling), errors.Is(err, archive.ErrBombRatio):
		metrics.ExtractFailures.WithLabelValues("bomb").Inc()
		logger.Warn().Err(err).Msg("extract_bomb_aborted")
	default:
		metrics.ExtractFailures.WithLabelValues("error").Inc()
	}
}

// failJob records a terminal failure on the job row. Shutdown must not
// lose the record, so a cancelled job context is replaced with a short
// background timeout for the final write.
func (p *Processor) failJob(ctx context.Context, logger zerolog.Logger, jobID string, jobErr error) error {
	class := Classify(jobErr)
	metrics.JobsTotal.WithLabelValues(string(types.JobFailed)).Inc()
	logger.Error().Err(jobErr).Str("error_class", string(class)).Msg("job_failed")

	markCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		markCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	errText := fmt.Sprintf("%s: %v", class, jobErr)
	if err := p.repo.MarkJob(markCtx, jobID, types.JobFailed, errText, ""); err != nil {
		logger.Error().Err(err).Msg("failed to record job failure")
	}
	return jobErr
}
