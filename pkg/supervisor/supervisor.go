package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/corvusec/magpie/pkg/archive"
	"github.com/corvusec/magpie/pkg/blobstore"
	"github.com/corvusec/magpie/pkg/config"
	"github.com/corvusec/magpie/pkg/log"
	"github.com/corvusec/magpie/pkg/metrics"
	"github.com/corvusec/magpie/pkg/pipeline"
	"github.com/corvusec/magpie/pkg/queue"
	"github.com/corvusec/magpie/pkg/repository"
	"github.com/corvusec/magpie/pkg/scanner"
	"github.com/corvusec/magpie/pkg/telegram"
	"github.com/corvusec/magpie/pkg/types"
)

// Options configures a Supervisor run.
type Options struct {
	Config config.Config

	// CodePrompt supplies the interactive login code on first
	// authentication. Leave nil for non-interactive runs with an
	// existing session.
	CodePrompt func(ctx context.Context) (string, error)
}

// Supervisor owns the component lifecycle: it boots the repository, the
// content store, the scanner, the queue, the worker pool and the channel
// listener, then keeps them running until told to stop.
type Supervisor struct {
	opts   Options
	logger zerolog.Logger

	// ready flips once the listener has authorized and resolved every
	// configured channel at least once.
	ready atomic.Bool
}

// New builds a Supervisor. Nothing starts until Run.
func New(opts Options) *Supervisor {
	return &Supervisor{
		opts:   opts,
		logger: log.WithComponent("supervisor"),
	}
}

// Run boots every component, then blocks until ctx is cancelled or the
// listener fails beyond recovery. On return all components are stopped:
// intake first, then workers after the drain grace, then storage.
func (s *Supervisor) Run(ctx context.Context) error {
	cfg := s.opts.Config

	repo, err := repository.Open(cfg.DatabaseURL, repository.WithMaxRetries(cfg.DBMaxRetries))
	if err != nil {
		metrics.UpdateComponent("repository", false, err.Error())
		return fmt.Errorf("failed to open repository: %w", err)
	}
	defer repo.Close()
	metrics.UpdateComponent("repository", true, "")

	store, err := blobstore.New(cfg.StoragePath)
	if err != nil {
		metrics.UpdateComponent("store", false, err.Error())
		return fmt.Errorf("failed to open content store: %w", err)
	}
	// Scratch entries can only be leftovers of a previous run at this
	// point; no job is in flight yet.
	if removed, err := store.SweepScratch(0); err != nil {
		s.logger.Warn().Err(err).Msg("failed to sweep scratch area")
	} else if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("swept stale scratch entries")
	}
	metrics.UpdateComponent("store", true, "")

	sc, err := scanner.New(scanner.Config{
		DomainSuffixes: cfg.IOCDomains,
		EmailSuffixes:  cfg.IOCEmails,
		IPv4CIDRs:      cfg.IOCIPv4CIDRs,
		RulesFile:      cfg.IOCRulesFile,
		MaxLineBytes:   cfg.ScanMaxLineBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to build scanner: %w", err)
	}
	domains, emails, cidrs := sc.RuleCounts()
	s.logger.Info().
		Int("domains", domains).
		Int("emails", emails).
		Int("cidrs", cidrs).
		Msg("scanner rules loaded")

	sessions, err := telegram.OpenSessionStore(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer sessions.Close()

	q := queue.New(cfg.QueueCapacity)
	metrics.UpdateComponent("queue", true, "")

	client := telegram.New(telegram.Options{
		APIID:       cfg.TelegramAPIID,
		APIHash:     cfg.TelegramAPIHash,
		Phone:       cfg.TelegramPhone,
		Password:    cfg.TelegramPassword,
		Channels:    cfg.Channels,
		MaxFileSize: cfg.MaxFileSizeBytes(),
		Sessions:    sessions,
		Handler: func(ctx context.Context, ev types.DocumentEvent) error {
			return q.Enqueue(ctx, ev)
		},
		CodePrompt: s.opts.CodePrompt,
		OnReady: func() {
			s.ready.Store(true)
			metrics.UpdateComponent("telegram", true, "")
		},
	})

	proc := pipeline.NewProcessor(repo, store, sc, client, pipeline.Config{
		Limits: archive.Limits{
			MaxTotalBytes: cfg.MaxDecompressedBytes,
			MaxRatio:      cfg.MaxDecompressionRatio,
		},
		DownloadAttempts: cfg.DownloadMaxRetries,
	})
	pool := pipeline.NewPool(q, proc, cfg.WorkerCount)

	collector := metrics.NewCollector(repo)
	collector.Start()
	defer collector.Stop()

	srv := metrics.NewServer(cfg.MetricsAddr)
	go func() {
		if err := srv.Start(); err != nil {
			s.logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("observability server failed")
		}
	}()
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			s.logger.Warn().Err(err).Msg("observability server shutdown failed")
		}
	}()

	// Workers get their own context so the shutdown signal does not kill
	// in-flight jobs before the drain grace expires.
	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()

	poolDone := make(chan struct{})
	go func() {
		metrics.UpdateComponent("workers", true, "")
		pool.Run(workCtx)
		metrics.UpdateComponent("workers", false, "stopped")
		close(poolDone)
	}()

	listenCtx, stopListen := context.WithCancel(ctx)
	defer stopListen()

	listenDone := make(chan error, 1)
	go func() {
		listenDone <- s.runListener(listenCtx, client)
	}()

	s.logger.Info().
		Int("workers", pool.Size()).
		Int("queue_capacity", q.Cap()).
		Str("metrics_addr", cfg.MetricsAddr).
		Msg("service started")

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info().Msg("shutdown signal received")
	case err := <-listenDone:
		if err != nil {
			runErr = err
			s.logger.Error().Err(err).Msg("listener failed")
		} else {
			s.logger.Info().Msg("listener stopped")
		}
	}

	stopListen()
	q.Close()

	if runErr == nil {
		// Give queued jobs the grace window to finish.
		select {
		case <-poolDone:
		case <-time.After(cfg.ShutdownGrace):
			s.logger.Warn().
				Dur("grace", cfg.ShutdownGrace).
				Int("queued", q.Len()).
				Msg("drain grace expired, cancelling in-flight jobs")
			stopWork()
			<-poolDone
		}
	} else {
		// Without a live listener queued jobs cannot download; draining
		// them would only burn retries.
		stopWork()
		<-poolDone
	}
	s.logger.Info().Msg("workers stopped")

	return runErr
}

// runListener keeps the channel listener alive across transient
// disconnects. It returns nil on cancellation and an error only for
// failures restarting cannot fix.
func (s *Supervisor) runListener(ctx context.Context, client *telegram.Client) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Second
	retry.MaxInterval = 30 * time.Second
	retry.MaxElapsedTime = 0

	for {
		startedAt := time.Now()
		err := client.Run(ctx)

		switch listenerDisposition(ctx.Err(), err, s.ready.Load()) {
		case dispStop:
			return nil
		case dispFatal:
			metrics.UpdateComponent("telegram", false, err.Error())
			return err
		}

		// A run that stayed up for a while earns a fresh backoff.
		if time.Since(startedAt) > time.Minute {
			retry.Reset()
		}
		metrics.UpdateComponent("telegram", false, err.Error())
		wait := retry.NextBackOff()
		s.logger.Warn().Err(err).Dur("backoff", wait).Msg("listener disconnected, restarting")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

type disposition int

const (
	dispStop disposition = iota
	dispFatal
	dispRestart
)

// listenerDisposition decides what a listener exit means. Failures before
// the first successful start are fatal: bad credentials or an
// inaccessible channel will not fix themselves by retrying.
func listenerDisposition(ctxErr, runErr error, everReady bool) disposition {
	switch {
	case ctxErr != nil:
		return dispStop
	case runErr == nil:
		return dispStop
	case errors.Is(runErr, telegram.ErrAuthFailed):
		return dispFatal
	case !everReady:
		return dispFatal
	default:
		return dispRestart
	}
}
