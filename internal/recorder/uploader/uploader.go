// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package uploader streams finished chunks to the object store while capture
// is still in progress. The chunk directory is the queue: the capture engine
// closes each segment before opening the next, and the watcher picks up
// closed files via fsnotify events backed by a periodic sweep.
//
// A local file is deleted only after its SUCCESS line is durably appended,
// so a crash between upload and unlink is safe; restart reconciles via the
// state log before re-uploading.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/recfleet/recfleet/internal/domain/session/model"
	"github.com/recfleet/recfleet/internal/fsutil"
	"github.com/recfleet/recfleet/internal/log"
	"github.com/recfleet/recfleet/internal/metrics"
	"github.com/recfleet/recfleet/internal/objstore"
	"github.com/recfleet/recfleet/internal/recorder/statelog"
)

// Config tunes one uploader instance.
type Config struct {
	SessionID string
	ChunkDir  string

	Store    *objstore.Client
	StateLog *statelog.Log

	Workers        int           // parallel uploads, default 4
	Attempts       int           // per-chunk attempts, default 3
	UploadTimeout  time.Duration // per-call timeout, default 30s
	RetryInterval  time.Duration // retry daemon period, default 120s
	RetryAge       time.Duration // minimum age of FAILED markers to retry, default 2m
	SweepInterval  time.Duration // periodic directory sweep, default 30s
	StabilityDelay time.Duration // write-stability probe delay, default 2s
	MinChunkBytes  int64         // degenerate chunk threshold, default 1024
	DrainGrace     time.Duration // in-flight drain window after shutdown, default 10s

	Clock clockwork.Clock
}

func (c *Config) withDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 30 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 120 * time.Second
	}
	if c.RetryAge <= 0 {
		c.RetryAge = 2 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.StabilityDelay <= 0 {
		c.StabilityDelay = 2 * time.Second
	}
	if c.MinChunkBytes <= 0 {
		c.MinChunkBytes = 1024
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

// Uploader watches the chunk directory and ships closed segments.
type Uploader struct {
	cfg    Config
	logger zerolog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	// workCtx outlives the run context so that cancelling Run stops intake
	// without aborting uploads already in flight. drain escalates to
	// workCancel only after the grace window.
	workCtx    context.Context
	workCancel context.CancelFunc

	// inflight enforces per-filename serialization so two events for the
	// same chunk never race on the same object key.
	mu       sync.Mutex
	inflight map[string]bool
}

// New creates an uploader.
func New(cfg Config) *Uploader {
	cfg.withDefaults()
	workCtx, workCancel := context.WithCancel(context.Background())
	return &Uploader{
		cfg: cfg,
		logger: log.WithComponent("uploader").With().
			Str("session_id", cfg.SessionID).Logger(),
		sem:        make(chan struct{}, cfg.Workers),
		workCtx:    workCtx,
		workCancel: workCancel,
		inflight:   make(map[string]bool),
	}
}

// Run watches until ctx is cancelled, then stops intake and lets in-flight
// uploads finish within the drain grace window before hard-cancelling them.
// An initial sweep reconciles chunks left over from a crash.
func (u *Uploader) Run(ctx context.Context) error {
	defer u.workCancel()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(u.cfg.ChunkDir); err != nil {
		return fmt.Errorf("watch %s: %w", u.cfg.ChunkDir, err)
	}

	u.logger.Info().Str("dir", u.cfg.ChunkDir).Msg("uploader started")

	sweepTicker := u.cfg.Clock.NewTicker(u.cfg.SweepInterval)
	defer sweepTicker.Stop()
	retryTicker := u.cfg.Clock.NewTicker(u.cfg.RetryInterval)
	defer retryTicker.Stop()

	// Crash recovery: pick up chunks that closed before we started watching.
	u.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return u.drain()

		case event, ok := <-watcher.Events:
			if !ok {
				return u.drain()
			}
			// Segment files surface as Create (new file) or Rename
			// (moved into place); Write events are ignored because the
			// stability probe decides when a file is closed.
			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			u.dispatch(filepath.Base(event.Name))

		case err, ok := <-watcher.Errors:
			if !ok {
				return u.drain()
			}
			u.logger.Warn().Err(err).Msg("watcher error")

		case <-sweepTicker.Chan():
			u.Sweep(ctx)

		case <-retryTicker.Chan():
			u.RetryFailed(ctx)
		}
	}
}

// drain waits for in-flight uploads, escalating to a hard cancel after the
// grace window so shutdown never hangs on a dead endpoint.
func (u *Uploader) drain() error {
	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		u.logger.Info().Msg("uploader drained")
		return nil
	case <-u.cfg.Clock.After(u.cfg.DrainGrace):
	}

	u.workCancel()
	<-done
	u.logger.Warn().Msg("uploader drain exceeded grace window, in-flight uploads aborted")
	return nil
}

// Sweep scans the chunk directory for files the event stream missed.
func (u *Uploader) Sweep(ctx context.Context) {
	chunks, err := fsutil.ListChunks(u.cfg.ChunkDir)
	if err != nil {
		u.logger.Warn().Err(err).Msg("sweep scan failed")
		return
	}
	for _, name := range chunks {
		u.dispatch(name)
	}
}

// RetryFailed re-dispatches chunks with FAILED markers older than RetryAge
// whose source file still exists.
func (u *Uploader) RetryFailed(ctx context.Context) {
	snap, err := u.cfg.StateLog.Read()
	if err != nil {
		u.logger.Warn().Err(err).Msg("state log read failed")
		return
	}
	cutoff := u.cfg.Clock.Now().Add(-u.cfg.RetryAge).Unix()
	for name, epoch := range snap.Failed {
		if epoch > cutoff {
			continue
		}
		if _, err := os.Stat(filepath.Join(u.cfg.ChunkDir, name)); err != nil {
			continue // source gone, nothing to retry
		}
		u.logger.Info().Str("chunk", name).Msg("retrying failed chunk")
		u.dispatch(name)
	}
}

// dispatch hands a filename to the worker pool unless it is malformed,
// already done, or already being processed. Workers run on workCtx so a
// shutdown of the intake loop does not abort them mid-upload.
func (u *Uploader) dispatch(name string) {
	if !model.IsValidChunkName(name) {
		return
	}

	done, err := u.cfg.StateLog.HasSuccess(name)
	if err != nil {
		u.logger.Warn().Err(err).Str("chunk", name).Msg("state log read failed")
		return
	}
	if done {
		return
	}

	u.mu.Lock()
	if u.inflight[name] {
		u.mu.Unlock()
		return
	}
	u.inflight[name] = true
	u.mu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer func() {
			u.mu.Lock()
			delete(u.inflight, name)
			u.mu.Unlock()
		}()

		select {
		case u.sem <- struct{}{}:
			defer func() { <-u.sem }()
		case <-u.workCtx.Done():
			return
		}
		u.process(u.workCtx, name)
	}()
}

// process runs the full per-chunk lifecycle: stability probe, size gate,
// bounded-retry upload, state log append, local unlink.
func (u *Uploader) process(ctx context.Context, name string) {
	logger := u.logger.With().Str("chunk", name).Logger()
	path := filepath.Join(u.cfg.ChunkDir, name)

	size, stable := u.stableSize(ctx, path)
	if !stable {
		// Still being written; a later event or sweep retries.
		return
	}
	if size < u.cfg.MinChunkBytes {
		logger.Debug().Int64("size", size).Msg("skipping degenerate chunk")
		return
	}

	key := u.objectKey(name)
	var lastErr error
	for attempt := 1; attempt <= u.cfg.Attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, u.cfg.UploadTimeout)
		lastErr = u.cfg.Store.UploadFile(callCtx, key, path)
		cancel()

		if lastErr == nil {
			if err := u.cfg.StateLog.MarkSuccess(name); err != nil {
				logger.Error().Err(err).Msg("state log append failed, keeping local file")
				return
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn().Err(err).Msg("local chunk removal failed")
			}
			metrics.ChunkUploads.WithLabelValues("ok").Inc()
			metrics.ChunkUploadBytes.Add(float64(size))
			logger.Info().Int64("size", size).Int("attempt", attempt).Msg("chunk uploaded")
			return
		}

		metrics.ChunkUploads.WithLabelValues("retry").Inc()
		logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("chunk upload attempt failed")

		if ctx.Err() != nil {
			return
		}
		if attempt < u.cfg.Attempts {
			backoff := time.Duration(attempt) * 3 * time.Second
			select {
			case <-ctx.Done():
				return
			case <-u.cfg.Clock.After(backoff):
			}
		}
	}

	metrics.ChunkUploads.WithLabelValues("failed").Inc()
	logger.Error().Err(lastErr).Msg("chunk upload failed terminally, marked for retry")
	if err := u.cfg.StateLog.MarkFailed(name); err != nil {
		logger.Error().Err(err).Msg("state log append failed")
	}
}

// stableSize reads the size twice across the stability delay. A change means
// the writer is still active.
func (u *Uploader) stableSize(ctx context.Context, path string) (int64, bool) {
	first, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	select {
	case <-ctx.Done():
		return 0, false
	case <-u.cfg.Clock.After(u.cfg.StabilityDelay):
	}
	second, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	if first.Size() != second.Size() {
		return 0, false
	}
	return second.Size(), true
}

func (u *Uploader) objectKey(name string) string {
	return path.Join(u.cfg.SessionID, "chunks", name)
}
