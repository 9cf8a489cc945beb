// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package downloader restores a session's chunk set from the object store
// onto local disk before joining. It is the inverse of the uploader and
// shares the same state log contract.
package downloader

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/recfleet/recfleet/internal/domain/session/model"
	"github.com/recfleet/recfleet/internal/fsutil"
	"github.com/recfleet/recfleet/internal/log"
	"github.com/recfleet/recfleet/internal/metrics"
	"github.com/recfleet/recfleet/internal/objstore"
	"github.com/recfleet/recfleet/internal/recorder/statelog"
)

// Config tunes one download run.
type Config struct {
	SessionID string
	ChunkDir  string

	Store    *objstore.Client
	StateLog *statelog.Log

	BulkTimeout   time.Duration // deadline for the whole restore, default 300s
	Attempts      int           // per-object fallback attempts, default 3
	MinChunkBytes int64         // local-present threshold, default 1024

	Clock clockwork.Clock
}

func (c *Config) withDefaults() {
	if c.BulkTimeout <= 0 {
		c.BulkTimeout = 300 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.MinChunkBytes <= 0 {
		c.MinChunkBytes = 1024
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

// Result summarises one download run.
type Result struct {
	Remote     int  // chunk objects listed in the store
	Downloaded int  // fetched this run
	Skipped    int  // already present locally
	Failed     int  // exhausted all attempts
	Complete   bool // every remote chunk has a local copy and a SUCCESS line
}

// Downloader restores chunks for one session.
type Downloader struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a downloader.
func New(cfg Config) *Downloader {
	cfg.withDefaults()
	return &Downloader{
		cfg: cfg,
		logger: log.WithComponent("downloader").With().
			Str("session_id", cfg.SessionID).Logger(),
	}
}

// Run lists the session's chunk objects and fetches the ones missing
// locally. The whole run is bounded by BulkTimeout; each object gets
// bounded retries with linear backoff. Verify afterwards to decide
// whether the set is complete.
func (d *Downloader) Run(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.BulkTimeout)
	defer cancel()

	prefix := path.Join(d.cfg.SessionID, "chunks") + "/"
	objects, err := d.cfg.Store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	res := &Result{}
	for _, obj := range objects {
		name := path.Base(obj.Key)
		if !model.IsValidChunkName(name) {
			d.logger.Warn().Str("key", obj.Key).Msg("ignoring foreign object under chunk prefix")
			continue
		}
		res.Remote++

		local := filepath.Join(d.cfg.ChunkDir, name)
		if fsutil.FileSize(local) >= d.cfg.MinChunkBytes {
			res.Skipped++
			if err := d.cfg.StateLog.MarkSuccess(name); err != nil {
				d.logger.Warn().Err(err).Str("chunk", name).Msg("state log append failed")
			}
			continue
		}

		if err := d.fetch(ctx, obj.Key, local); err != nil {
			res.Failed++
			metrics.ChunkDownloads.WithLabelValues("failed").Inc()
			d.logger.Error().Err(err).Str("chunk", name).Msg("chunk download failed")
			if markErr := d.cfg.StateLog.MarkFailed(name); markErr != nil {
				d.logger.Warn().Err(markErr).Str("chunk", name).Msg("state log append failed")
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		res.Downloaded++
		metrics.ChunkDownloads.WithLabelValues("ok").Inc()
		if err := d.cfg.StateLog.MarkSuccess(name); err != nil {
			d.logger.Warn().Err(err).Str("chunk", name).Msg("state log append failed")
		}
	}

	d.logger.Info().
		Int("remote", res.Remote).
		Int("downloaded", res.Downloaded).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("download run finished")

	complete, err := d.Verify()
	if err != nil {
		return res, err
	}
	res.Complete = complete
	return res, nil
}

// fetch downloads one object with linear backoff between attempts.
func (d *Downloader) fetch(ctx context.Context, key, dest string) error {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.Attempts; attempt++ {
		lastErr = d.cfg.Store.DownloadFile(ctx, key, dest)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt < d.cfg.Attempts {
			backoff := time.Duration(attempt) * 5 * time.Second
			select {
			case <-ctx.Done():
				return lastErr
			case <-d.cfg.Clock.After(backoff):
			}
		}
	}
	return lastErr
}

// Verify checks the local chunk set against the state log: the SUCCESS set
// and the local files must match exactly and no FAILED marker may remain. A
// local chunk without a SUCCESS line was never confirmed against the store
// and degrades the set just like a missing one.
func (d *Downloader) Verify() (bool, error) {
	snap, err := d.cfg.StateLog.Read()
	if err != nil {
		return false, fmt.Errorf("state log read: %w", err)
	}
	if len(snap.Failed) > 0 {
		d.logger.Warn().Int("failed", len(snap.Failed)).Msg("chunk set degraded")
		return false, nil
	}

	local, err := fsutil.ListChunks(d.cfg.ChunkDir)
	if err != nil {
		return false, fmt.Errorf("local scan: %w", err)
	}
	present := make(map[string]bool, len(local))
	for _, name := range local {
		present[name] = true
	}
	for name := range snap.Succeeded {
		if !present[name] {
			d.logger.Warn().Str("chunk", name).Msg("recorded chunk missing locally")
			return false, nil
		}
	}
	for _, name := range local {
		if !snap.Succeeded[name] {
			d.logger.Warn().Str("chunk", name).Msg("local chunk has no state log record")
			return false, nil
		}
	}
	return true, nil
}
