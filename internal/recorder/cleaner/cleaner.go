// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package cleaner removes a session's chunk objects from the store once
// the final artifact is safe. Deletion is gated on hard evidence: an
// artifact of plausible size on disk and clean state logs. Force mode
// bypasses the gates for operator-driven cleanup.
package cleaner

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/recfleet/recfleet/internal/fsutil"
	"github.com/recfleet/recfleet/internal/log"
	"github.com/recfleet/recfleet/internal/objstore"
	"github.com/recfleet/recfleet/internal/recorder/statelog"
)

// Config tunes one cleanup run.
type Config struct {
	SessionID    string
	ArtifactPath string // local final artifact to verify before deleting

	Store       *objstore.Client
	UploadLog   *statelog.Log
	DownloadLog *statelog.Log

	MinArtifactBytes int64 // default 1 MiB
	Force            bool  // skip safety gates
	WholePrefix      bool  // delete the entire session prefix, not just chunks/
}

func (c *Config) withDefaults() {
	if c.MinArtifactBytes <= 0 {
		c.MinArtifactBytes = 1 << 20
	}
}

// Cleaner deletes remote chunk objects for one session.
type Cleaner struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a cleaner.
func New(cfg Config) *Cleaner {
	cfg.withDefaults()
	return &Cleaner{
		cfg: cfg,
		logger: log.WithComponent("cleaner").With().
			Str("session_id", cfg.SessionID).Logger(),
	}
}

// Run verifies the safety gates, deletes the chunk objects, and confirms
// nothing survived under the prefix. A gate refusal is an error so callers
// never mistake "kept for safety" for "cleaned".
func (c *Cleaner) Run(ctx context.Context) error {
	if !c.cfg.Force {
		if err := c.verifySafe(); err != nil {
			return fmt.Errorf("cleanup refused: %w", err)
		}
	} else {
		c.logger.Warn().Msg("forced cleanup, safety gates bypassed")
	}

	prefix := path.Join(c.cfg.SessionID, "chunks") + "/"
	if c.cfg.WholePrefix {
		prefix = c.cfg.SessionID + "/"
	}

	if err := c.deletePrefix(ctx, prefix); err != nil {
		return err
	}
	return c.verifyEmpty(ctx, prefix)
}

// verifySafe checks the artifact and both state logs.
func (c *Cleaner) verifySafe() error {
	size := fsutil.FileSize(c.cfg.ArtifactPath)
	if size < c.cfg.MinArtifactBytes {
		return fmt.Errorf("artifact %s too small (%d < %d bytes)", c.cfg.ArtifactPath, size, c.cfg.MinArtifactBytes)
	}

	for _, l := range []struct {
		name string
		log  *statelog.Log
	}{
		{"upload", c.cfg.UploadLog},
		{"download", c.cfg.DownloadLog},
	} {
		if l.log == nil {
			continue
		}
		snap, err := l.log.Read()
		if err != nil {
			return fmt.Errorf("%s state log: %w", l.name, err)
		}
		if len(snap.Failed) > 0 {
			return fmt.Errorf("%s state log has %d unresolved failures", l.name, len(snap.Failed))
		}
	}
	return nil
}

// deletePrefix bulk-deletes everything under prefix, falling back to
// per-object deletes when the batch call fails partway.
func (c *Cleaner) deletePrefix(ctx context.Context, prefix string) error {
	objects, err := c.cfg.Store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %s: %w", prefix, err)
	}
	if len(objects) == 0 {
		return nil
	}

	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}

	if err := c.cfg.Store.DeleteAll(ctx, keys); err != nil {
		c.logger.Warn().Err(err).Str("prefix", prefix).Msg("bulk delete failed, falling back to per-object")
		for _, key := range keys {
			if err := c.cfg.Store.Delete(ctx, key); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}
	}
	return nil
}

// verifyEmpty confirms no chunk object survived the delete.
func (c *Cleaner) verifyEmpty(ctx context.Context, prefix string) error {
	objects, err := c.cfg.Store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("post-delete list: %w", err)
	}
	var survivors []string
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, ".mp4") || c.cfg.WholePrefix {
			survivors = append(survivors, obj.Key)
		}
	}
	if len(survivors) > 0 {
		return fmt.Errorf("%d objects survived cleanup under %s", len(survivors), prefix)
	}

	c.logger.Info().Str("prefix", prefix).Msg("remote chunks cleaned")
	return nil
}
