// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package joiner concatenates a session's chunk set into the final
// artifact. Chunk names sort lexicographically in temporal order, so the
// manifest is just the sorted directory listing. Concatenation is a
// stream copy, no re-encode.
package joiner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/recfleet/recfleet/internal/fsutil"
	"github.com/recfleet/recfleet/internal/log"
	"github.com/recfleet/recfleet/internal/metrics"
)

// ErrNoChunks is returned when the chunk directory holds no valid chunks.
var ErrNoChunks = errors.New("no chunks to join")

// Config tunes one join run.
type Config struct {
	ChunkDir   string
	OutputPath string // final artifact, e.g. /recordings/<id>/video.mp4

	BinPath          string        // defaults to "ffmpeg"
	Timeout          time.Duration // default 300s
	MinArtifactBytes int64         // output sanity threshold, default 1024
}

func (c *Config) withDefaults() {
	if c.BinPath == "" {
		c.BinPath = "ffmpeg"
	}
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	if c.MinArtifactBytes <= 0 {
		c.MinArtifactBytes = 1024
	}
}

// Joiner builds the final artifact for one session.
type Joiner struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a joiner.
func New(cfg Config) *Joiner {
	cfg.withDefaults()
	return &Joiner{cfg: cfg, logger: log.WithComponent("joiner")}
}

// Run enumerates chunks, writes the concat manifest, and stream-copies
// them into OutputPath. On success the chunk directory and manifest are
// removed. ErrNoChunks means there was nothing to join and no output was
// produced.
func (j *Joiner) Run(ctx context.Context) error {
	start := time.Now()

	chunks, err := fsutil.ListChunks(j.cfg.ChunkDir)
	if err != nil {
		return fmt.Errorf("chunk scan: %w", err)
	}
	if len(chunks) == 0 {
		return ErrNoChunks
	}

	manifest, err := j.writeManifest(chunks)
	if err != nil {
		return err
	}

	if err := j.concat(ctx, manifest); err != nil {
		return err
	}

	size := fsutil.FileSize(j.cfg.OutputPath)
	if size < j.cfg.MinArtifactBytes {
		return fmt.Errorf("artifact %s suspiciously small (%d bytes)", j.cfg.OutputPath, size)
	}

	// Only a verified artifact justifies dropping the source chunks.
	if err := os.Remove(manifest); err != nil && !errors.Is(err, os.ErrNotExist) {
		j.logger.Warn().Err(err).Msg("manifest removal failed")
	}
	if err := os.RemoveAll(j.cfg.ChunkDir); err != nil {
		j.logger.Warn().Err(err).Msg("chunk directory removal failed")
	}

	metrics.JoinDuration.Observe(time.Since(start).Seconds())
	j.logger.Info().
		Int("chunks", len(chunks)).
		Int64("size", size).
		Str("output", j.cfg.OutputPath).
		Msg("chunks joined")
	return nil
}

// writeManifest emits the concat demuxer file list with absolute paths.
func (j *Joiner) writeManifest(chunks []string) (string, error) {
	absDir, err := filepath.Abs(j.cfg.ChunkDir)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, name := range chunks {
		// Single quotes keep the concat demuxer from interpreting
		// special characters; chunk names themselves are ^[0-9]{4}\.
		fmt.Fprintf(&b, "file '%s'\n", filepath.Join(absDir, name))
	}

	manifest := filepath.Join(filepath.Dir(absDir), "concat.txt")
	if err := os.WriteFile(manifest, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("manifest write: %w", err)
	}
	return manifest, nil
}

func (j *Joiner) concat(ctx context.Context, manifest string) error {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-c", "copy",
		"-movflags", "+faststart",
		"-y",
		j.cfg.OutputPath,
	}

	// #nosec G204 -- binary and args are config-controlled
	cmd := exec.CommandContext(ctx, j.cfg.BinPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(out))
		if len(detail) > 4096 {
			detail = detail[:4096] + "..."
		}
		return fmt.Errorf("concat failed: %w: %s", err, detail)
	}
	return nil
}
