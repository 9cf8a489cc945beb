// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package capture supervises the segmenting capture engine. The engine is a
// black box that writes numbered segments into the chunk directory, closing
// each file before opening the next, and quits when it reads the stop
// sentinel on its input.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/recfleet/recfleet/internal/log"
	"github.com/recfleet/recfleet/internal/metrics"
	"github.com/recfleet/recfleet/internal/procgroup"
)

// stopSentinel is written to the engine's stdin to request a graceful quit.
const stopSentinel = "q"

// Spec configures one capture run.
type Spec struct {
	BinPath   string // defaults to "ffmpeg"
	ChunkDir  string
	VideoSrc  string // e.g. ":0.0" for x11grab
	AudioSrc  string // e.g. "default" for pulse; ignored when OnlyVideo
	OnlyVideo bool

	Resolution    string // WIDTHxHEIGHT
	Framerate     int
	Format        string        // container extension, e.g. "mp4"
	ChunkTime     time.Duration // fixed segment duration
	StartIndex    int           // segment numbering start
	StopGrace     time.Duration // TERM→KILL escalation window
}

// Runner manages a single capture engine process.
type Runner struct {
	spec Spec

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}
	ring  *LineRing
	start time.Time
}

// NewRunner creates a runner for the given spec.
func NewRunner(spec Spec) *Runner {
	if spec.BinPath == "" {
		spec.BinPath = "ffmpeg"
	}
	if spec.Format == "" {
		spec.Format = "mp4"
	}
	if spec.StopGrace <= 0 {
		spec.StopGrace = 10 * time.Second
	}
	return &Runner{
		spec: spec,
		ring: NewLineRing(256),
		done: make(chan struct{}),
	}
}

// Args builds the segmenter invocation: fixed-duration segments numbered
// %04d.<format> starting at StartIndex.
func (r *Runner) Args() []string {
	s := r.spec
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-video_size", s.Resolution,
		"-framerate", strconv.Itoa(s.Framerate),
		"-f", "x11grab",
		"-i", s.VideoSrc,
	}
	if !s.OnlyVideo {
		args = append(args,
			"-f", "pulse",
			"-i", s.AudioSrc,
		)
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
	)
	if !s.OnlyVideo {
		args = append(args, "-c:a", "aac")
	}
	args = append(args,
		"-f", "segment",
		"-segment_time", strconv.Itoa(int(s.ChunkTime.Seconds())),
		"-segment_start_number", strconv.Itoa(s.StartIndex),
		"-reset_timestamps", "1",
		"-movflags", "+faststart",
		filepath.Join(s.ChunkDir, "%04d."+s.Format),
	)
	return args
}

// Start launches the engine. It returns once the process is running.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return errors.New("capture already started")
	}

	logger := log.WithComponentFromContext(ctx, "capture")

	cmd := exec.CommandContext(ctx, r.spec.BinPath, r.Args()...) // #nosec G204 -- binary and args are config-controlled
	procgroup.Set(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("capture stdin: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("capture stderr: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				r.ring.Append(line)
			}
		}
	}()

	logger.Info().
		Str("command", cmd.String()).
		Int("start_index", r.spec.StartIndex).
		Msg("starting capture engine")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("capture start: %w", err)
	}
	r.cmd = cmd
	r.stdin = stdin
	r.start = time.Now()

	go func() {
		err := cmd.Wait()
		reason := "clean"
		if err != nil {
			reason = "error"
		}
		metrics.CaptureExits.WithLabelValues(reason).Inc()
		close(r.done)
	}()

	return nil
}

// Wait blocks until the engine exits or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return nil
	}
}

// Stop requests a graceful quit via the stop sentinel, then escalates to
// group TERM/KILL after the grace window. Safe to call more than once.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	cmd := r.cmd
	stdin := r.stdin
	r.mu.Unlock()

	if cmd == nil {
		return
	}

	logger := log.WithComponentFromContext(ctx, "capture")

	if stdin != nil {
		if _, err := io.WriteString(stdin, stopSentinel); err == nil {
			_ = stdin.Close()
		}
	}

	select {
	case <-r.done:
		return
	case <-time.After(r.spec.StopGrace):
		logger.Warn().Msg("capture engine ignored stop sentinel, escalating")
	case <-ctx.Done():
	}

	_ = procgroup.Kill(cmd, syscall.SIGTERM)
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		_ = procgroup.Kill(cmd, syscall.SIGKILL)
	}
}

// LastLogLines returns recent engine output for diagnostics.
func (r *Runner) LastLogLines(n int) []string {
	return r.ring.LastN(n)
}
