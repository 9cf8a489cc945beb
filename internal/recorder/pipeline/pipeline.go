// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package pipeline coordinates one recording session end to end: directory
// setup, registration, capture, chunk shipping, reassembly, verification,
// and cleanup. Controller calls are best effort throughout; a dead
// controller never blocks the recording itself.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/recfleet/recfleet/internal/config"
	"github.com/recfleet/recfleet/internal/fsutil"
	"github.com/recfleet/recfleet/internal/log"
	"github.com/recfleet/recfleet/internal/media/ffprobe"
	"github.com/recfleet/recfleet/internal/objstore"
	"github.com/recfleet/recfleet/internal/recorder/capture"
	"github.com/recfleet/recfleet/internal/recorder/cleaner"
	"github.com/recfleet/recfleet/internal/recorder/controllerapi"
	"github.com/recfleet/recfleet/internal/recorder/downloader"
	"github.com/recfleet/recfleet/internal/recorder/heartbeat"
	"github.com/recfleet/recfleet/internal/recorder/joiner"
	"github.com/recfleet/recfleet/internal/recorder/statelog"
	"github.com/recfleet/recfleet/internal/recorder/uploader"
)

// drainGrace bounds how long in-flight uploads get to finish after capture
// ends before they are aborted.
const drainGrace = 10 * time.Second

// logArchiveName is the object key stem of the state log archive uploaded
// next to the recording.
const logArchiveName = "logs"

// controllerCallTimeout bounds each best-effort controller call during
// startup and finalization.
const controllerCallTimeout = 5 * time.Second

// metadata is written next to the artifact at session start.
type metadata struct {
	SessionID   string    `json:"sessionId"`
	ClientID    string    `json:"clientId"`
	StartedAt   time.Time `json:"startedAt"`
	Resolution  string    `json:"resolution"`
	Framerate   int       `json:"framerate"`
	OnlyVideo   bool      `json:"onlyVideo"`
	StorageMode string    `json:"storageMode"`
	ChunkTime   string    `json:"chunkTime"`
}

// Pipeline runs one recording session.
type Pipeline struct {
	cfg    config.Recorder
	client *controllerapi.Client
	store  *objstore.Client // nil in local storage mode
	logger zerolog.Logger

	sessionDir   string
	chunkDir     string
	artifactPath string
}

// New validates cfg and prepares a pipeline.
func New(cfg config.Recorder) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sessionDir := filepath.Join(cfg.RecordingsRoot, cfg.SessionID)
	return &Pipeline{
		cfg:    cfg,
		client: controllerapi.New(cfg.ControllerURL, cfg.APIUser, cfg.APIPassword, 10*time.Second),
		logger: log.WithComponent("pipeline").With().
			Str("session_id", cfg.SessionID).Logger(),
		sessionDir:   sessionDir,
		chunkDir:     filepath.Join(sessionDir, cfg.ChunkFolder),
		artifactPath: filepath.Join(sessionDir, cfg.VideoName+"."+cfg.VideoFormat),
	}, nil
}

// Run executes the full session lifecycle. It returns when the recording
// has been finalized, successfully or not. ctx cancellation requests a
// graceful stop of the capture phase, not an abort of finalization.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.setup(ctx); err != nil {
		return err
	}

	uploadLog := statelog.New(statelog.UploadPath(p.cfg.StateDir, p.cfg.SessionID))
	downloadLog := statelog.New(statelog.DownloadPath(p.cfg.StateDir, p.cfg.SessionID))

	p.register(ctx)

	// Background services live on their own context so capture shutdown
	// and service drain can be sequenced explicitly.
	svcCtx, svcCancel := context.WithCancel(context.Background())
	defer svcCancel()

	g, gCtx := errgroup.WithContext(svcCtx)
	g.Go(func() error {
		heartbeat.New(p.client, p.cfg.SessionID, p.chunkDir, p.cfg.HeartbeatInterval, nil).Run(gCtx)
		return nil
	})
	if p.store != nil {
		up := uploader.New(uploader.Config{
			SessionID:     p.cfg.SessionID,
			ChunkDir:      p.chunkDir,
			Store:         p.store,
			StateLog:      uploadLog,
			Workers:       p.cfg.UploadWorkers,
			Attempts:      p.cfg.UploadAttempts,
			UploadTimeout: p.cfg.UploadTimeout,
			RetryInterval: p.cfg.RetryInterval,
			DrainGrace:    drainGrace,
		})
		g.Go(func() error { return up.Run(gCtx) })
	}

	captureErr := p.capture(ctx)

	p.updateStatus("stopping")

	// Cancelling stops intake; the uploader lets in-flight uploads finish
	// within drainGrace before aborting them, so the outer wait gets a
	// little extra room for that escalation.
	svcCancel()
	if err := waitTimeout(g, drainGrace+2*time.Second); err != nil {
		p.logger.Warn().Err(err).Msg("background services did not drain cleanly")
	}

	finalErr := p.finalize(uploadLog, downloadLog, captureErr)

	p.deregister()
	return finalErr
}

// setup creates the directory layout, writes the session metadata file,
// and connects the object store when configured.
func (p *Pipeline) setup(ctx context.Context) error {
	if err := os.MkdirAll(p.chunkDir, 0o755); err != nil {
		return fmt.Errorf("chunk dir: %w", err)
	}

	meta := metadata{
		SessionID:   p.cfg.SessionID,
		ClientID:    p.cfg.ClientID,
		StartedAt:   time.Now().UTC(),
		Resolution:  p.cfg.Resolution,
		Framerate:   p.cfg.Framerate,
		OnlyVideo:   p.cfg.OnlyVideo,
		StorageMode: string(p.cfg.StorageMode),
		ChunkTime:   p.cfg.ChunkTimeSize.String(),
	}
	if err := fsutil.WriteJSONAtomic(filepath.Join(p.sessionDir, "metadata.json"), meta); err != nil {
		return fmt.Errorf("metadata write: %w", err)
	}

	if p.cfg.StorageMode == config.StorageS3 {
		store, err := objstore.New(ctx, objstore.Config{
			Endpoint:  p.cfg.Endpoint,
			Region:    p.cfg.Region,
			AccessKey: p.cfg.AccessKey,
			SecretKey: p.cfg.SecretKey,
			Bucket:    p.cfg.Bucket,
		})
		if err != nil {
			return fmt.Errorf("object store: %w", err)
		}
		p.store = store
	}
	return nil
}

// register announces the session. Failure is logged, not fatal; the first
// heartbeat or a manual registration can still pick the session up.
func (p *Pipeline) register(ctx context.Context) {
	env, _ := json.Marshal(map[string]string{
		"resolution":  p.cfg.Resolution,
		"storageMode": string(p.cfg.StorageMode),
	})
	callCtx, cancel := context.WithTimeout(ctx, controllerCallTimeout)
	defer cancel()
	err := p.client.Register(callCtx, controllerapi.RegisterInput{
		SessionID:   p.cfg.SessionID,
		ClientID:    p.cfg.ClientID,
		Status:      "starting",
		Environment: env,
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("session registration failed")
		return
	}
	p.logger.Info().Msg("session registered")
}

// capture runs the engine until ctx asks for a stop or the engine exits on
// its own. Numbering resumes past existing chunks after a restart.
func (p *Pipeline) capture(ctx context.Context) error {
	startIndex, err := fsutil.NextChunkIndex(p.chunkDir, p.cfg.StartChunk)
	if err != nil {
		return fmt.Errorf("chunk index: %w", err)
	}

	runner := capture.NewRunner(capture.Spec{
		ChunkDir:   p.chunkDir,
		VideoSrc:   p.cfg.VideoSource,
		AudioSrc:   p.cfg.AudioSource,
		OnlyVideo:  p.cfg.OnlyVideo,
		Resolution: p.cfg.Resolution,
		Framerate:  p.cfg.Framerate,
		Format:     p.cfg.VideoFormat,
		ChunkTime:  p.cfg.ChunkTimeSize,
		StartIndex: startIndex,
	})

	// The engine must not die with the pipeline context; stop is always
	// sentinel-first.
	if err := runner.Start(context.Background()); err != nil {
		return err
	}
	p.updateStatus("recording")

	err = runner.Wait(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		runner.Stop(stopCtx)
		err = nil
	}
	if err != nil {
		for _, line := range runner.LastLogLines(20) {
			p.logger.Warn().Str("engine", line).Msg("capture output")
		}
	}
	return err
}

// finalize reassembles and verifies the artifact, reports the outcome, and
// cleans up remote chunks when it is safe to do so.
func (p *Pipeline) finalize(uploadLog, downloadLog *statelog.Log, captureErr error) error {
	ctx := context.Background()

	if p.store != nil {
		res, err := downloader.New(downloader.Config{
			SessionID:     p.cfg.SessionID,
			ChunkDir:      p.chunkDir,
			Store:         p.store,
			StateLog:      downloadLog,
			BulkTimeout:   p.cfg.BulkTimeout,
			MinChunkBytes: p.cfg.MinArtifactBytes,
		}).Run(ctx)
		if err != nil {
			p.fail(fmt.Errorf("chunk restore: %w", err))
			return err
		}
		if !res.Complete {
			p.logger.Warn().Msg("chunk set incomplete, joining what is available")
		}
	}

	err := joiner.New(joiner.Config{
		ChunkDir:         p.chunkDir,
		OutputPath:       p.artifactPath,
		Timeout:          p.cfg.ConcatTimeout,
		MinArtifactBytes: p.cfg.MinArtifactBytes,
	}).Run(ctx)
	if errors.Is(err, joiner.ErrNoChunks) {
		err = fmt.Errorf("recording produced no chunks")
		if captureErr != nil {
			err = fmt.Errorf("%w (capture: %v)", err, captureErr)
		}
		p.fail(err)
		return err
	}
	if err != nil {
		p.fail(fmt.Errorf("join: %w", err))
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	info, probeErr := ffprobe.Probe(probeCtx, p.artifactPath)
	cancel()
	if probeErr != nil {
		p.fail(fmt.Errorf("artifact verification: %w", probeErr))
		return probeErr
	}

	p.logger.Info().
		Float64("duration_s", info.Duration).
		Int64("size", info.Size).
		Bool("audio", info.HasAudio).
		Str("artifact", p.artifactPath).
		Msg("recording finalized")

	p.updateRecordingPath(p.artifactPath)
	p.updateStatus("completed")

	if p.store != nil {
		p.archiveLogs(ctx, uploadLog, downloadLog)

		err := cleaner.New(cleaner.Config{
			SessionID:        p.cfg.SessionID,
			ArtifactPath:     p.artifactPath,
			Store:            p.store,
			UploadLog:        uploadLog,
			DownloadLog:      downloadLog,
			MinArtifactBytes: p.cfg.CleanerMinArtifactBytes,
			Force:            p.cfg.ForceClean,
		}).Run(ctx)
		if err != nil {
			// The artifact is safe; leftover chunk objects only cost storage.
			p.logger.Warn().Err(err).Msg("remote chunk cleanup skipped")
		}
	}
	return nil
}

// fail reports a FAILED outcome to the controller with engine context in
// the local log.
func (p *Pipeline) fail(err error) {
	p.logger.Error().Err(err).Msg("recording failed")
	p.updateStatus("failed")
}

// archiveLogs bundles the state logs into a single tarball uploaded next to
// the recording for postmortem use. Best effort.
func (p *Pipeline) archiveLogs(ctx context.Context, logs ...*statelog.Log) {
	var paths []string
	for _, l := range logs {
		if l == nil {
			continue
		}
		if _, err := os.Stat(l.Path()); err != nil {
			continue // a log that never got a line has no file
		}
		paths = append(paths, l.Path())
	}
	if len(paths) == 0 {
		return
	}

	var buf bytes.Buffer
	if err := fsutil.WriteTarGz(&buf, paths); err != nil {
		p.logger.Warn().Err(err).Msg("log archive build failed")
		return
	}

	key := p.cfg.SessionID + "/" + logArchiveName + ".tgz"
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.UploadTimeout)
	defer cancel()
	if err := p.store.Upload(callCtx, key, &buf); err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("log archive upload failed")
	}
}

func (p *Pipeline) updateStatus(status string) {
	ctx, cancel := context.WithTimeout(context.Background(), controllerCallTimeout)
	defer cancel()
	if err := p.client.UpdateStatus(ctx, p.cfg.SessionID, status); err != nil {
		p.logger.Warn().Err(err).Str("status", status).Msg("status update failed")
	}
}

func (p *Pipeline) updateRecordingPath(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), controllerCallTimeout)
	defer cancel()
	if err := p.client.UpdateRecordingPath(ctx, p.cfg.SessionID, path); err != nil {
		p.logger.Warn().Err(err).Msg("recording path update failed")
	}
}

func (p *Pipeline) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), controllerCallTimeout)
	defer cancel()
	if err := p.client.Deregister(ctx, p.cfg.SessionID); err != nil {
		p.logger.Warn().Err(err).Msg("session deregistration failed")
		return
	}
	p.logger.Info().Msg("session deregistered")
}

// waitTimeout waits for the group with an upper bound.
func waitTimeout(g *errgroup.Group, d time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		return fmt.Errorf("drain timed out after %s", d)
	}
}
