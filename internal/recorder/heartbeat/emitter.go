// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package heartbeat periodically reports recorder liveness and chunk
// progress to the controller. Heartbeats are not retried; the next tick
// supersedes a failed one.
package heartbeat

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/recfleet/recfleet/internal/fsutil"
	"github.com/recfleet/recfleet/internal/log"
	"github.com/recfleet/recfleet/internal/recorder/controllerapi"
)

// Emitter drives the heartbeat loop for one session.
type Emitter struct {
	client    *controllerapi.Client
	sessionID string
	chunkDir  string
	interval  time.Duration
	clock     clockwork.Clock
	logger    zerolog.Logger

	lastSent string
}

// New creates an emitter. interval defaults to 10s.
func New(client *controllerapi.Client, sessionID, chunkDir string, interval time.Duration, clock clockwork.Clock) *Emitter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Emitter{
		client:    client,
		sessionID: sessionID,
		chunkDir:  chunkDir,
		interval:  interval,
		clock:     clock,
		logger:    log.WithComponent("heartbeat").With().Str("session_id", sessionID).Logger(),
	}
}

// Run emits heartbeats until ctx is cancelled. Deregistration is the
// caller's job; it has to happen after the final status updates.
func (e *Emitter) Run(ctx context.Context) {
	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info().Dur("interval", e.interval).Msg("heartbeat emitter started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("heartbeat emitter stopped")
			return
		case <-ticker.Chan():
			e.Tick(ctx)
		}
	}
}

// Tick sends one heartbeat. The chunk name is attached only when it changed
// since the previous send.
func (e *Emitter) Tick(ctx context.Context) {
	latest, err := fsutil.LatestChunk(e.chunkDir)
	if err != nil {
		e.logger.Warn().Err(err).Msg("chunk directory scan failed")
	}

	chunk := ""
	if latest != "" && latest != e.lastSent {
		chunk = latest
	}

	if err := e.client.Heartbeat(ctx, e.sessionID, chunk); err != nil {
		e.logger.Warn().Err(err).Msg("heartbeat failed")
		return
	}
	if chunk != "" {
		e.lastSent = chunk
	}
}
