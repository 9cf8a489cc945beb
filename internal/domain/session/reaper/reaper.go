// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package reaper runs the controller's periodic failure-detection pass. It
// repairs active-index drift, fails silent and stuck recorders, and evicts
// long-inactive records. All transitions go through the session service.
package reaper

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/recfleet/recfleet/internal/domain/session/model"
	"github.com/recfleet/recfleet/internal/domain/session/service"
	"github.com/recfleet/recfleet/internal/domain/session/store"
	"github.com/recfleet/recfleet/internal/metrics"
)

// Config defines the reaper thresholds.
type Config struct {
	Interval        time.Duration // tick period, default 30s
	MaxInactiveTime time.Duration // hard silence threshold, default 600s
	ChunkTimeSize   time.Duration // fleet segment duration, default 10s
}

func (c *Config) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaxInactiveTime <= 0 {
		c.MaxInactiveTime = 600 * time.Second
	}
	if c.ChunkTimeSize <= 0 {
		c.ChunkTimeSize = 10 * time.Second
	}
}

// chunkMemory remembers chunk progress across ticks for stuckness detection.
type chunkMemory struct {
	lastChunk string
	changedAt time.Time
}

// Reaper is a single-threaded scheduled task. It reads a snapshot of active
// sessions per tick and operates sequentially; no session-level locks are
// held across suspension points.
type Reaper struct {
	svc    *service.Service
	store  *store.Store
	cfg    Config
	clock  clockwork.Clock
	logger zerolog.Logger

	seen map[string]*chunkMemory
}

// New creates a reaper.
func New(svc *service.Service, st *store.Store, cfg Config, clock clockwork.Clock, logger zerolog.Logger) *Reaper {
	cfg.withDefaults()
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Reaper{
		svc:    svc,
		store:  st,
		cfg:    cfg,
		clock:  clock,
		logger: logger.With().Str("component", "reaper").Logger(),
		seen:   make(map[string]*chunkMemory),
	}
}

// Run starts the reaper loop until ctx is cancelled. Errors are logged and
// never halt the scheduler.
func (r *Reaper) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info().
		Dur("interval", r.cfg.Interval).
		Dur("max_inactive", r.cfg.MaxInactiveTime).
		Msg("reaper started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.Tick(ctx)
		}
	}
}

// Tick performs exactly one reaper pass. Deterministic and suitable for
// unit testing.
func (r *Reaper) Tick(ctx context.Context) {
	if _, err := r.store.CleanupOrphanedSessions(ctx); err != nil {
		r.logger.Error().Err(err).Msg("orphan cleanup failed")
	}

	sessions, err := r.store.FindAllActiveSessions(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("active session scan failed")
		return
	}

	now := r.clock.Now()
	live := make(map[string]bool, len(sessions))

	for _, sess := range sessions {
		live[sess.SessionID] = true
		r.inspect(ctx, sess, now)
	}

	// Forget progress memory for sessions that left the active index.
	for id := range r.seen {
		if !live[id] {
			delete(r.seen, id)
		}
	}

	metrics.ActiveSessions.Set(float64(len(live)))
	metrics.ReaperTicks.Inc()
}

func (r *Reaper) inspect(ctx context.Context, sess *model.Session, now time.Time) {
	if sess.Status.IsTerminal() {
		// Terminal but still indexed: repair the index via deactivation.
		if _, err := r.svc.Deactivate(ctx, sess.SessionID); err != nil {
			r.logger.Warn().Err(err).Str("session_id", sess.SessionID).Msg("failed to deactivate terminal session")
		}
		return
	}

	dt := now.Sub(sess.LastHeartbeat)

	if dt > r.cfg.MaxInactiveTime {
		r.fail(ctx, sess, "max_inactive", dt)
		return
	}

	// Failover prelude: a recorder that stopped talking well before the hard
	// threshold, measured in segment durations.
	silentAfter := 3*r.cfg.ChunkTimeSize + 30*time.Second
	if dt > silentAfter {
		r.fail(ctx, sess, "silent", dt)
		return
	}

	r.checkStuck(ctx, sess, now, dt)
}

// checkStuck fails sessions that heartbeat but stop advancing lastChunk.
func (r *Reaper) checkStuck(ctx context.Context, sess *model.Session, now time.Time, dt time.Duration) {
	if sess.LastChunk == "" {
		return
	}

	mem := r.seen[sess.SessionID]
	if mem == nil || mem.lastChunk != sess.LastChunk {
		r.seen[sess.SessionID] = &chunkMemory{lastChunk: sess.LastChunk, changedAt: now}
		return
	}

	stuckAfter := 2 * r.cfg.ChunkTimeSize
	if now.Sub(mem.changedAt) > stuckAfter && now.Sub(sess.CreatedAt) > stuckAfter {
		r.logger.Warn().
			Str("session_id", sess.SessionID).
			Str("last_chunk", sess.LastChunk).
			Dur("since_chunk_change", now.Sub(mem.changedAt)).
			Dur("since_heartbeat", dt).
			Msg("chunk progress stalled")
		r.fail(ctx, sess, "stuck", now.Sub(mem.changedAt))
	}
}

func (r *Reaper) fail(ctx context.Context, sess *model.Session, reason string, dt time.Duration) {
	r.logger.Warn().
		Str("session_id", sess.SessionID).
		Str("client_id", sess.ClientID).
		Str("reason", reason).
		Dur("dt", dt).
		Msg("failing session, emitting failover signal")

	if _, err := r.svc.MarkFailed(ctx, sess.SessionID, reason); err != nil {
		r.logger.Error().Err(err).Str("session_id", sess.SessionID).Msg("failed to mark session FAILED")
		return
	}
	metrics.ReaperFailovers.WithLabelValues(reason).Inc()
	delete(r.seen, sess.SessionID)
}
