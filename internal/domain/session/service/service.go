// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package service is the single authority for session state. All mutations
// go through the repository; status transitions are validated under a
// read-modify-write that is re-checked before the write commits.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/recfleet/recfleet/internal/domain/session/model"
	"github.com/recfleet/recfleet/internal/domain/session/store"
	"github.com/recfleet/recfleet/internal/metrics"
)

// Service fronts the session repository.
type Service struct {
	store  *store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a session service.
func New(st *store.Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		logger: logger.With().Str("component", "session-service").Logger(),
		now:    time.Now,
	}
}

// RegisterInput carries the registration request fields.
type RegisterInput struct {
	SessionID         string
	ClientID          string
	ClientHost        string
	UniqueSessionID   string
	OriginalSessionID string
	Status            string // raw; unknown values map to STARTING
	Metadata          json.RawMessage
	Environment       json.RawMessage
}

// Register creates a session record. A live prior registration under the
// same id is rejected; a terminal or inactive one is replaced.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.Session, error) {
	if in.SessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalidArgument)
	}
	if in.ClientID == "" {
		return nil, fmt.Errorf("%w: clientId is required", ErrInvalidArgument)
	}
	if !model.IsSafeSessionID(in.SessionID) {
		return nil, fmt.Errorf("%w: sessionId contains unsafe characters", ErrInvalidArgument)
	}

	now := s.now()
	sess := &model.Session{
		SessionID:         in.SessionID,
		ClientID:          in.ClientID,
		ClientHost:        in.ClientHost,
		UniqueSessionID:   in.UniqueSessionID,
		OriginalSessionID: in.OriginalSessionID,
		Status:            model.ParseStatusOrStarting(in.Status),
		Active:            true,
		CreatedAt:         now,
		LastHeartbeat:     now,
		Metadata:          in.Metadata,
		Environment:       in.Environment,
	}
	// The create is guarded in the store so two racing registrations of the
	// same id cannot both win; only a non-live prior record may be replaced.
	var priorStatus model.Status
	err := s.store.Create(ctx, sess, func(existing *model.Session) bool {
		priorStatus = existing.Status
		return !existing.Status.IsLive()
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyExists, in.SessionID, priorStatus)
	}
	if err != nil {
		return nil, err
	}

	metrics.SessionsRegistered.Inc()
	s.logger.Info().
		Str("session_id", sess.SessionID).
		Str("client_id", sess.ClientID).
		Str("status", string(sess.Status)).
		Msg("session registered")
	return sess, nil
}

// Heartbeat refreshes liveness and optionally advances lastChunk. A
// lexicographically older chunk name is ignored, not an error.
func (s *Service) Heartbeat(ctx context.Context, id, lastChunk string) (*model.Session, error) {
	now := s.now()
	sess, err := s.store.UpdateSession(ctx, id, func(sess *model.Session) error {
		sess.TouchHeartbeat(now)
		if lastChunk != "" {
			sess.AdvanceChunk(lastChunk)
		}
		return nil
	})
	if err != nil {
		metrics.Heartbeats.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.Heartbeats.WithLabelValues("ok").Inc()
	return sess, nil
}

// UpdateStatus applies a validated status transition.
func (s *Service) UpdateStatus(ctx context.Context, id, rawStatus string) (*model.Session, error) {
	target, err := model.ParseStatus(rawStatus)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, rawStatus)
	}
	return s.transition(ctx, id, target)
}

func (s *Service) transition(ctx context.Context, id string, target model.Status) (*model.Session, error) {
	var from model.Status
	sess, err := s.store.UpdateSession(ctx, id, func(sess *model.Session) error {
		from = sess.Status
		if !model.CanTransition(sess.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Status, target)
		}
		sess.Status = target
		if target == model.StatusInactive {
			sess.Active = false
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.StatusTransitions.WithLabelValues(string(from), string(target)).Inc()
	s.logger.Info().
		Str("session_id", id).
		Str("old_status", string(from)).
		Str("new_status", string(target)).
		Msg("session status updated")
	return sess, nil
}

// UpdateRecordingPath records the final artifact location.
func (s *Service) UpdateRecordingPath(ctx context.Context, id, path string) (*model.Session, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: recordingPath is required", ErrInvalidArgument)
	}
	return s.store.UpdateSession(ctx, id, func(sess *model.Session) error {
		sess.RecordingPath = path
		return nil
	})
}

// Stop transitions the session to STOPPING. The caller confirms completion
// later via UpdateStatus(COMPLETED).
func (s *Service) Stop(ctx context.Context, id string) (*model.Session, error) {
	return s.transition(ctx, id, model.StatusStopping)
}

// MarkFailed fails a session and removes it from the active index. Used by
// the reaper; already-terminal sessions are left untouched. A status with no
// edge to FAILED (STOPPED ended on its own terms) is retired to INACTIVE
// instead.
func (s *Service) MarkFailed(ctx context.Context, id, reason string) (*model.Session, error) {
	sess, err := s.store.UpdateSession(ctx, id, func(sess *model.Session) error {
		if sess.Status.IsTerminal() {
			return nil
		}
		target := model.StatusFailed
		if !model.CanTransition(sess.Status, target) {
			target = model.StatusInactive
		}
		if sess.Status != target {
			metrics.StatusTransitions.WithLabelValues(string(sess.Status), string(target)).Inc()
			sess.Status = target
		}
		sess.Active = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn().
		Str("session_id", id).
		Str("reason", reason).
		Str("status", string(sess.Status)).
		Msg("session reaped, failover candidate")
	return sess, nil
}

// Deactivate removes the session from the active index but keeps the record
// queryable until TTL. Deactivating an already inactive session succeeds.
func (s *Service) Deactivate(ctx context.Context, id string) (*model.Session, error) {
	return s.store.UpdateSession(ctx, id, func(sess *model.Session) error {
		if sess.Status == model.StatusInactive {
			return nil
		}
		sess.Status = model.StatusInactive
		sess.Active = false
		return nil
	})
}

// Deregister deletes the record and its index entry.
func (s *Service) Deregister(ctx context.Context, id string) error {
	if err := s.store.DeleteByID(ctx, id); err != nil {
		return err
	}
	metrics.SessionsDeregistered.Inc()
	s.logger.Info().Str("session_id", id).Msg("session deregistered")
	return nil
}

// Get loads a single session.
func (s *Service) Get(ctx context.Context, id string) (*model.Session, error) {
	return s.store.FindByID(ctx, id)
}

// ListActive returns all sessions in the active index.
func (s *Service) ListActive(ctx context.Context) ([]*model.Session, error) {
	sessions, err := s.store.FindAllActiveSessions(ctx)
	if err == nil {
		metrics.ActiveSessions.Set(float64(len(sessions)))
	}
	return sessions, err
}

// ListAll returns every stored session.
func (s *Service) ListAll(ctx context.Context) ([]*model.Session, error) {
	return s.store.FindAll(ctx)
}

// ListInactive returns sessions outside the active index.
func (s *Service) ListInactive(ctx context.Context) ([]*model.Session, error) {
	return s.store.FindAllInactiveSessions(ctx)
}

// IsActive reports active-index membership for the id.
func (s *Service) IsActive(ctx context.Context, id string) (bool, error) {
	ids, err := s.store.FindAllActiveSessionIDs(ctx)
	if err != nil {
		return false, err
	}
	for _, candidate := range ids {
		if candidate == id {
			return true, nil
		}
	}
	return false, nil
}

// Cleanup resolves index drift and deletes inactive sessions older than maxAge.
func (s *Service) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if _, err := s.store.CleanupOrphanedSessions(ctx); err != nil {
		return 0, err
	}
	return s.store.CleanupOldInactiveSessionsByTTL(ctx, maxAge)
}
