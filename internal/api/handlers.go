// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/recfleet/recfleet/internal/domain/session/service"
	"github.com/recfleet/recfleet/internal/log"
)

// handleRegister implements POST /api/sessions.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed JSON body")
		return
	}

	clientHost := req.ClientHost
	if clientHost == "" {
		clientHost = clientIP(r)
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = req.RecordingJSON
	}

	sess, err := s.svc.Register(r.Context(), service.RegisterInput{
		SessionID:         req.SessionID,
		ClientID:          req.ClientID,
		ClientHost:        clientHost,
		UniqueSessionID:   req.UniqueSessionID,
		OriginalSessionID: req.OriginalSessionID,
		Status:            req.Status,
		Metadata:          metadata,
		Environment:       req.Environment,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// handleListActive implements GET /api/sessions.
func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.ListActive(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionListResponse{
		Sessions:  sessions,
		Count:     len(sessions),
		Timestamp: time.Now(),
		Type:      "active",
	})
}

// handleListAll implements GET /api/sessions/all.
func (s *Server) handleListAll(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.ListAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	active := 0
	for _, sess := range sessions {
		if sess.Active {
			active++
		}
	}
	writeJSON(w, http.StatusOK, sessionListAllResponse{
		Sessions:      sessions,
		TotalCount:    len(sessions),
		ActiveCount:   active,
		InactiveCount: len(sessions) - active,
		Timestamp:     time.Now(),
		Type:          "all",
	})
}

// handleListInactive implements GET /api/sessions/inactive.
func (s *Server) handleListInactive(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.ListInactive(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionListResponse{
		Sessions:  sessions,
		Count:     len(sessions),
		Timestamp: time.Now(),
		Type:      "inactive",
	})
}

// handleGet implements GET /api/sessions/{id}.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleIsActive implements GET /api/sessions/{id}/active.
func (s *Server) handleIsActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	active, err := s.svc.IsActive(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activeResponse{
		SessionID: id,
		Active:    active,
		Timestamp: time.Now(),
	})
}

// handleHeartbeat implements PUT /api/sessions/{id}/heartbeat. An empty body
// is a liveness-only heartbeat.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "malformed JSON body")
		return
	}

	sess, err := s.svc.Heartbeat(r.Context(), id, req.LastChunk)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Message:   "heartbeat recorded",
		SessionID: id,
		Timestamp: time.Now(),
		LastChunk: sess.LastChunk,
	})
}

// handleStatus implements PUT /api/sessions/{id}/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed JSON body")
		return
	}

	sess, err := s.svc.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Message:   "status updated",
		SessionID: id,
		Status:    string(sess.Status),
		Timestamp: time.Now(),
	})
}

// handleRecordingPath implements PUT /api/sessions/{id}/recording-path.
func (s *Server) handleRecordingPath(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req recordingPathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed JSON body")
		return
	}

	sess, err := s.svc.UpdateRecordingPath(r.Context(), id, req.RecordingPath)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Message:       "recording path updated",
		SessionID:     id,
		RecordingPath: sess.RecordingPath,
		Timestamp:     time.Now(),
	})
}

// handleStop implements PUT /api/sessions/{id}/stop.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.svc.Stop(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Message:   "session stopping",
		SessionID: id,
		Timestamp: time.Now(),
	})
}

// handleDeactivate implements PUT /api/sessions/{id}/deactivate.
func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.svc.Deactivate(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Message:   "session deactivated",
		SessionID: id,
		Status:    string(sess.Status),
		Timestamp: time.Now(),
	})
}

// handleDeregister implements DELETE /api/sessions/{id}.
func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Deregister(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Message:   "session deregistered",
		SessionID: id,
		Timestamp: time.Now(),
	})
}

// handleCleanup implements POST /api/sessions/cleanup.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := s.svc.Cleanup(r.Context(), s.cfg.MaxSessionAge)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{
		Message:         "cleanup completed",
		RemovedSessions: removed,
		Timestamp:       time.Now(),
	})
}

// handleHealth implements GET /api/sessions/health (unauthenticated).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	all, err := s.svc.ListAll(r.Context())
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("health check store scan failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store unavailable"})
		return
	}
	active := 0
	for _, sess := range all {
		if sess.Active {
			active++
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "UP",
		ActiveSessions:   active,
		TotalSessions:    len(all),
		InactiveSessions: len(all) - active,
		Timestamp:        time.Now(),
		Service:          "session-controller",
	})
}

// handleLiveness implements GET /healthz for container probes.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
