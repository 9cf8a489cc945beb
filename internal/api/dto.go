// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"time"

	"github.com/recfleet/recfleet/internal/domain/session/model"
)

// registerRequest is the POST /api/sessions body.
type registerRequest struct {
	SessionID         string          `json:"sessionId"`
	ClientID          string          `json:"clientId"`
	ClientHost        string          `json:"clientHost,omitempty"`
	UniqueSessionID   string          `json:"uniqueSessionId,omitempty"`
	OriginalSessionID string          `json:"originalSessionId,omitempty"`
	Status            string          `json:"status,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	Environment       json.RawMessage `json:"environment,omitempty"`
	RecordingJSON     json.RawMessage `json:"recordingJson,omitempty"`
}

type heartbeatRequest struct {
	LastChunk string `json:"lastChunk,omitempty"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type recordingPathRequest struct {
	RecordingPath string `json:"recordingPath"`
}

type sessionListResponse struct {
	Sessions  []*model.Session `json:"sessions"`
	Count     int              `json:"count"`
	Timestamp time.Time        `json:"timestamp"`
	Type      string           `json:"type"`
}

type sessionListAllResponse struct {
	Sessions      []*model.Session `json:"sessions"`
	TotalCount    int              `json:"totalCount"`
	ActiveCount   int              `json:"activeCount"`
	InactiveCount int              `json:"inactiveCount"`
	Timestamp     time.Time        `json:"timestamp"`
	Type          string           `json:"type"`
}

type activeResponse struct {
	SessionID string    `json:"sessionId"`
	Active    bool      `json:"active"`
	Timestamp time.Time `json:"timestamp"`
}

type messageResponse struct {
	Message   string    `json:"message"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`

	LastChunk     string `json:"lastChunk,omitempty"`
	Status        string `json:"status,omitempty"`
	RecordingPath string `json:"recordingPath,omitempty"`
}

type cleanupResponse struct {
	Message         string    `json:"message"`
	RemovedSessions int       `json:"removedSessions"`
	Timestamp       time.Time `json:"timestamp"`
}

type healthResponse struct {
	Status           string    `json:"status"`
	ActiveSessions   int       `json:"activeSessions"`
	TotalSessions    int       `json:"totalSessions"`
	InactiveSessions int       `json:"inactiveSessions"`
	Timestamp        time.Time `json:"timestamp"`
	Service          string    `json:"service"`
}
