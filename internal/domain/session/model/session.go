// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package model defines the session record and its lifecycle state machine.
package model

import (
	"encoding/json"
	"regexp"
	"time"
)

// chunkNamePattern matches the segmenter's output names (0001.mp4, 0002.mp4, ...).
// Lexicographic order on these names equals temporal order.
var chunkNamePattern = regexp.MustCompile(`^[0-9]{4}\.mp4$`)

// IsValidChunkName reports whether name is a well-formed chunk filename.
func IsValidChunkName(name string) bool {
	return chunkNamePattern.MatchString(name)
}

// safeSessionIDPattern constrains ids to filesystem- and key-safe characters.
var safeSessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// IsSafeSessionID reports whether the id can be embedded in paths and keys.
func IsSafeSessionID(id string) bool {
	return safeSessionIDPattern.MatchString(id)
}

// Session is the store source of truth for one tracked recording.
type Session struct {
	SessionID         string `json:"sessionId"`
	ClientID          string `json:"clientId"`
	ClientHost        string `json:"clientHost,omitempty"`
	UniqueSessionID   string `json:"uniqueSessionId,omitempty"`
	OriginalSessionID string `json:"originalSessionId,omitempty"`

	Status Status `json:"status"`
	Active bool   `json:"active"`

	CreatedAt     time.Time `json:"createdAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`

	LastChunk     string `json:"lastChunk,omitempty"`
	RecordingPath string `json:"recordingPath,omitempty"`

	// Opaque capture-side context; stored verbatim, never interpreted.
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Environment json.RawMessage `json:"environment,omitempty"`
}

// TouchHeartbeat advances LastHeartbeat, preserving monotonicity when two
// heartbeats race: the stored timestamp is never moved backwards.
func (s *Session) TouchHeartbeat(now time.Time) {
	if now.After(s.LastHeartbeat) {
		s.LastHeartbeat = now
	}
}

// AdvanceChunk records a newer completed chunk. Lexicographically smaller
// names than the stored one are ignored, not rejected.
func (s *Session) AdvanceChunk(name string) bool {
	if !IsValidChunkName(name) {
		return false
	}
	if s.LastChunk != "" && name <= s.LastChunk {
		return false
	}
	s.LastChunk = name
	return true
}
