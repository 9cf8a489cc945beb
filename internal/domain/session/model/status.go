// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"fmt"
	"strings"
)

// Status is the controller-visible lifecycle of a recording session.
type Status string

const (
	StatusStarting  Status = "STARTING"
	StatusRecording Status = "RECORDING"
	StatusPaused    Status = "PAUSED"
	StatusStopping  Status = "STOPPING"
	StatusStopped   Status = "STOPPED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusInactive  Status = "INACTIVE"
)

// IsTerminal returns true if the status is final except via explicit delete.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsLive returns true while a recorder is expected to be working on the session.
func (s Status) IsLive() bool {
	switch s {
	case StatusStarting, StatusRecording, StatusPaused, StatusStopping:
		return true
	}
	return false
}

// transitions encodes the allowed status state machine.
var transitions = map[Status]map[Status]bool{
	StatusStarting: {
		StatusRecording: true, StatusPaused: true, StatusStopping: true,
		StatusFailed: true, StatusInactive: true,
	},
	StatusRecording: {
		StatusPaused: true, StatusStopping: true,
		StatusFailed: true, StatusInactive: true,
	},
	StatusPaused: {
		StatusRecording: true, StatusStopping: true,
		StatusFailed: true, StatusInactive: true,
	},
	StatusStopping: {
		StatusStopped: true, StatusCompleted: true,
		StatusFailed: true, StatusInactive: true,
	},
	StatusStopped: {
		StatusCompleted: true, StatusInactive: true,
	},
	StatusCompleted: {
		StatusInactive: true,
	},
	StatusFailed: {
		StatusInactive: true,
	},
	StatusInactive: {},
}

// CanTransition reports whether the from→to pair is allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// ParseStatus maps a case-insensitive status name or alias to a Status.
// Returns an error for unknown values.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "started", "starting":
		return StatusStarting, nil
	case "recording":
		return StatusRecording, nil
	case "paused":
		return StatusPaused, nil
	case "stopping", "stopped":
		return StatusStopping, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	case "inactive":
		return StatusInactive, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// ParseStatusOrStarting maps unknown or empty values to STARTING. Used at
// registration time only; elsewhere unknown values are rejected.
func ParseStatusOrStarting(raw string) Status {
	s, err := ParseStatus(raw)
	if err != nil {
		return StatusStarting
	}
	return s
}
