// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recfleet/recfleet/internal/domain/session/model"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.Status
		want     bool
	}{
		{model.StatusStarting, model.StatusRecording, true},
		{model.StatusStarting, model.StatusPaused, true},
		{model.StatusStarting, model.StatusStopping, true},
		{model.StatusStarting, model.StatusFailed, true},
		{model.StatusStarting, model.StatusCompleted, false},
		{model.StatusStarting, model.StatusStopped, false},
		{model.StatusRecording, model.StatusPaused, true},
		{model.StatusRecording, model.StatusStarting, false},
		{model.StatusPaused, model.StatusRecording, true},
		{model.StatusStopping, model.StatusStopped, true},
		{model.StatusStopping, model.StatusCompleted, true},
		{model.StatusStopped, model.StatusCompleted, true},
		{model.StatusStopped, model.StatusRecording, false},
		{model.StatusCompleted, model.StatusInactive, true},
		{model.StatusCompleted, model.StatusFailed, false},
		{model.StatusFailed, model.StatusInactive, true},
		{model.StatusFailed, model.StatusRecording, false},
		{model.StatusInactive, model.StatusStarting, false},
		// Self transitions are rejected everywhere.
		{model.StatusRecording, model.StatusRecording, false},
		{model.StatusInactive, model.StatusInactive, false},
	}
	for _, tt := range tests {
		got := model.CanTransition(tt.from, tt.to)
		assert.Equal(t, tt.want, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestParseStatus_Aliases(t *testing.T) {
	tests := []struct {
		raw  string
		want model.Status
	}{
		{"starting", model.StatusStarting},
		{"started", model.StatusStarting},
		{"STARTED", model.StatusStarting},
		{"recording", model.StatusRecording},
		{"  Recording ", model.StatusRecording},
		{"paused", model.StatusPaused},
		{"stopping", model.StatusStopping},
		{"stopped", model.StatusStopping},
		{"completed", model.StatusCompleted},
		{"failed", model.StatusFailed},
		{"inactive", model.StatusInactive},
	}
	for _, tt := range tests {
		got, err := model.ParseStatus(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	_, err := model.ParseStatus("exploded")
	require.Error(t, err)
	_, err = model.ParseStatus("")
	require.Error(t, err)
}

func TestParseStatusOrStarting(t *testing.T) {
	assert.Equal(t, model.StatusRecording, model.ParseStatusOrStarting("recording"))
	assert.Equal(t, model.StatusStarting, model.ParseStatusOrStarting(""))
	assert.Equal(t, model.StatusStarting, model.ParseStatusOrStarting("bogus"))
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, model.StatusCompleted.IsTerminal())
	assert.True(t, model.StatusFailed.IsTerminal())
	assert.False(t, model.StatusStopped.IsTerminal())
	assert.False(t, model.StatusInactive.IsTerminal())

	assert.True(t, model.StatusStarting.IsLive())
	assert.True(t, model.StatusRecording.IsLive())
	assert.True(t, model.StatusPaused.IsLive())
	assert.True(t, model.StatusStopping.IsLive())
	assert.False(t, model.StatusStopped.IsLive())
	assert.False(t, model.StatusCompleted.IsLive())
	assert.False(t, model.StatusInactive.IsLive())
}
