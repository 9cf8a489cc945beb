// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package controllerapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recfleet/recfleet/internal/recorder/controllerapi"
)

type recorded struct {
	method string
	path   string
	body   string
	user   string
	pass   string
}

func newTestController(t *testing.T, status int) (*controllerapi.Client, *recorded) {
	t.Helper()
	last := &recorded{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		last.method = r.Method
		last.path = r.URL.Path
		last.body = string(data)
		last.user, last.pass, _ = r.BasicAuth()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	t.Cleanup(ts.Close)
	return controllerapi.New(ts.URL, "recorder", "swordfish", time.Second), last
}

func TestRegister(t *testing.T) {
	client, last := newTestController(t, http.StatusCreated)

	err := client.Register(context.Background(), controllerapi.RegisterInput{
		SessionID: "rec-1",
		ClientID:  "client-1",
		Status:    "starting",
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, last.method)
	assert.Equal(t, "/api/sessions", last.path)
	assert.Equal(t, "recorder", last.user)
	assert.Equal(t, "swordfish", last.pass)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(last.body), &body))
	assert.Equal(t, "rec-1", body["sessionId"])
	assert.Equal(t, "starting", body["status"])
}

func TestHeartbeat(t *testing.T) {
	client, last := newTestController(t, http.StatusOK)
	ctx := context.Background()

	require.NoError(t, client.Heartbeat(ctx, "rec-1", "0003.mp4"))
	assert.Equal(t, http.MethodPut, last.method)
	assert.Equal(t, "/api/sessions/rec-1/heartbeat", last.path)
	assert.Contains(t, last.body, "0003.mp4")

	// Liveness-only heartbeat sends no body.
	require.NoError(t, client.Heartbeat(ctx, "rec-1", ""))
	assert.Empty(t, last.body)
}

func TestStatusAndPathUpdates(t *testing.T) {
	client, last := newTestController(t, http.StatusOK)
	ctx := context.Background()

	require.NoError(t, client.UpdateStatus(ctx, "rec-1", "recording"))
	assert.Equal(t, "/api/sessions/rec-1/status", last.path)
	assert.Contains(t, last.body, `"recording"`)

	require.NoError(t, client.UpdateRecordingPath(ctx, "rec-1", "/recordings/rec-1/video.mp4"))
	assert.Equal(t, "/api/sessions/rec-1/recording-path", last.path)
	assert.Contains(t, last.body, "/recordings/rec-1/video.mp4")
}

func TestDeregister(t *testing.T) {
	client, last := newTestController(t, http.StatusOK)

	require.NoError(t, client.Deregister(context.Background(), "rec-1"))
	assert.Equal(t, http.MethodDelete, last.method)
	assert.Equal(t, "/api/sessions/rec-1", last.path)
}

func TestUnexpectedStatusIsError(t *testing.T) {
	client, _ := newTestController(t, http.StatusConflict)

	err := client.Register(context.Background(), controllerapi.RegisterInput{
		SessionID: "rec-1",
		ClientID:  "client-1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "ok", "error carries the response body excerpt")
}
