// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recfleet/recfleet/internal/api"
	"github.com/recfleet/recfleet/internal/domain/session/service"
	"github.com/recfleet/recfleet/internal/domain/session/store"
)

const (
	testUser     = "recorder"
	testPassword = "swordfish"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := store.NewWithClient(client, time.Hour, zerolog.Nop())
	svc := service.New(st, zerolog.Nop())
	return api.NewServer(svc, api.Config{
		APIUser:     testUser,
		APIPassword: testPassword,
	}).Routes()
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.SetBasicAuth(testUser, testPassword)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func registerSession(t *testing.T, h http.Handler, id string) {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/api/sessions",
		`{"sessionId":"`+id+`","clientId":"client-1"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAuthRequired(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/api/sessions", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.SetBasicAuth(testUser, "wrong")
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestUnauthenticatedEndpoints(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/sessions/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "UP", body["status"])
	assert.Equal(t, "session-controller", body["service"])

	rec = doRequest(t, h, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegister(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/sessions",
		`{"sessionId":"rec-1","clientId":"client-1","status":"starting","metadata":{"show":"news"}}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "rec-1", body["sessionId"])
	assert.Equal(t, "STARTING", body["status"])
	assert.Equal(t, true, body["active"])
	// clientHost falls back to the connection peer.
	assert.NotEmpty(t, body["clientHost"])

	// Live duplicate registration conflicts.
	rec = doRequest(t, h, http.MethodPost, "/api/sessions",
		`{"sessionId":"rec-1","clientId":"client-2"}`, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegister_BadRequests(t *testing.T) {
	h := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/sessions", `{"clientId":"c"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/sessions", `{"sessionId":`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/sessions",
		`{"sessionId":"../escape","clientId":"c"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHeartbeat(t *testing.T) {
	h := newTestServer(t)
	registerSession(t, h, "rec-1")

	rec := doRequest(t, h, http.MethodPut, "/api/sessions/rec-1/heartbeat",
		`{"lastChunk":"0002.mp4"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "0002.mp4", body["lastChunk"])

	// Empty body is a liveness-only heartbeat.
	rec = doRequest(t, h, http.MethodPut, "/api/sessions/rec-1/heartbeat", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Regressing chunk names are accepted and ignored.
	rec = doRequest(t, h, http.MethodPut, "/api/sessions/rec-1/heartbeat",
		`{"lastChunk":"0001.mp4"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "0002.mp4", body["lastChunk"])

	rec = doRequest(t, h, http.MethodPut, "/api/sessions/ghost/heartbeat", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusTransitions(t *testing.T) {
	h := newTestServer(t)
	registerSession(t, h, "rec-1")

	rec := doRequest(t, h, http.MethodPut, "/api/sessions/rec-1/status",
		`{"status":"recording"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RECORDING", decode(t, rec)["status"])

	// STARTING-family alias.
	rec = doRequest(t, h, http.MethodPut, "/api/sessions/rec-1/status",
		`{"status":"stopped"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "STOPPING", decode(t, rec)["status"])

	// Illegal transition.
	rec = doRequest(t, h, http.MethodPut, "/api/sessions/rec-1/status",
		`{"status":"recording"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown status value.
	rec = doRequest(t, h, http.MethodPut, "/api/sessions/rec-1/status",
		`{"status":"imploded"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordingPath(t *testing.T) {
	h := newTestServer(t)
	registerSession(t, h, "rec-1")

	rec := doRequest(t, h, http.MethodPut, "/api/sessions/rec-1/recording-path",
		`{"recordingPath":"/recordings/rec-1/video.mp4"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/recordings/rec-1/video.mp4", decode(t, rec)["recordingPath"])

	rec = doRequest(t, h, http.MethodPut, "/api/sessions/rec-1/recording-path",
		`{"recordingPath":""}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStopDeactivateDeregister(t *testing.T) {
	h := newTestServer(t)
	registerSession(t, h, "rec-1")

	rec := doRequest(t, h, http.MethodPut, "/api/sessions/rec-1/stop", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodPut, "/api/sessions/rec-1/deactivate", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "INACTIVE", decode(t, rec)["status"])

	rec = doRequest(t, h, http.MethodGet, "/api/sessions/rec-1/active", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["active"])

	rec = doRequest(t, h, http.MethodDelete, "/api/sessions/rec-1", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/sessions/rec-1", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, h, http.MethodDelete, "/api/sessions/rec-1", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListings(t *testing.T) {
	h := newTestServer(t)
	registerSession(t, h, "rec-1")
	registerSession(t, h, "rec-2")

	rec := doRequest(t, h, http.MethodPut, "/api/sessions/rec-2/deactivate", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/sessions", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, "active", body["type"])

	rec = doRequest(t, h, http.MethodGet, "/api/sessions/all", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, float64(2), body["totalCount"])
	assert.Equal(t, float64(1), body["activeCount"])
	assert.Equal(t, float64(1), body["inactiveCount"])

	rec = doRequest(t, h, http.MethodGet, "/api/sessions/inactive", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, "inactive", body["type"])
}

func TestCleanup(t *testing.T) {
	h := newTestServer(t)
	registerSession(t, h, "rec-1")

	rec := doRequest(t, h, http.MethodPost, "/api/sessions/cleanup", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "cleanup completed", body["message"])
	assert.Equal(t, float64(0), body["removedSessions"])
}

func TestRequestIDPropagated(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
