// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package controllerapi is the recorder-side client for the controller's
// /api/sessions surface. Every call carries an explicit timeout; callers
// decide whether failures are fatal (they almost never are).
package controllerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/recfleet/recfleet/internal/platform/httpx"
)

// Client talks to one controller with shared basic-auth credentials.
type Client struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
}

// New creates a client. timeout bounds every request (default 10s).
func New(baseURL, user, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		user:     user,
		password: password,
		http:     httpx.NewClient(timeout),
	}
}

// RegisterInput mirrors the POST /api/sessions body.
type RegisterInput struct {
	SessionID   string          `json:"sessionId"`
	ClientID    string          `json:"clientId"`
	ClientHost  string          `json:"clientHost,omitempty"`
	Status      string          `json:"status,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Environment json.RawMessage `json:"environment,omitempty"`
}

// Register announces the session to the controller.
func (c *Client) Register(ctx context.Context, in RegisterInput) error {
	return c.do(ctx, http.MethodPost, "/api/sessions", in, http.StatusCreated)
}

// Heartbeat reports liveness; lastChunk may be empty.
func (c *Client) Heartbeat(ctx context.Context, sessionID, lastChunk string) error {
	var body any
	if lastChunk != "" {
		body = map[string]string{"lastChunk": lastChunk}
	}
	path := fmt.Sprintf("/api/sessions/%s/heartbeat", sessionID)
	return c.do(ctx, http.MethodPut, path, body, http.StatusOK)
}

// UpdateStatus pushes a status transition.
func (c *Client) UpdateStatus(ctx context.Context, sessionID, status string) error {
	path := fmt.Sprintf("/api/sessions/%s/status", sessionID)
	return c.do(ctx, http.MethodPut, path, map[string]string{"status": status}, http.StatusOK)
}

// UpdateRecordingPath records the final artifact location.
func (c *Client) UpdateRecordingPath(ctx context.Context, sessionID, path string) error {
	p := fmt.Sprintf("/api/sessions/%s/recording-path", sessionID)
	return c.do(ctx, http.MethodPut, p, map[string]string{"recordingPath": path}, http.StatusOK)
}

// Deregister deletes the session record.
func (c *Client) Deregister(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/api/sessions/%s", sessionID)
	return c.do(ctx, http.MethodDelete, path, nil, http.StatusOK)
}

func (c *Client) do(ctx context.Context, method, path string, body any, want int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.user, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
