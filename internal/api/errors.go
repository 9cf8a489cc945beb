// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/recfleet/recfleet/internal/domain/session/service"
	"github.com/recfleet/recfleet/internal/log"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a service error kind to its HTTP status and the
// {error: "<message>"} body shape.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	msg := "internal server error"

	switch {
	case errors.Is(err, service.ErrNotFound):
		code = http.StatusNotFound
		msg = err.Error()
	case errors.Is(err, service.ErrAlreadyExists):
		code = http.StatusConflict
		msg = err.Error()
	case errors.Is(err, service.ErrConflict):
		code = http.StatusConflict
		msg = err.Error()
	case errors.Is(err, service.ErrInvalidArgument),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidTransition):
		code = http.StatusBadRequest
		msg = err.Error()
	default:
		// Unexpected faults return 500 without body details.
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}

	writeJSON(w, code, map[string]string{"error": msg})
}

// writeBadRequest reports a malformed request body.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// writeUnauthorized writes a 401 with a basic-auth challenge.
func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="recfleet"`)
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}
