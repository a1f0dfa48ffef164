package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/bastion/lifecycle"
	"github.com/jmcleod/bastion/storage"
	"github.com/jmcleod/bastion/token"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeInvalidToken is the single response for every token failure:
// unknown, expired, consumed, deleted and revoked tokens all look the
// same from outside. The specific cause is in the server logs only.
func writeInvalidToken(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "invalid token")
}

func (a *API) mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrInvalidToken), errors.Is(err, storage.ErrNotFound):
		writeInvalidToken(w)
	case errors.Is(err, storage.ErrAccountExists):
		writeError(w, http.StatusConflict, "account already exists")
	case errors.Is(err, lifecycle.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "invalid pass code")
	case errors.Is(err, token.ErrServerBusy):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, "server busy")
	default:
		a.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
