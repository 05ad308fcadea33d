package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"lumavet.pet/lumavet/internal/accounts"
	"lumavet.pet/lumavet/internal/authz"
	"lumavet.pet/lumavet/internal/store"
	"lumavet.pet/lumavet/internal/validate"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors onto HTTP statuses
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if ve, ok := validate.As(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  ErrValidation,
			"fields": ve.Fields,
		})
		return
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrNotFound)
	case errors.Is(err, authz.ErrForbidden):
		writeError(w, http.StatusForbidden, ErrForbidden)
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, ErrConflict)
	case errors.Is(err, accounts.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, ErrInvalidCredentials)
	case errors.Is(err, authz.ErrInvalidToken), errors.Is(err, authz.ErrTokenExpired), errors.Is(err, authz.ErrTokenUsed):
		writeError(w, http.StatusBadRequest, ErrInvalidActivation)
	default:
		log.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg(LogRequestFailed)
		writeError(w, http.StatusInternalServerError, ErrInternal)
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v)
}
