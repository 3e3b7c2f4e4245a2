package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nextconvert/compositor/internal/shared/apperr"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind,omitempty"`
	Index *int        `json:"index,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), ErrorResponse{Error: err.Error(), Kind: apperr.KindOf(err)})
}
