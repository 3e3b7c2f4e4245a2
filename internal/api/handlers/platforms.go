package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nextconvert/compositor/internal/modules/platform"
)

// PlatformHandler lists output profiles.
type PlatformHandler struct {
	registry *platform.Registry
}

// NewPlatformHandler creates a platform handler.
func NewPlatformHandler(registry *platform.Registry) *PlatformHandler {
	return &PlatformHandler{registry: registry}
}

// List returns every profile.
func (h *PlatformHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Profiles())
}

// Get returns one profile.
func (h *PlatformHandler) Get(w http.ResponseWriter, r *http.Request) {
	profile, err := h.registry.ProfileFor(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
