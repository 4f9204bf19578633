package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/minjaeko/chatrelay/internal/domain/prefs"
)

// PrefsHandler manages per-user defaults.
type PrefsHandler struct {
	service prefs.Service
}

func NewPrefsHandler(service prefs.Service) *PrefsHandler {
	return &PrefsHandler{service: service}
}

// Get handles GET /api/v1/user/preferences; creates defaults on first read.
func (h *PrefsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	p, err := h.service.Get(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load preferences")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// Put handles PUT /api/v1/user/preferences.
func (h *PrefsHandler) Put(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	var req struct {
		DefaultSystemPrompt string `json:"default_system_prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.service.Put(r.Context(), userID, req.DefaultSystemPrompt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save preferences")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// Delete handles DELETE /api/v1/user/preferences: resets to defaults.
func (h *PrefsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	if err := h.service.Delete(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset preferences")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "preferences reset"})
}
