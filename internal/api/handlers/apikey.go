package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/minjaeko/chatrelay/internal/domain/keyvault"
)

// APIKeyHandler manages stored provider credentials.
type APIKeyHandler struct {
	vault keyvault.Service
}

func NewAPIKeyHandler(vault keyvault.Service) *APIKeyHandler {
	return &APIKeyHandler{vault: vault}
}

// Save handles POST /api/v1/api-keys. Provider accepts aliases
// ("claude", "gemini", ...); the canonical name is returned.
func (h *APIKeyHandler) Save(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	var req struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	canonical, err := h.vault.Save(r.Context(), userID, req.Provider, req.APIKey)
	if err != nil {
		switch {
		case errors.Is(err, keyvault.ErrInvalidProvider):
			writeError(w, http.StatusBadRequest, "unsupported provider")
		case errors.Is(err, keyvault.ErrInvalidKeyFormat):
			writeError(w, http.StatusBadRequest, "api key format is invalid for this provider")
		default:
			writeError(w, http.StatusInternalServerError, "failed to save api key")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"provider": canonical})
}

// List handles GET /api/v1/api-keys. Values are masked.
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	infos, err := h.vault.List(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list api keys")
		return
	}
	if infos == nil {
		infos = []keyvault.KeyInfo{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"api_keys": infos})
}

// Delete handles DELETE /api/v1/api-keys/{provider}.
func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	err = h.vault.Delete(r.Context(), userID, chi.URLParam(r, "provider"))
	if err != nil {
		switch {
		case errors.Is(err, keyvault.ErrInvalidProvider):
			writeError(w, http.StatusBadRequest, "unsupported provider")
		case errors.Is(err, keyvault.ErrKeyNotFound):
			writeError(w, http.StatusNotFound, "no api key stored for this provider")
		default:
			writeError(w, http.StatusInternalServerError, "failed to delete api key")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "api key deleted"})
}

// DeleteAll handles DELETE /api/v1/api-keys.
func (h *APIKeyHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	if err := h.vault.DeleteAll(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete api keys")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "all api keys deleted"})
}
