package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/minjaeko/chatrelay/internal/domain/chat"
)

// ChatHandler manages conversations and their message history.
type ChatHandler struct {
	service chat.Service
}

func NewChatHandler(service chat.Service) *ChatHandler {
	return &ChatHandler{service: service}
}

// ChatRequest is the body for create and update. All fields optional;
// zero values take the chat defaults on create and leave fields
// untouched on update.
type ChatRequest struct {
	Title        *string  `json:"title"`
	SystemPrompt *string  `json:"system_prompt"`
	Model        *string  `json:"model"`
	Temperature  *float64 `json:"temperature"`
	MaxTokens    *int     `json:"max_tokens"`
}

// Create handles POST /api/v1/chats.
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	var req ChatRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	input := chat.CreateInput{}
	if req.Title != nil {
		input.Title = *req.Title
	}
	if req.SystemPrompt != nil {
		input.SystemPrompt = *req.SystemPrompt
	}
	if req.Model != nil {
		input.Model = *req.Model
	}
	if req.Temperature != nil {
		input.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		input.MaxTokens = *req.MaxTokens
	}

	created, err := h.service.Create(r.Context(), userID, input)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create chat")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// List handles GET /api/v1/chats, most recently active first.
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	chats, err := h.service.List(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	if chats == nil {
		chats = []chat.Chat{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

// Get handles GET /api/v1/chats/{id}.
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	c, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeChatError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// Update handles PUT /api/v1/chats/{id}.
func (h *ChatHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), chat.UpdateInput{
		Title:        req.Title,
		SystemPrompt: req.SystemPrompt,
		Model:        req.Model,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	})
	if err != nil {
		writeChatError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/v1/chats/{id}.
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeChatError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "chat deleted"})
}

// Messages handles GET /api/v1/chats/{id}/messages.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	messages, err := h.service.Messages(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeChatError(w, err)
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// AddMessage handles POST /api/v1/chats/{id}/messages: appends a message
// without triggering generation. Used for imports and manual edits.
func (h *ChatHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	var req struct {
		Sender  string `json:"sender"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Sender != chat.SenderUser && req.Sender != chat.SenderAI {
		writeError(w, http.StatusBadRequest, "sender must be 'user' or 'ai'")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	m, err := h.service.Append(r.Context(), userID, chi.URLParam(r, "id"), chat.AppendInput{
		Sender:  req.Sender,
		Content: req.Content,
	})
	if err != nil {
		writeChatError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, m)
}

// ClearMessages handles DELETE /api/v1/chats/{id}/messages.
func (h *ChatHandler) ClearMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	if err := h.service.ClearMessages(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeChatError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "messages cleared"})
}

func writeChatError(w http.ResponseWriter, err error) {
	if errors.Is(err, chat.ErrChatNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "chat operation failed")
}
