package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/minjaeko/chatrelay/internal/domain/keyvault"
	"github.com/minjaeko/chatrelay/internal/domain/relay"
	"github.com/minjaeko/chatrelay/internal/infra/llm"
)

// maxUploadBytes bounds multipart request memory usage.
const maxUploadBytes = 32 << 20

// RelayService is the slice of the relay orchestrator the handler needs.
type RelayService interface {
	Stream(ctx context.Context, input relay.Input) <-chan relay.Event
	GenerateOnce(ctx context.Context, userID string, input relay.Input) (*llm.Response, error)
	GenerateMulti(ctx context.Context, userID string, input relay.Input) ([]*llm.Response, error)
	AvailableProviders(ctx context.Context, userID string) ([]string, error)
}

// AIHandler exposes the generation endpoints, including the SSE chat
// stream.
type AIHandler struct {
	relay RelayService
}

func NewAIHandler(relay RelayService) *AIHandler {
	return &AIHandler{relay: relay}
}

// generateRequest is the JSON body shared by the generation endpoints.
// The same fields arrive as form values on multipart requests.
type generateRequest struct {
	Message        string  `json:"message"`
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	SystemPrompt   string  `json:"system_prompt"`
	IncludeHistory *bool   `json:"include_history"`
}

// Chat handles POST /api/v1/ai/chat/{chat_id}: the streaming relay
// endpoint. Accepts JSON or multipart (for image attachments) and
// responds with SSE. Parse failures still produce a well-formed
// single-error-event stream so clients need only one code path.
func (h *AIHandler) Chat(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set(headerContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	bw := bufio.NewWriter(w)
	writeEvent := func(e relay.Event) {
		b, _ := json.Marshal(e)
		if _, err := fmt.Fprintf(bw, "data: %s\n\n", b); err != nil {
			return
		}
		_ = bw.Flush()
		flusher.Flush()
	}

	input, err := h.buildChatInput(r)
	if err != nil {
		writeEvent(relay.Event{Type: relay.EventError, Error: err.Error()})
		return
	}

	for event := range h.relay.Stream(r.Context(), input) {
		writeEvent(event)
	}
}

func (h *AIHandler) buildChatInput(r *http.Request) (relay.Input, error) {
	userID, err := getUserID(r.Context())
	if err != nil {
		return relay.Input{}, errors.New("missing user context")
	}

	input := relay.Input{
		UserID:         userID,
		ChatID:         chi.URLParam(r, "chat_id"),
		IncludeHistory: true,
	}

	if strings.HasPrefix(r.Header.Get(headerContentType), "multipart/form-data") {
		if err := parseMultipartInput(r, &input); err != nil {
			return relay.Input{}, err
		}
	} else {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return relay.Input{}, errors.New("invalid request body")
		}
		applyRequest(&input, req)
	}

	// A turn may be image-only; it must carry something, though.
	if input.Message == "" && len(input.Images) == 0 {
		return relay.Input{}, errors.New("message or images required")
	}
	if input.Provider == "" {
		return relay.Input{}, errors.New("provider is required")
	}

	return input, nil
}

func applyRequest(input *relay.Input, req generateRequest) {
	input.Message = req.Message
	input.Provider = req.Provider
	input.Model = req.Model
	input.MaxTokens = req.MaxTokens
	input.Temperature = req.Temperature
	input.SystemPrompt = req.SystemPrompt
	if req.IncludeHistory != nil {
		input.IncludeHistory = *req.IncludeHistory
	}
}

func parseMultipartInput(r *http.Request, input *relay.Input) error {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return errors.New("invalid multipart body")
	}

	input.Message = r.FormValue("message")
	input.Provider = r.FormValue("provider")
	input.Model = r.FormValue("model")
	input.SystemPrompt = r.FormValue("system_prompt")
	if v := r.FormValue("max_tokens"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			input.MaxTokens = n
		}
	}
	if v := r.FormValue("temperature"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			input.Temperature = f
		}
	}
	if v := r.FormValue("include_history"); v != "" {
		input.IncludeHistory = v != "false" && v != "0"
	}

	if r.MultipartForm == nil {
		return nil
	}
	for _, header := range r.MultipartForm.File["images"] {
		f, err := header.Open()
		if err != nil {
			return errors.New("failed to read image upload")
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return errors.New("failed to read image upload")
		}

		input.Images = append(input.Images, relay.Image{
			Filename:    header.Filename,
			ContentType: header.Header.Get(headerContentType),
			Data:        data,
		})
	}

	return nil
}

// Generate handles POST /api/v1/ai/generate: one-shot, non-streaming,
// nothing persisted.
func (h *AIHandler) Generate(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" || req.Provider == "" {
		writeError(w, http.StatusBadRequest, "message and provider are required")
		return
	}

	input := relay.Input{}
	applyRequest(&input, req)

	resp, err := h.relay.GenerateOnce(r.Context(), userID, input)
	if err != nil {
		writeGenerateError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GenerateMulti handles POST /api/v1/ai/generate-multi: fans one prompt
// out to every provider the user holds a key for. Only the complete
// absence of keys is a client error; individual provider failures are
// simply missing from the results.
func (h *AIHandler) GenerateMulti(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	input := relay.Input{}
	applyRequest(&input, req)

	responses, err := h.relay.GenerateMulti(r.Context(), userID, input)
	if err != nil {
		if errors.Is(err, keyvault.ErrKeyNotFound) {
			writeError(w, http.StatusBadRequest, "no api keys configured")
			return
		}
		writeError(w, http.StatusInternalServerError, "generation failed")
		return
	}

	results := make(map[string]*llm.Response, len(responses))
	for _, resp := range responses {
		results[resp.Provider] = resp
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Providers handles GET /api/v1/ai/providers: which providers the user
// can use right now, based on stored keys and their format.
func (h *AIHandler) Providers(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	providers, err := h.relay.AvailableProviders(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list providers")
		return
	}
	if providers == nil {
		providers = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

// Health handles GET /api/v1/ai/health.
func (h *AIHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeGenerateError(w http.ResponseWriter, err error) {
	var pe *llm.ProviderError
	switch {
	case errors.Is(err, llm.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, "unknown provider")
	case errors.Is(err, keyvault.ErrKeyNotFound), errors.Is(err, llm.ErrAPIKeyMissing):
		writeError(w, http.StatusBadRequest, "no api key configured for this provider")
	case errors.As(err, &pe):
		writeError(w, http.StatusBadGateway, pe.Error())
	default:
		writeError(w, http.StatusInternalServerError, "generation failed")
	}
}
