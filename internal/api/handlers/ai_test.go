package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/minjaeko/chatrelay/internal/api/ctxkeys"
	"github.com/minjaeko/chatrelay/internal/domain/keyvault"
	"github.com/minjaeko/chatrelay/internal/domain/relay"
	"github.com/minjaeko/chatrelay/internal/infra/llm"
)

type stubRelay struct {
	events    []relay.Event
	gotInput  relay.Input
	once      *llm.Response
	multi     []*llm.Response
	err       error
	providers []string
}

func (s *stubRelay) Stream(_ context.Context, input relay.Input) <-chan relay.Event {
	s.gotInput = input
	ch := make(chan relay.Event, len(s.events))
	for _, e := range s.events {
		ch <- e
	}
	close(ch)
	return ch
}

func (s *stubRelay) GenerateOnce(_ context.Context, _ string, input relay.Input) (*llm.Response, error) {
	s.gotInput = input
	return s.once, s.err
}

func (s *stubRelay) GenerateMulti(_ context.Context, _ string, input relay.Input) ([]*llm.Response, error) {
	s.gotInput = input
	return s.multi, s.err
}

func (s *stubRelay) AvailableProviders(context.Context, string) ([]string, error) {
	return s.providers, s.err
}

// newAIRequest builds an authenticated request with chat_id in the
// chi route context, as the router would.
func newAIRequest(method, target string, body *bytes.Buffer, chatID string) *http.Request {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)

	ctx := ctxkeys.WithValue(req.Context(), ctxkeys.UserID, "minjae")
	if chatID != "" {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("chat_id", chatID)
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

func decodeEvents(t *testing.T, body string) []relay.Event {
	t.Helper()
	var events []relay.Event
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e relay.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		events = append(events, e)
	}
	return events
}

func TestAIHandler_Chat_StreamsEvents(t *testing.T) {
	stub := &stubRelay{events: []relay.Event{
		{Type: relay.EventStart, Provider: "openai"},
		{Type: relay.EventChunk, Content: "Hel"},
		{Type: relay.EventChunk, Content: "lo"},
		{Type: relay.EventEnd, FullContent: "Hello"},
	}}
	h := NewAIHandler(stub)

	body := bytes.NewBufferString(`{"message":"hi","provider":"openai","max_tokens":512}`)
	req := newAIRequest(http.MethodPost, "/api/v1/ai/chat/chat-1", body, "chat-1")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Chat(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q", cc)
	}

	events := decodeEvents(t, w.Body.String())
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(events), events)
	}
	if events[3].Type != relay.EventEnd || events[3].FullContent != "Hello" {
		t.Errorf("terminal event = %+v", events[3])
	}

	if stub.gotInput.UserID != "minjae" || stub.gotInput.ChatID != "chat-1" {
		t.Errorf("input = %+v", stub.gotInput)
	}
	if stub.gotInput.MaxTokens != 512 {
		t.Errorf("MaxTokens = %d", stub.gotInput.MaxTokens)
	}
	if !stub.gotInput.IncludeHistory {
		t.Error("IncludeHistory should default to true")
	}
}

func TestAIHandler_Chat_InvalidBodyEmitsErrorEvent(t *testing.T) {
	h := NewAIHandler(&stubRelay{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"message":`},
		{"no message or images", `{"provider":"openai"}`},
		{"missing provider", `{"message":"hi"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newAIRequest(http.MethodPost, "/api/v1/ai/chat/chat-1", bytes.NewBufferString(tt.body), "chat-1")
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			h.Chat(w, req)

			events := decodeEvents(t, w.Body.String())
			if len(events) != 1 || events[0].Type != relay.EventError {
				t.Fatalf("events = %+v, want a single error event", events)
			}
			// The failure text travels under the "error" key.
			if events[0].Error == "" {
				t.Errorf("event = %+v, want a non-empty error", events[0])
			}
			if !strings.Contains(w.Body.String(), `"error":`) {
				t.Errorf("body = %q, want an error key", w.Body.String())
			}
		})
	}
}

// An image-only turn is valid: the message field may be empty when the
// request carries at least one image.
func TestAIHandler_Chat_ImageOnlyTurn(t *testing.T) {
	stub := &stubRelay{events: []relay.Event{{Type: relay.EventEnd}}}
	h := NewAIHandler(stub)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("provider", "openai")
	part, err := mw.CreateFormFile("images", "receipt.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte("png-bytes")) //nolint:errcheck
	mw.Close()                      //nolint:errcheck

	req := newAIRequest(http.MethodPost, "/api/v1/ai/chat/chat-1", &buf, "chat-1")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()

	h.Chat(w, req)

	events := decodeEvents(t, w.Body.String())
	if len(events) != 1 || events[0].Type != relay.EventEnd {
		t.Fatalf("events = %+v, want the stubbed end event", events)
	}
	if stub.gotInput.Message != "" || len(stub.gotInput.Images) != 1 {
		t.Errorf("input = %+v, want empty message with one image", stub.gotInput)
	}
}

func TestAIHandler_Chat_MultipartWithImages(t *testing.T) {
	stub := &stubRelay{events: []relay.Event{{Type: relay.EventEnd}}}
	h := NewAIHandler(stub)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("message", "what is in this picture?")
	_ = mw.WriteField("provider", "google")
	_ = mw.WriteField("include_history", "false")
	part, err := mw.CreateFormFile("images", "photo.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte("not-a-real-png")) //nolint:errcheck
	mw.Close()                           //nolint:errcheck

	req := newAIRequest(http.MethodPost, "/api/v1/ai/chat/chat-1", &buf, "chat-1")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()

	h.Chat(w, req)

	if stub.gotInput.Message != "what is in this picture?" {
		t.Errorf("message = %q", stub.gotInput.Message)
	}
	if stub.gotInput.IncludeHistory {
		t.Error("include_history=false should disable history")
	}
	if len(stub.gotInput.Images) != 1 {
		t.Fatalf("got %d images, want 1", len(stub.gotInput.Images))
	}
	img := stub.gotInput.Images[0]
	if img.Filename != "photo.png" || string(img.Data) != "not-a-real-png" {
		t.Errorf("image = %+v", img)
	}
}

func TestAIHandler_Generate(t *testing.T) {
	stub := &stubRelay{once: &llm.Response{Content: "pong", Provider: "openai", Model: "gpt-4o", Tokens: 3}}
	h := NewAIHandler(stub)

	body := bytes.NewBufferString(`{"message":"ping","provider":"openai"}`)
	req := newAIRequest(http.MethodPost, "/api/v1/ai/generate", body, "")
	w := httptest.NewRecorder()

	h.Generate(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp llm.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Content != "pong" || resp.Tokens != 3 {
		t.Errorf("response = %+v", resp)
	}
}

func TestAIHandler_Generate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown provider", llm.ErrUnknownProvider, http.StatusBadRequest},
		{"no key stored", keyvault.ErrKeyNotFound, http.StatusBadRequest},
		{"upstream rejection", &llm.ProviderError{Provider: "openai", StatusCode: 401, Message: "bad key"}, http.StatusBadGateway},
		{"other failure", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAIHandler(&stubRelay{err: tt.err})

			body := bytes.NewBufferString(`{"message":"ping","provider":"openai"}`)
			req := newAIRequest(http.MethodPost, "/api/v1/ai/generate", body, "")
			w := httptest.NewRecorder()

			h.Generate(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAIHandler_GenerateMulti(t *testing.T) {
	stub := &stubRelay{multi: []*llm.Response{
		{Content: "a", Provider: "openai"},
		{Content: "b", Provider: "anthropic"},
	}}
	h := NewAIHandler(stub)

	body := bytes.NewBufferString(`{"message":"ping"}`)
	req := newAIRequest(http.MethodPost, "/api/v1/ai/generate-multi", body, "")
	w := httptest.NewRecorder()

	h.GenerateMulti(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Results map[string]llm.Response `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 2 || resp.Results["anthropic"].Content != "b" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestAIHandler_GenerateMulti_NoKeys(t *testing.T) {
	h := NewAIHandler(&stubRelay{err: keyvault.ErrKeyNotFound})

	body := bytes.NewBufferString(`{"message":"ping"}`)
	req := newAIRequest(http.MethodPost, "/api/v1/ai/generate-multi", body, "")
	w := httptest.NewRecorder()

	h.GenerateMulti(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAIHandler_Providers_EmptyListNotNull(t *testing.T) {
	h := NewAIHandler(&stubRelay{})

	req := newAIRequest(http.MethodGet, "/api/v1/ai/providers", nil, "")
	w := httptest.NewRecorder()

	h.Providers(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"providers":[]`) {
		t.Errorf("body = %q", w.Body.String())
	}
}
