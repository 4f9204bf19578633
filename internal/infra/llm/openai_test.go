package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testOpenAIKey = "sk-test00000000000000000000000000000000000000"

func TestOpenAI_Available(t *testing.T) {
	o := NewOpenAI("", nil)

	cases := []struct {
		key  string
		want bool
	}{
		{testOpenAIKey, true},
		{"sk-short", false},
		{"pk-" + strings.Repeat("x", 50), false},
		{"", false},
	}
	for _, tc := range cases {
		if got := o.Available(tc.key); got != tc.want {
			t.Errorf("Available(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}

func TestOpenAI_ResolveModel(t *testing.T) {
	o := NewOpenAI("", nil)

	cases := []struct {
		in, want string
	}{
		{"", "gpt-4o"},
		{"GPT-4", "gpt-4o"},
		{"gpt4", "gpt-4o"},
		{"GPT-3.5", "gpt-3.5-turbo"},
		{"gpt-4.1-mini", "gpt-4.1-mini"},
		{"some-future-model", "some-future-model"}, // pass-through
	}
	for _, tc := range cases {
		if got := o.ResolveModel(tc.in); got != tc.want {
			t.Errorf("ResolveModel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestOpenAI_Generate(t *testing.T) {
	var gotAuth string
	var gotReq openaiRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"content": "The answer is 42."}}],
			"usage": {"total_tokens": 17}
		}`))
	}))
	defer srv.Close()

	o := NewOpenAI(srv.URL, srv.Client())

	resp, err := o.Generate(context.Background(), Request{
		Prompt:       "What is the answer?",
		SystemPrompt: "Be brief.",
		Model:        "GPT-4",
		MaxTokens:    256,
		Temperature:  0.5,
		APIKey:       testOpenAIKey,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if gotAuth != "Bearer "+testOpenAIKey {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReq.Model != "gpt-4o" {
		t.Errorf("wire model = %q, want gpt-4o (aliased)", gotReq.Model)
	}
	if gotReq.MaxTokens != 256 || gotReq.Temperature == nil || *gotReq.Temperature != 0.5 {
		t.Errorf("wire params = max_tokens %d, temperature %v", gotReq.MaxTokens, gotReq.Temperature)
	}
	if len(gotReq.Messages) != 2 {
		t.Fatalf("wire messages = %d, want 2 (system + user)", len(gotReq.Messages))
	}
	if gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Role != "user" {
		t.Errorf("wire roles = %q, %q", gotReq.Messages[0].Role, gotReq.Messages[1].Role)
	}

	if resp.Content != "The answer is 42." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Tokens != 17 || resp.Provider != "openai" || resp.Model != "gpt-4o" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOpenAI_Generate_ReasoningModelParams(t *testing.T) {
	var gotReq openaiRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(srv.URL, srv.Client())

	_, err := o.Generate(context.Background(), Request{
		Prompt:      "hi",
		Model:       "gpt-5",
		MaxTokens:   128,
		Temperature: 0.9,
		APIKey:      testOpenAIKey,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if gotReq.MaxCompletionTokens != 128 {
		t.Errorf("max_completion_tokens = %d, want 128", gotReq.MaxCompletionTokens)
	}
	if gotReq.MaxTokens != 0 {
		t.Errorf("max_tokens = %d, want omitted", gotReq.MaxTokens)
	}
	if gotReq.Temperature != nil {
		t.Errorf("temperature = %v, want omitted for reasoning models", *gotReq.Temperature)
	}
}

func TestOpenAI_Generate_MissingKey(t *testing.T) {
	o := NewOpenAI("", nil)
	if _, err := o.Generate(context.Background(), Request{Prompt: "hi"}); !errors.Is(err, ErrAPIKeyMissing) {
		t.Fatalf("error = %v, want ErrAPIKeyMissing", err)
	}
}

func TestOpenAI_Generate_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "Incorrect API key provided"}}`))
	}))
	defer srv.Close()

	o := NewOpenAI(srv.URL, srv.Client())

	_, err := o.Generate(context.Background(), Request{Prompt: "hi", APIKey: testOpenAIKey})

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if pe.StatusCode != http.StatusUnauthorized || pe.Message != "Incorrect API key provided" {
		t.Errorf("ProviderError = %+v", pe)
	}
}

func TestOpenAI_GenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`data: {"choices": [{"delta": {"content": "Hel"}}]}`,
			`data: {"choices": [{"delta": {"content": "lo"}}]}`,
			`data: {"choices": [{"delta": {"content": ""}}]}`, // filtered
			`data: [DONE]`,
		}
		for _, l := range lines {
			w.Write([]byte(l + "\n\n"))
		}
	}))
	defer srv.Close()

	o := NewOpenAI(srv.URL, srv.Client())

	ch, err := o.GenerateStream(context.Background(), Request{Prompt: "hi", APIKey: testOpenAIKey})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	chunks := collect(t, ch)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2 (empty delta filtered)", len(chunks))
	}
	if got := chunks[0].Content + chunks[1].Content; got != "Hello" {
		t.Errorf("concatenated = %q, want Hello", got)
	}
}

func TestOpenAI_VisionModelUpgrade(t *testing.T) {
	o := NewOpenAI("", nil)

	img := []Image{{Data: []byte("fake"), ContentType: "image/png", Filename: "a.png"}}

	wr := o.buildRequest(Request{Prompt: "look", Model: "gpt-3.5-turbo", Images: img}, false)
	if wr.Model != "gpt-4o" {
		t.Errorf("model with images = %q, want gpt-4o upgrade", wr.Model)
	}

	// The final user message carries typed parts: one text + one image.
	last := wr.Messages[len(wr.Messages)-1]
	parts, ok := last.Content.([]openaiContentPart)
	if !ok {
		t.Fatalf("last message content is %T, want parts", last.Content)
	}
	if len(parts) != 2 || parts[0].Type != "text" || parts[1].Type != "image_url" {
		t.Errorf("parts = %+v", parts)
	}
	if !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("image URL = %q, want data URL", parts[1].ImageURL.URL)
	}
}
