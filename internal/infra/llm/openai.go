package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	openaiDefaultBaseURL = "https://api.openai.com/v1"
	openaiDefaultModel   = "gpt-4o"
)

// Friendly names and legacy spellings mapped to concrete model IDs.
// Lookup is case-insensitive. Unknown names pass through unchanged —
// OpenAI has no closed model set.
var openaiAliases = map[string]string{
	"gpt-4.1":      "gpt-4.1",
	"gpt-4.1-mini": "gpt-4.1-mini",
	"gpt-4.1-nano": "gpt-4.1-nano",
	"gpt-4o":       "gpt-4o",
	"gpt-4o-mini":  "gpt-4o-mini",
	"gpt-4":        "gpt-4o",
	"gpt4":         "gpt-4o",
	"gpt-3.5":      "gpt-3.5-turbo",
	"gpt3.5":       "gpt-3.5-turbo",
}

// OpenAI implements Provider and Streamer against the Chat Completions API.
type OpenAI struct {
	baseURL string
	client  *http.Client
}

// NewOpenAI creates an OpenAI adapter. Empty baseURL and nil client select
// the production endpoint and a default HTTP client.
func NewOpenAI(baseURL string, client *http.Client) *OpenAI {
	if baseURL == "" {
		baseURL = openaiDefaultBaseURL
	}
	if client == nil {
		client = defaultHTTPClient()
	}
	return &OpenAI{baseURL: baseURL, client: client}
}

func (o *OpenAI) Name() string { return "openai" }

// Available accepts keys with the standard "sk-" prefix.
func (o *OpenAI) Available(apiKey string) bool {
	return strings.HasPrefix(apiKey, "sk-") && len(apiKey) >= 40
}

func (o *OpenAI) ResolveModel(requested string) string {
	if requested == "" {
		return openaiDefaultModel
	}
	if model, ok := openaiAliases[strings.ToLower(requested)]; ok {
		return model
	}
	return requested
}

// --- wire types ---

type openaiRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
	// Reasoning models (gpt-5*, o1*) take max_completion_tokens and
	// reject temperature; everything else takes max_tokens.
	MaxTokens           int      `json:"max_tokens,omitempty"`
	MaxCompletionTokens int      `json:"max_completion_tokens,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	Stream              bool     `json:"stream,omitempty"`
}

// openaiMessage content is either a plain string or, when the turn
// carries images, an array of typed parts.
type openaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openaiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *openaiError `json:"error"`
}

type openaiError struct {
	Message string `json:"message"`
}

type openaiStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func isReasoningModel(model string) bool {
	return strings.HasPrefix(model, "gpt-5") || strings.HasPrefix(model, "o1")
}

// buildRequest translates a unified Request into OpenAI wire format.
func (o *OpenAI) buildRequest(req Request, stream bool) *openaiRequest {
	model := o.ResolveModel(req.Model)

	// Legacy text models cannot take image parts; silently upgrade.
	if len(req.Images) > 0 && (model == "gpt-3.5-turbo" || model == "gpt-4") {
		model = openaiDefaultModel
	}

	wr := &openaiRequest{Model: model, Stream: stream}

	if req.SystemPrompt != "" {
		wr.Messages = append(wr.Messages, openaiMessage{Role: RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		wr.Messages = append(wr.Messages, openaiMessage{Role: m.Role, Content: m.Content})
	}

	if len(req.Images) > 0 {
		parts := []openaiContentPart{}
		if req.Prompt != "" {
			parts = append(parts, openaiContentPart{Type: "text", Text: req.Prompt})
		}
		for _, img := range req.Images {
			parts = append(parts, openaiContentPart{
				Type: "image_url",
				ImageURL: &openaiImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s",
						img.ContentType, base64.StdEncoding.EncodeToString(img.Data)),
				},
			})
		}
		wr.Messages = append(wr.Messages, openaiMessage{Role: RoleUser, Content: parts})
	} else {
		wr.Messages = append(wr.Messages, openaiMessage{Role: RoleUser, Content: req.Prompt})
	}

	if isReasoningModel(model) {
		if req.MaxTokens > 0 {
			wr.MaxCompletionTokens = req.MaxTokens
		}
	} else {
		if req.MaxTokens > 0 {
			wr.MaxTokens = req.MaxTokens
		}
		if req.Temperature > 0 {
			t := req.Temperature
			wr.Temperature = &t
		}
	}

	return wr
}

func (o *OpenAI) post(ctx context.Context, apiKey string, wr *openaiRequest) (*http.Response, error) {
	body, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var eb openaiResponse
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		msg := "request failed"
		if eb.Error != nil && eb.Error.Message != "" {
			msg = eb.Error.Message
		}
		return nil, &ProviderError{Provider: "openai", StatusCode: resp.StatusCode, Message: msg}
	}

	return resp, nil
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.APIKey == "" {
		return nil, ErrAPIKeyMissing
	}

	wr := o.buildRequest(req, false)

	httpResp, err := o.post(ctx, req.APIKey, wr)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var or openaiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&or); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(or.Choices) == 0 {
		return nil, &ProviderError{Provider: "openai", Message: "response contained no choices"}
	}

	return &Response{
		Content:  or.Choices[0].Message.Content,
		Provider: "openai",
		Model:    wr.Model,
		Tokens:   or.Usage.TotalTokens,
	}, nil
}

// GenerateStream streams delta fragments from the Chat Completions SSE
// stream. Empty fragments are dropped; a mid-stream read failure emits one
// diagnostic chunk before the channel closes.
func (o *OpenAI) GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	if req.APIKey == "" {
		return nil, ErrAPIKeyMissing
	}

	wr := o.buildRequest(req, true)

	httpResp, err := o.post(ctx, req.APIKey, wr)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}

			var event openaiStreamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue
			}
			if len(event.Choices) == 0 || event.Choices[0].Delta.Content == "" {
				continue
			}

			select {
			case ch <- Chunk{Content: event.Choices[0].Delta.Content, Provider: "openai", Model: wr.Model}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case ch <- Chunk{
				Content:  "\n[Connection to OpenAI was interrupted before the response completed.]",
				Provider: "openai",
				Model:    wr.Model,
			}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}
