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
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1"
	anthropicDefaultModel   = "claude-sonnet-4-20250514"
	anthropicAPIVersion     = "2023-06-01"

	// The Messages API requires max_tokens; used when the caller omits it.
	anthropicFallbackMaxTokens = 1024
)

// Friendly names mapped to dated model IDs. Lookup is case-insensitive.
var anthropicAliases = map[string]string{
	"opus4.1":   "claude-opus-4-1-20250805",
	"opus4":     "claude-opus-4-20250514",
	"sonnet4":   "claude-sonnet-4-20250514",
	"sonnet3.7": "claude-3-7-sonnet-20250219",
	"sonnet3.5": "claude-3-5-sonnet-20241022",
	"haiku3.5":  "claude-3-5-haiku-20241022",
	"haiku3":    "claude-3-haiku-20240307",
	"opus":      "claude-opus-4-1-20250805",
	"sonnet":    "claude-sonnet-4-20250514",
	"haiku":     "claude-3-5-haiku-20241022",
}

// anthropicModels is the closed set of model IDs accepted upstream.
// Anything outside it falls back to the default model.
var anthropicModels = map[string]bool{
	"claude-opus-4-1-20250805":   true,
	"claude-opus-4-20250514":     true,
	"claude-sonnet-4-20250514":   true,
	"claude-3-7-sonnet-20250219": true,
	"claude-3-5-sonnet-20241022": true,
	"claude-3-5-haiku-20241022":  true,
	"claude-3-haiku-20240307":    true,
}

// Anthropic implements Provider and Streamer against the Messages API.
type Anthropic struct {
	baseURL string
	client  *http.Client
}

func NewAnthropic(baseURL string, client *http.Client) *Anthropic {
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	if client == nil {
		client = defaultHTTPClient()
	}
	return &Anthropic{baseURL: baseURL, client: client}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Available(apiKey string) bool {
	return strings.HasPrefix(apiKey, "sk-ant-") && len(apiKey) >= 50
}

func (a *Anthropic) ResolveModel(requested string) string {
	if requested == "" {
		return anthropicDefaultModel
	}
	if model, ok := anthropicAliases[strings.ToLower(requested)]; ok {
		return model
	}
	if anthropicModels[requested] {
		return requested
	}
	return anthropicDefaultModel
}

// --- wire types ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

// anthropicMessage content is a plain string for text-only turns, or an
// array of typed blocks when the turn carries images.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicContentBlock struct {
	Type   string                 `json:"type"`
	Text   string                 `json:"text,omitempty"`
	Source *anthropicImageSource  `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"` // always "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
	Usage anthropicUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Streaming uses named SSE events with a discriminating "type" field in
// every payload, so the event: lines themselves can be ignored.
type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type string `json:"type,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"delta,omitempty"`
	Usage *anthropicUsage `json:"usage,omitempty"`
}

func (a *Anthropic) buildRequest(req Request, stream bool) *anthropicRequest {
	wr := &anthropicRequest{
		Model:     a.ResolveModel(req.Model),
		System:    req.SystemPrompt,
		MaxTokens: anthropicFallbackMaxTokens,
		Stream:    stream,
	}
	if req.MaxTokens > 0 {
		wr.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		t := req.Temperature
		wr.Temperature = &t
	}

	// The Messages API rejects empty-content turns.
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		wr.Messages = append(wr.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	if len(req.Images) > 0 {
		var blocks []anthropicContentBlock
		if req.Prompt != "" {
			blocks = append(blocks, anthropicContentBlock{Type: "text", Text: req.Prompt})
		}
		for _, img := range req.Images {
			blocks = append(blocks, anthropicContentBlock{
				Type: "image",
				Source: &anthropicImageSource{
					Type:      "base64",
					MediaType: img.ContentType,
					Data:      base64.StdEncoding.EncodeToString(img.Data),
				},
			})
		}
		wr.Messages = append(wr.Messages, anthropicMessage{Role: RoleUser, Content: blocks})
	} else {
		wr.Messages = append(wr.Messages, anthropicMessage{Role: RoleUser, Content: req.Prompt})
	}

	return wr
}

func (a *Anthropic) post(ctx context.Context, apiKey string, wr *anthropicRequest) (*http.Response, error) {
	body, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: "anthropic", Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var eb anthropicResponse
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		msg := "request failed"
		if eb.Error != nil && eb.Error.Message != "" {
			msg = eb.Error.Message
		}
		return nil, &ProviderError{Provider: "anthropic", StatusCode: resp.StatusCode, Message: msg}
	}

	return resp, nil
}

func (a *Anthropic) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.APIKey == "" {
		return nil, ErrAPIKeyMissing
	}

	wr := a.buildRequest(req, false)

	httpResp, err := a.post(ctx, req.APIKey, wr)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var ar anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&ar); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	var text string
	for _, block := range ar.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	return &Response{
		Content:  text,
		Provider: "anthropic",
		Model:    wr.Model,
		Tokens:   ar.Usage.InputTokens + ar.Usage.OutputTokens,
	}, nil
}

// GenerateStream streams text deltas from the Messages API. The final
// chunk has empty content and carries the total token count.
func (a *Anthropic) GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	if req.APIKey == "" {
		return nil, ErrAPIKeyMissing
	}

	wr := a.buildRequest(req, true)

	httpResp, err := a.post(ctx, req.APIKey, wr)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		var inputTokens, outputTokens int

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					inputTokens = event.Message.Usage.InputTokens
				}

			case "content_block_delta":
				if event.Delta == nil || event.Delta.Text == "" {
					continue
				}
				select {
				case ch <- Chunk{Content: event.Delta.Text, Provider: "anthropic", Model: wr.Model}:
				case <-ctx.Done():
					return
				}

			case "message_delta":
				if event.Usage != nil {
					outputTokens = event.Usage.OutputTokens
				}

			case "message_stop":
				select {
				case ch <- Chunk{Provider: "anthropic", Model: wr.Model, Tokens: inputTokens + outputTokens}:
				case <-ctx.Done():
				}
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case ch <- Chunk{
				Content:  "\n[Connection to Anthropic was interrupted before the response completed.]",
				Provider: "anthropic",
				Model:    wr.Model,
			}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}
