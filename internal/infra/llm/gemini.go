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
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel   = "gemini-2.5-flash"

	// Shown to the user when the model refuses mid-stream on safety
	// grounds; the stream ends normally after this chunk.
	geminiSafetyNotice = "The response was blocked by Gemini's safety filters. " +
		"Try rephrasing your message."

	geminiImagesFailedNote = "\n[Note: the attached images could not be processed " +
		"and were not sent to the model.]"
)

// Friendly names mapped to supported model IDs. Lookup is case-insensitive.
var geminiAliases = map[string]string{
	"gemini-2.5-pro":   "gemini-2.5-pro",
	"gemini-2.5-flash": "gemini-2.5-flash",
	"pro":              "gemini-2.5-pro",
	"flash":            "gemini-2.5-flash",
	"gemini":           "gemini-2.5-flash",
}

var geminiModels = map[string]bool{
	"gemini-2.5-pro":   true,
	"gemini-2.5-flash": true,
}

// Gemini implements Provider and Streamer against the Generative
// Language API.
type Gemini struct {
	baseURL string
	client  *http.Client
}

func NewGemini(baseURL string, client *http.Client) *Gemini {
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	if client == nil {
		client = defaultHTTPClient()
	}
	return &Gemini{baseURL: baseURL, client: client}
}

func (g *Gemini) Name() string { return "google" }

func (g *Gemini) Available(apiKey string) bool {
	return strings.HasPrefix(apiKey, "AIza") && len(apiKey) >= 20
}

func (g *Gemini) ResolveModel(requested string) string {
	if requested == "" {
		return geminiDefaultModel
	}
	if model, ok := geminiAliases[strings.ToLower(requested)]; ok {
		return model
	}
	if geminiModels[requested] {
		return requested
	}
	return geminiDefaultModel
}

// --- wire types ---

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// buildRequest translates a unified Request into the Gemini wire format.
// Attachments are normalized (decoded, downscaled) first; undecodable
// ones are skipped, and if every attachment fails the request goes out
// text-only with a note appended so the user learns why.
func (g *Gemini) buildRequest(req Request) *geminiRequest {
	wr := &geminiRequest{}

	if req.SystemPrompt != "" {
		wr.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: req.SystemPrompt}},
		}
	}

	for _, m := range req.Messages {
		role := m.Role
		if role == RoleAssistant {
			role = "model"
		}
		wr.Contents = append(wr.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	prompt := req.Prompt
	var imageParts []geminiPart
	if len(req.Images) > 0 {
		for _, img := range req.Images {
			normalized, err := normalizeImage(img)
			if err != nil {
				continue
			}
			imageParts = append(imageParts, geminiPart{
				InlineData: &geminiInlineData{
					MimeType: normalized.ContentType,
					Data:     base64.StdEncoding.EncodeToString(normalized.Data),
				},
			})
		}
		if len(imageParts) == 0 {
			prompt += geminiImagesFailedNote
		}
	}

	parts := []geminiPart{}
	if prompt != "" {
		parts = append(parts, geminiPart{Text: prompt})
	}
	parts = append(parts, imageParts...)
	wr.Contents = append(wr.Contents, geminiContent{Role: RoleUser, Parts: parts})

	if req.MaxTokens > 0 || req.Temperature > 0 {
		cfg := &geminiGenerationConfig{MaxOutputTokens: req.MaxTokens}
		if req.Temperature > 0 {
			t := req.Temperature
			cfg.Temperature = &t
		}
		wr.GenerationConfig = cfg
	}

	return wr
}

func (g *Gemini) post(ctx context.Context, url string, wr *geminiRequest) (*http.Response, error) {
	body, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: "google", Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var eb geminiResponse
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		msg := "request failed"
		if eb.Error != nil && eb.Error.Message != "" {
			msg = eb.Error.Message
		}
		return nil, &ProviderError{Provider: "google", StatusCode: resp.StatusCode, Message: msg}
	}

	return resp, nil
}

func (g *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.APIKey == "" {
		return nil, ErrAPIKeyMissing
	}

	model := g.ResolveModel(req.Model)
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, model, req.APIKey)

	httpResp, err := g.post(ctx, url, g.buildRequest(req))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var gr geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(gr.Candidates) == 0 {
		return nil, &ProviderError{Provider: "google", Message: "response contained no candidates"}
	}

	cand := gr.Candidates[0]

	var text string
	for _, part := range cand.Content.Parts {
		text += part.Text
	}

	switch cand.FinishReason {
	case "SAFETY":
		if text == "" {
			text = geminiSafetyNotice
		}
	case "RECITATION", "OTHER":
		if text == "" {
			return nil, &ProviderError{
				Provider: "google",
				Message:  fmt.Sprintf("generation stopped (%s)", cand.FinishReason),
			}
		}
	}

	resp := &Response{Content: text, Provider: "google", Model: model}
	if gr.UsageMetadata != nil {
		resp.Tokens = gr.UsageMetadata.TotalTokenCount
	}
	return resp, nil
}

// GenerateStream streams text fragments from streamGenerateContent.
// A SAFETY finish mid-stream becomes one explanatory chunk and a normal
// end. A mid-stream transport failure falls back to one non-streaming
// call emitted as a single chunk; if that also fails, one diagnostic
// chunk is emitted. The channel never carries errors.
func (g *Gemini) GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	if req.APIKey == "" {
		return nil, ErrAPIKeyMissing
	}

	model := g.ResolveModel(req.Model)
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
		g.baseURL, model, req.APIKey)

	httpResp, err := g.post(ctx, url, g.buildRequest(req))
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		emit := func(content string) bool {
			select {
			case ch <- Chunk{Content: content, Provider: "google", Model: model}:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var gr geminiResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &gr); err != nil {
				continue
			}
			if len(gr.Candidates) == 0 {
				continue
			}

			cand := gr.Candidates[0]

			if cand.FinishReason == "SAFETY" {
				emit(geminiSafetyNotice)
				return
			}

			for _, part := range cand.Content.Parts {
				if strings.TrimSpace(part.Text) == "" {
					continue
				}
				if !emit(part.Text) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			// The stream died partway; retry once without streaming so
			// the user still gets a complete answer.
			resp, genErr := g.Generate(ctx, req)
			if genErr != nil {
				emit("\n[Connection to Gemini was interrupted before the response completed.]")
				return
			}
			emit(resp.Content)
		}
	}()

	return ch, nil
}
