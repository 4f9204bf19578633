// Package relay orchestrates a chat generation round trip: authorize the
// chat, resolve the provider credential, load history, persist the user
// turn, stream the model output, persist the assistant turn.
//
// Failure ordering is deliberate: unknown provider and missing credential
// are detected before anything is written, so a doomed request leaves no
// trace. Once the upstream call starts, the user turn stays persisted
// even if generation fails.
package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/minjaeko/chatrelay/internal/domain/chat"
	"github.com/minjaeko/chatrelay/internal/domain/keyvault"
	"github.com/minjaeko/chatrelay/internal/infra/llm"
)

// HistoryLimit caps how many prior turns are replayed upstream.
const HistoryLimit = 20

// Event stream frame types. Every invocation emits zero or more chunk
// events between one start and exactly one terminal event (end or error).
const (
	EventStart = "start"
	EventChunk = "chunk"
	EventEnd   = "end"
	EventError = "error"
)

// Event is one frame of the relay output stream, serialized as-is into
// SSE data payloads.
type Event struct {
	Type        string `json:"type"`
	Content     string `json:"content,omitempty"`
	FullContent string `json:"full_content,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Image is an attachment submitted with the user message.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Input is one relay invocation. Zero-valued Model, MaxTokens,
// Temperature, and SystemPrompt fall back to the chat's settings.
type Input struct {
	UserID         string
	ChatID         string
	Message        string
	Provider       string
	Model          string
	MaxTokens      int
	Temperature    float64
	SystemPrompt   string
	IncludeHistory bool
	Images         []Image
}

// ConversationStore is the slice of the chat service the relay needs.
type ConversationStore interface {
	Get(ctx context.Context, userID, chatID string) (*chat.Chat, error)
	RecentHistory(ctx context.Context, chatID string, limit int) ([]chat.Message, error)
	Append(ctx context.Context, userID, chatID string, input chat.AppendInput) (*chat.Message, error)
}

// Vault is the slice of the key vault the relay needs.
type Vault interface {
	Get(ctx context.Context, userID, provider string) (string, error)
	Keys(ctx context.Context, userID string) (map[string]string, error)
}

// Relay wires the conversation store, credential vault, and provider
// registry together.
type Relay struct {
	store    ConversationStore
	vault    Vault
	registry *llm.Registry
}

func New(store ConversationStore, vault Vault, registry *llm.Registry) *Relay {
	return &Relay{store: store, vault: vault, registry: registry}
}

// Stream runs the full pipeline and returns the event channel. The
// channel is closed after the terminal event. Cancelling ctx stops
// forwarding; the assistant turn is not persisted in that case, but the
// user turn stays.
func (r *Relay) Stream(ctx context.Context, input Input) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		fail := func(msg string) {
			select {
			case out <- Event{Type: EventError, Error: msg}:
			case <-ctx.Done():
			}
		}

		// Chat authorization comes first: a request that is wrong in
		// several ways reports the missing chat, not the provider.
		conv, err := r.store.Get(ctx, input.UserID, input.ChatID)
		if err != nil {
			if errors.Is(err, chat.ErrChatNotFound) {
				fail("chat not found")
			} else {
				fail("failed to load chat")
			}
			return
		}

		provider, err := r.registry.Get(input.Provider)
		if err != nil {
			fail(fmt.Sprintf("unknown provider %q", input.Provider))
			return
		}

		apiKey, err := r.vault.Get(ctx, input.UserID, provider.Name())
		if err != nil {
			if errors.Is(err, keyvault.ErrKeyNotFound) {
				fail(fmt.Sprintf("no API key configured for %s", provider.Name()))
			} else {
				fail("failed to load API key")
			}
			return
		}

		req := r.buildRequest(ctx, input, conv, apiKey)
		req.Model = provider.ResolveModel(req.Model)

		if _, err := r.store.Append(ctx, input.UserID, input.ChatID, userTurn(input)); err != nil {
			fail("failed to save message")
			return
		}

		select {
		case out <- Event{Type: EventStart, Provider: provider.Name(), Model: req.Model}:
		case <-ctx.Done():
			return
		}

		chunks, err := llm.Stream(ctx, provider, req)
		if err != nil {
			fail(streamErrorMessage(err))
			return
		}

		var full string
		var tokens int
		for chunk := range chunks {
			if chunk.Tokens > 0 {
				tokens = chunk.Tokens
			}
			if chunk.Content == "" {
				continue
			}
			full += chunk.Content

			select {
			case out <- Event{Type: EventChunk, Content: chunk.Content, Provider: provider.Name(), Model: req.Model}:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		if full == "" {
			fail(fmt.Sprintf("%s returned no content", provider.Name()))
			return
		}

		if _, err := r.store.Append(ctx, input.UserID, input.ChatID, chat.AppendInput{
			Sender:      chat.SenderAI,
			Content:     full,
			APIProvider: provider.Name(),
			ModelName:   req.Model,
			TokenCount:  tokens,
		}); err != nil {
			fail("failed to save response")
			return
		}

		select {
		case out <- Event{Type: EventEnd, FullContent: full, Provider: provider.Name(), Model: req.Model}:
		case <-ctx.Done():
		}
	}()

	return out
}

// GenerateOnce runs a one-shot generation outside any chat: no history,
// nothing persisted. The stream is consumed internally and concatenated.
func (r *Relay) GenerateOnce(ctx context.Context, userID string, input Input) (*llm.Response, error) {
	provider, err := r.registry.Get(input.Provider)
	if err != nil {
		return nil, err
	}

	apiKey, err := r.vault.Get(ctx, userID, provider.Name())
	if err != nil {
		return nil, err
	}

	req := llm.Request{
		Prompt:       input.Message,
		SystemPrompt: input.SystemPrompt,
		Model:        provider.ResolveModel(input.Model),
		MaxTokens:    input.MaxTokens,
		Temperature:  input.Temperature,
		Images:       llmImages(input.Images),
		APIKey:       apiKey,
	}

	chunks, err := llm.Stream(ctx, provider, req)
	if err != nil {
		return nil, err
	}

	var full string
	var tokens int
	for chunk := range chunks {
		full += chunk.Content
		if chunk.Tokens > 0 {
			tokens = chunk.Tokens
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &llm.Response{Content: full, Provider: provider.Name(), Model: req.Model, Tokens: tokens}, nil
}

// GenerateMulti fans one prompt out to every provider the user holds a
// working key for. Per-provider failures are dropped by the registry.
func (r *Relay) GenerateMulti(ctx context.Context, userID string, input Input) ([]*llm.Response, error) {
	keys, err := r.vault.Keys(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, keyvault.ErrKeyNotFound
	}

	req := llm.Request{
		Prompt:       input.Message,
		SystemPrompt: input.SystemPrompt,
		MaxTokens:    input.MaxTokens,
		Temperature:  input.Temperature,
	}

	return r.registry.GenerateAll(ctx, req, keys), nil
}

// AvailableProviders lists the providers the user can use right now.
func (r *Relay) AvailableProviders(ctx context.Context, userID string) ([]string, error) {
	keys, err := r.vault.Keys(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.registry.Available(keys), nil
}

// buildRequest merges per-request overrides with the chat's settings and
// replays recent history in the provider vocabulary.
func (r *Relay) buildRequest(ctx context.Context, input Input, conv *chat.Chat, apiKey string) llm.Request {
	req := llm.Request{
		Prompt:       input.Message,
		SystemPrompt: input.SystemPrompt,
		Model:        input.Model,
		MaxTokens:    input.MaxTokens,
		Temperature:  input.Temperature,
		Images:       llmImages(input.Images),
		APIKey:       apiKey,
	}
	if req.SystemPrompt == "" {
		req.SystemPrompt = conv.SystemPrompt
	}
	if req.Model == "" {
		req.Model = conv.Model
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = conv.MaxTokens
	}
	if req.Temperature <= 0 {
		req.Temperature = conv.Temperature
	}

	if input.IncludeHistory {
		history, err := r.store.RecentHistory(ctx, input.ChatID, HistoryLimit)
		if err == nil {
			for _, m := range history {
				role := llm.RoleUser
				if m.Sender == chat.SenderAI {
					role = llm.RoleAssistant
				}
				req.Messages = append(req.Messages, llm.Message{Role: role, Content: m.Content})
			}
		}
	}

	return req
}

func userTurn(input Input) chat.AppendInput {
	turn := chat.AppendInput{
		Sender:  chat.SenderUser,
		Content: input.Message,
	}
	for _, img := range input.Images {
		turn.Images = append(turn.Images, chat.Image{
			Filename:    img.Filename,
			ContentType: img.ContentType,
			Data:        base64.StdEncoding.EncodeToString(img.Data),
			Size:        len(img.Data),
		})
	}
	return turn
}

func llmImages(images []Image) []llm.Image {
	var out []llm.Image
	for _, img := range images {
		out = append(out, llm.Image{
			Data:        img.Data,
			ContentType: img.ContentType,
			Filename:    img.Filename,
		})
	}
	return out
}

func streamErrorMessage(err error) string {
	if errors.Is(err, llm.ErrAPIKeyMissing) {
		return "API key missing"
	}

	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return pe.Error()
	}

	return "generation failed"
}
