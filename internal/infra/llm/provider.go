package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrAPIKeyMissing is returned when a request reaches an adapter without
// a credential. Callers should surface this as a 4xx, not retry.
var ErrAPIKeyMissing = errors.New("llm: api key missing")

// ProviderError wraps an upstream API failure with enough context for
// callers to log and report it without parsing provider-specific bodies.
type ProviderError struct {
	Provider   string
	StatusCode int // upstream HTTP status, 0 for transport errors
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm: %s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm: %s error: %s", e.Provider, e.Message)
}

// Provider is the interface every upstream AI backend satisfies.
type Provider interface {
	// Name returns the provider identifier: "openai", "anthropic", "google".
	Name() string

	// Available reports whether apiKey is plausibly valid for this
	// provider. Pure prefix and length check, no network calls.
	Available(apiKey string) bool

	// ResolveModel maps a user-facing model name (alias, canonical name,
	// or empty) to the concrete model identifier sent upstream.
	ResolveModel(requested string) string

	// Generate performs a complete, non-streamed generation.
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Streamer is the optional streaming capability. Adapters that implement
// it deliver fragments over a channel which is closed when the stream
// ends; the channel never carries errors once returned. Failures before
// the first byte are returned from GenerateStream itself.
type Streamer interface {
	GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Stream starts a streamed generation on p, falling back to a single
// whole-response chunk when p does not implement Streamer.
func Stream(ctx context.Context, p Provider, req Request) (<-chan Chunk, error) {
	if s, ok := p.(Streamer); ok {
		return s.GenerateStream(ctx, req)
	}

	resp, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk, 1)
	ch <- Chunk{
		Content:  resp.Content,
		Provider: resp.Provider,
		Model:    resp.Model,
		Tokens:   resp.Tokens,
	}
	close(ch)

	return ch, nil
}

// defaultHTTPClient is used by adapters constructed without an explicit
// client. http.Client.Timeout covers the whole exchange including body
// reads, so it caps the full duration of a streamed response; a stream
// cut off by it surfaces as a read error on the scanner.
func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 4 * time.Minute,
	}
}
