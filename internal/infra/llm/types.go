// Package llm defines the provider abstraction for upstream AI services
// and the adapters for OpenAI, Anthropic, and Google Gemini.
//
// Every backend implements the Provider interface; the rest of chatrelay
// (relay orchestrator, handlers) works only with the unified types below
// and never sees a provider wire format.
package llm

// Conversation roles in the provider vocabulary.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior turn of the conversation, already mapped into the
// provider vocabulary ("user" / "assistant").
type Message struct {
	Role    string
	Content string
}

// Image is a decoded attachment accompanying the prompt.
type Image struct {
	Data        []byte // raw image bytes
	ContentType string // e.g. "image/png"
	Filename    string
}

// Request is a single generation request. Prompt is the new user message;
// Messages is the prior history. Adapters translate this into their wire
// format, appending Prompt (plus Images) as the final user turn.
type Request struct {
	Prompt       string
	Messages     []Message
	SystemPrompt string
	Model        string // may be an alias or empty; resolved by the adapter
	MaxTokens    int
	Temperature  float64 // 0 = provider default
	Images       []Image
	APIKey       string
}

// Chunk is one fragment of a streamed response. Tokens is only meaningful
// on a final or whole-response chunk (0 otherwise).
type Chunk struct {
	Content  string
	Provider string
	Model    string
	Tokens   int
}

// Response is a complete non-streamed generation result.
type Response struct {
	Content  string
	Provider string
	Model    string
	Tokens   int
}
