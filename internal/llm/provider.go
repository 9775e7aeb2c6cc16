// Package llm provides the model-invocation service consumed by the
// quarantine protocol. All supported providers speak an OpenAI-compatible
// chat completions dialect; provider identity is a configuration table
// entry (base URL + auth header), not a type hierarchy.
package llm

import (
	"context"
	"errors"
	"time"
)

// TimeoutLLMCall bounds a single completion call.
const TimeoutLLMCall = 60 * time.Second

// Domain errors for the llm package.
var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrEmptyAPIKey     = errors.New("empty api key")
	ErrNoChoices       = errors.New("no choices returned")
)

// Provider is the model-invocation interface.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "groq").
	Name() string
	// Generate sends a completion request and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request represents a completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Message is a chat message in provider-neutral form.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Response represents a completion response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
}
