package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	wardenotel "github.com/warden-ai/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/warden-ai/warden/internal/llm")

// compatibleBaseURLs maps provider identifiers to their OpenAI-compatible
// endpoints. An empty value means the go-openai default. Adding a provider
// is a table entry, nothing more.
var compatibleBaseURLs = map[string]string{
	"openai":     "",
	"groq":       "https://api.groq.com/openai/v1",
	"mistral":    "https://api.mistral.ai/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"ollama":     "http://localhost:11434/v1",
}

// KnownProviders returns the provider identifiers the adapter table serves.
func KnownProviders() []string {
	names := make([]string, 0, len(compatibleBaseURLs))
	for name := range compatibleBaseURLs {
		names = append(names, name)
	}
	return names
}

// OpenAICompatProvider implements Provider for any OpenAI-compatible API.
type OpenAICompatProvider struct {
	name   string
	client *openai.Client
}

// NewProvider creates a provider for the named backend using the given API
// key. Returns ErrUnknownProvider for names not in the adapter table.
func NewProvider(providerName, apiKey string) (*OpenAICompatProvider, error) {
	baseURL, ok := compatibleBaseURLs[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAICompatProvider{name: providerName, client: openai.NewClientWithConfig(cfg)}, nil
}

// NewProviderWithBaseURL creates a provider pointed at a custom endpoint
// (e.g. an httptest mock in tests). baseURL should include the /v1 path.
func NewProviderWithBaseURL(providerName, apiKey, baseURL string) *OpenAICompatProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAICompatProvider{name: providerName, client: openai.NewClientWithConfig(cfg)}
}

// Name returns the provider identifier.
func (p *OpenAICompatProvider) Name() string {
	return p.name
}

// Generate sends a chat completion request.
func (p *OpenAICompatProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "gen_ai.generate",
		trace.WithAttributes(
			wardenotel.GenAISystem.String(p.name),
			wardenotel.GenAIRequestModel.String(req.Model),
			wardenotel.GenAIRequestTemperature.Float64(req.Temperature),
			wardenotel.GenAIRequestMaxTokens.Int(req.MaxTokens),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, TimeoutLLMCall)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%s api call: %w", p.name, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s api call: %w", p.name, ErrNoChoices)
	}

	span.SetAttributes(
		wardenotel.GenAIUsageInputTokens.Int(resp.Usage.PromptTokens),
		wardenotel.GenAIUsageOutputTokens.Int(resp.Usage.CompletionTokens),
		wardenotel.GenAIResponseFinishReason.String(string(resp.Choices[0].FinishReason)),
	)

	return &Response{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
	}, nil
}
