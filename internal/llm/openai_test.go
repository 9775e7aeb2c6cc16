package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-ai/warden/internal/testutil"
)

func TestNewProvider(t *testing.T) {
	t.Run("known providers", func(t *testing.T) {
		for _, name := range []string{"openai", "groq", "mistral", "deepseek", "openrouter", "ollama"} {
			p, err := NewProvider(name, "test-key")
			require.NoError(t, err, name)
			assert.Equal(t, name, p.Name())
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewProvider("acme-llm", "test-key")
		assert.ErrorIs(t, err, ErrUnknownProvider)
	})
}

func TestGenerate(t *testing.T) {
	server := testutil.NewOpenAICompatibleServer("the answer", 12, 34)
	t.Cleanup(server.Close)

	p := NewProviderWithBaseURL("openai", "test-key", server.URL+"/v1")

	resp, err := p.Generate(context.Background(), &Request{
		Model: "gpt-4o",
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "question"},
		},
		Temperature: 0.2,
		MaxTokens:   256,
	})
	require.NoError(t, err)

	assert.Equal(t, "the answer", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 34, resp.OutputTokens)
}

func TestGenerateServerDown(t *testing.T) {
	server := testutil.NewOpenAICompatibleServer("", 0, 0)
	server.Close() // immediately, so the call fails

	p := NewProviderWithBaseURL("openai", "test-key", server.URL+"/v1")
	_, err := p.Generate(context.Background(), &Request{Model: "gpt-4o", Messages: []Message{{Role: "user", Content: "hi"}}})
	assert.Error(t, err)
}

func TestKnownProviders(t *testing.T) {
	names := KnownProviders()
	assert.Contains(t, names, "openai")
	assert.Contains(t, names, "ollama")
	assert.Len(t, names, 6)
}
