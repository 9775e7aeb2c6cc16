// Package testutil provides shared helpers for package tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// chatChoice and chatUsage mirror the minimal chat completions response shape.
type chatChoice struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

func buildChatResponse(content string, inputTokens, outputTokens int) chatResponse {
	var choice chatChoice
	choice.Message.Role = "assistant"
	choice.Message.Content = content
	choice.FinishReason = "stop"
	return chatResponse{
		ID:      "chatcmpl-test",
		Object:  "chat.completion",
		Model:   "gpt-4o",
		Choices: []chatChoice{choice},
		Usage: chatUsage{
			PromptTokens:     inputTokens,
			CompletionTokens: outputTokens,
			TotalTokens:      inputTokens + outputTokens,
		},
	}
}

// NewOpenAICompatibleServer starts an httptest.Server that answers
// POST /chat/completions with a minimal valid OpenAI-style JSON response.
// Caller must call server.Close() or register t.Cleanup(server.Close).
func NewOpenAICompatibleServer(content string, inputTokens, outputTokens int) *httptest.Server {
	if content == "" {
		content = "mock response"
	}
	if inputTokens == 0 {
		inputTokens = 10
	}
	if outputTokens == 0 {
		outputTokens = 20
	}
	resp := buildChatResponse(content, inputTokens, outputTokens)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	return httptest.NewServer(handler)
}

// ScriptedLLMServer answers successive chat completion calls with a fixed
// sequence of assistant contents, then repeats the last one. Used to drive
// the multi-hop quarantine protocol in tests.
type ScriptedLLMServer struct {
	*httptest.Server

	mu    sync.Mutex
	calls int
}

// Calls returns how many completion requests the server has answered.
func (s *ScriptedLLMServer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// NewScriptedLLMServer starts an httptest.Server returning contents in
// order. Each response reports 10 input and 20 output tokens.
func NewScriptedLLMServer(contents ...string) *ScriptedLLMServer {
	s := &ScriptedLLMServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		idx := s.calls
		s.calls++
		s.mu.Unlock()

		if idx >= len(contents) {
			idx = len(contents) - 1
		}
		content := "mock response"
		if idx >= 0 && len(contents) > 0 {
			content = contents[idx]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(buildChatResponse(content, 10, 20))
	}))
	return s
}
