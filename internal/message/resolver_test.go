package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveToolName(t *testing.T) {
	history := []Message{
		{Role: RoleSystem, Content: "You are a helpful assistant."},
		{Role: RoleUser, Content: "Fetch the page"},
		{Role: RoleAssistant, ToolCalls: []ToolCallRecord{
			{CallID: "call_1", Name: "web_fetch"},
			{CallID: "call_2", Name: "read_file"},
		}},
		{Role: RoleTool, CallID: "call_1", Content: "<html>...</html>"},
		{Role: RoleTool, CallID: "call_2", Content: "file contents"},
	}

	t.Run("resolves by call id", func(t *testing.T) {
		name, ok := ResolveToolName(history, "call_1")
		assert.True(t, ok)
		assert.Equal(t, "web_fetch", name)

		name, ok = ResolveToolName(history, "call_2")
		assert.True(t, ok)
		assert.Equal(t, "read_file", name)
	})

	t.Run("unknown call id misses", func(t *testing.T) {
		_, ok := ResolveToolName(history, "call_999")
		assert.False(t, ok)
	})

	t.Run("empty call id misses", func(t *testing.T) {
		_, ok := ResolveToolName(history, "")
		assert.False(t, ok)
	})

	t.Run("empty history misses", func(t *testing.T) {
		_, ok := ResolveToolName(nil, "call_1")
		assert.False(t, ok)
	})
}

func TestResolveToolNamePrefersMostRecent(t *testing.T) {
	// Re-sent histories may contain the same call ID on more than one
	// assistant turn; the most recent one wins.
	history := []Message{
		{Role: RoleAssistant, ToolCalls: []ToolCallRecord{{CallID: "call_1", Name: "old_tool"}}},
		{Role: RoleTool, CallID: "call_1", Content: "old result"},
		{Role: RoleAssistant, ToolCalls: []ToolCallRecord{{CallID: "call_1", Name: "new_tool"}}},
		{Role: RoleTool, CallID: "call_1", Content: "new result"},
	}

	name, ok := ResolveToolName(history, "call_1")
	assert.True(t, ok)
	assert.Equal(t, "new_tool", name)
}

func TestResolveToolNameIgnoresNonAssistant(t *testing.T) {
	// A tool message carrying the same call ID never resolves; only
	// assistant tool-call records are authoritative.
	history := []Message{
		{Role: RoleTool, CallID: "call_1", Content: "orphaned result"},
	}
	_, ok := ResolveToolName(history, "call_1")
	assert.False(t, ok)
}

func TestIsToolResult(t *testing.T) {
	assert.True(t, Message{Role: RoleTool}.IsToolResult())
	assert.False(t, Message{Role: RoleAssistant}.IsToolResult())
	assert.False(t, Message{Role: RoleUser}.IsToolResult())
}
