// Package message models one proxied conversation: the ordered message
// list supplied by the proxy layer for the duration of a single request.
// Raw messages are never persisted by this core, only derived artifacts.
package message

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRecord is an assistant's request to invoke a tool. The CallID
// links it to the later tool-role message carrying the result.
type ToolCallRecord struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Message is one turn in a chat exchange. Assistant messages may carry
// tool-call records; tool messages carry the call ID of the record that
// produced them plus the result payload in Content.
type Message struct {
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	CallID    string           `json:"call_id,omitempty"`
}

// IsToolResult reports whether the message carries the result of a tool
// invocation.
func (m Message) IsToolResult() bool {
	return m.Role == RoleTool
}
