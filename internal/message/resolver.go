package message

// ResolveToolName finds the tool name that produced the result message
// carrying callID. It scans the message list from the most recent message
// backward and returns the name from the first assistant message whose
// tool-call records match. A tool result carries only the call ID, and
// upstream may have trimmed or reordered history, so the most recent
// matching assistant turn is the authoritative source; scanning backward
// also bounds the walk to the distance between result and originating call.
//
// The second return is false when no assistant turn references callID.
// Callers must treat a miss as untrusted, never as trusted.
func ResolveToolName(messages []Message, callID string) (string, bool) {
	if callID == "" {
		return "", false
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != RoleAssistant {
			continue
		}
		for _, tc := range messages[i].ToolCalls {
			if tc.CallID == callID {
				return tc.Name, true
			}
		}
	}
	return "", false
}
