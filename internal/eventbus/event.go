// Package eventbus implements the runtime's topic-based publish/subscribe
// layer: one topic per session plus a catch-all "all" topic that every event
// is also mirrored to.
package eventbus

import "time"

// Kind identifies the kind of lifecycle event being published.
type Kind string

const (
	KindAgentStart     Kind = "agent_start"
	KindAgentEnd       Kind = "agent_end"
	KindAgentAbort     Kind = "agent_abort"
	KindMessageStart   Kind = "message_start"
	KindMessageDelta   Kind = "message_delta"
	KindMessageEnd     Kind = "message_end"
	KindThinkingStart  Kind = "thinking_start"
	KindThinkingDelta  Kind = "thinking_delta"
	KindToolStart      Kind = "tool_start"
	KindToolEnd        Kind = "tool_end"
	KindRequestStart   Kind = "request_start"
	KindRequestEnd     Kind = "request_end"
	KindUsageUpdate    Kind = "usage_update"
	KindError          Kind = "error"
	KindSubAgent       Kind = "sub_agent"
)

// Event is the single envelope type delivered to subscribers. Exactly the
// fields relevant to Kind are populated; the rest are zero values.
type Event struct {
	SessionID string    `json:"session_id"`
	Kind      Kind      `json:"kind"`
	Sequence  uint64    `json:"seq"`
	Time      time.Time `json:"time"`

	// Text carries message/thinking deltas and final content.
	Text string `json:"text,omitempty"`

	// ToolCallID/ToolName describe tool_start/tool_end events.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolError  string `json:"tool_error,omitempty"`

	// Usage carries usage_update payloads.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// Err carries error events; Message is always a human-readable summary.
	Message string `json:"message,omitempty"`
	Retry   bool   `json:"retry,omitempty"`

	// Sub wraps an inner event from a spawned child runtime.
	Sub *Event `json:"sub,omitempty"`
}
