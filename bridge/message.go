package bridge

import "encoding/json"

// Message type tags used on framed stream messages. Non-streaming
// responses carry no type tag, matching what the extension expects.
const (
	TypeStreamEvent    = "stream_event"
	TypeStreamComplete = "stream_complete"
	TypeCancelRequest  = "cancel_request"
)

// PageContext carries browser-side metadata attached to a prompt.
// All fields are optional.
type PageContext struct {
	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Request is one inbound frame from the extension. RequestID zero
// means the caller did not ask for correlation; the connection
// manager always assigns IDs starting at 1.
type Request struct {
	Type      string       `json:"type,omitempty"`
	RequestID uint64       `json:"requestId,omitempty"`
	Prompt    string       `json:"prompt,omitempty"`
	Context   *PageContext `json:"context,omitempty"`
	Agent     string       `json:"agent,omitempty"`
	Stream    bool         `json:"stream,omitempty"`
}

// Response is the non-streaming reply frame. Troubleshooting holds
// fixed remediation steps; it is never generated dynamically.
type Response struct {
	RequestID       uint64          `json:"requestId,omitempty"`
	Success         bool            `json:"success"`
	Data            json.RawMessage `json:"data,omitempty"`
	Error           string          `json:"error,omitempty"`
	Details         string          `json:"details,omitempty"`
	Troubleshooting []string        `json:"troubleshooting,omitempty"`
}

// AgentEvent is one unit of streamed progress from the backing
// server, already translated from its SSE form. Which fields are set
// depends on Type.
type AgentEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Text      string          `json:"text,omitempty"`
	Chunk     string          `json:"chunk,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	FinalText string          `json:"final_text,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Event types emitted while streaming.
const (
	EventStreamStarted = "stream_started"
	EventPartialText   = "partial_text"
	EventToolExecuting = "tool_executing"
	EventToolResult    = "tool_result"
	EventComplete      = "complete"
	EventError         = "error"
)

// StreamEventFrame wraps an AgentEvent for the wire.
type StreamEventFrame struct {
	Type      string     `json:"type"`
	RequestID uint64     `json:"requestId"`
	Event     AgentEvent `json:"event"`
}

// StreamCompleteFrame terminates a streamed exchange. Exactly one is
// sent per streaming request, after the last StreamEventFrame.
type StreamCompleteFrame struct {
	Type      string `json:"type"`
	RequestID uint64 `json:"requestId"`
}

// envelope is the minimal shape the connection manager sniffs off an
// inbound frame to route it.
type envelope struct {
	Type      string `json:"type"`
	RequestID uint64 `json:"requestId"`
}
