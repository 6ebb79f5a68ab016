package stream

import "encoding/json"

// Kind is the closed set of classified event kinds.
type Kind string

const (
	KindInit           Kind = "init"
	KindAssistantDelta Kind = "assistant-delta"
	KindToolUse        Kind = "tool-use"
	KindToolResult     Kind = "tool-result"
	KindResultSuccess  Kind = "result-success"
	KindResultError    Kind = "result-error"

	// KindUnknown marks well-formed lines whose type we do not recognize.
	// Callers skip these but may still pick up a session ID they carry.
	KindUnknown Kind = "unknown"
)

// Event is one classified line from an agent process output stream.
type Event struct {
	Kind Kind

	// SessionID is set whenever the underlying line carried one, regardless
	// of kind. Resume flows may surface it outside the init event.
	SessionID string

	// Model is the model reported by the init event.
	Model string

	// Text is assistant message content (complete blocks or deltas).
	Text string

	// Tool call fields, set for KindToolUse.
	ToolName  string
	ToolID    string
	ToolInput json.RawMessage

	// ToolResult is the result payload text, set for KindToolResult.
	ToolResult string

	// Result fields, set for KindResultSuccess / KindResultError.
	ResultText   string
	IsError      bool
	NumTurns     int
	DurationMS   float64
	TotalCostUSD float64
}

// IsTerminal reports whether this event ends the logical conversation turn.
// Draining of the underlying stream must continue past a terminal event to
// avoid blocking the process on a full pipe.
func (e Event) IsTerminal() bool {
	return e.Kind == KindResultSuccess || e.Kind == KindResultError
}

// RawEvent pairs a classified event with the raw NDJSON line it came from.
// Err is set for lines that failed to parse; such lines are skipped by
// consumers, never fatal.
type RawEvent struct {
	Raw   []byte
	Event Event
	Err   error
}

// envelope is the top-level structure of one agent stream-json line.
type envelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// For system/init events.
	SessionID string   `json:"session_id,omitempty"`
	Model     string   `json:"model,omitempty"`
	Tools     []string `json:"tools,omitempty"`

	// For assistant/user events: the full message payload.
	Message *message `json:"message,omitempty"`

	// For content_block_delta events.
	Delta *delta `json:"delta,omitempty"`

	// For result events.
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
	DurationMS   float64 `json:"duration_ms,omitempty"`
	IsError      bool    `json:"is_error,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
	ResultText   string  `json:"result,omitempty"`
}

type message struct {
	ID      string         `json:"id,omitempty"`
	Role    string         `json:"role,omitempty"`
	Content []contentBlock `json:"content,omitempty"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`
	ID        string          `json:"id,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type delta struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}
