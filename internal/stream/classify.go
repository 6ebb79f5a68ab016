package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Classify maps one NDJSON line to a typed Event. It is pure and stateless.
// A malformed line returns an error; callers log and skip it, they never
// abort draining on one.
func Classify(line []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Event{}, fmt.Errorf("classify: %w", err)
	}
	if env.Type == "" {
		return Event{}, fmt.Errorf("classify: line missing type discriminant")
	}

	ev := Event{SessionID: env.SessionID}

	switch env.Type {
	case "system":
		if env.Subtype == "init" {
			ev.Kind = KindInit
			ev.Model = env.Model
			return ev, nil
		}
		ev.Kind = KindUnknown
		return ev, nil

	case "assistant":
		return classifyAssistant(&env, ev), nil

	case "user":
		// Tool results come back wrapped in user-role messages.
		if env.Message != nil {
			for _, block := range env.Message.Content {
				if block.Type == "tool_result" {
					ev.Kind = KindToolResult
					ev.ToolID = block.ToolUseID
					ev.ToolResult = resultContentText(block.Content)
					return ev, nil
				}
			}
		}
		ev.Kind = KindUnknown
		return ev, nil

	case "content_block_delta":
		ev.Kind = KindAssistantDelta
		if env.Delta != nil && env.Delta.Type == "text_delta" {
			ev.Text = env.Delta.Text
		}
		return ev, nil

	case "result":
		ev.ResultText = env.ResultText
		ev.IsError = env.IsError
		ev.NumTurns = env.NumTurns
		ev.DurationMS = env.DurationMS
		ev.TotalCostUSD = env.TotalCostUSD
		if env.IsError || env.Subtype == "error" || strings.HasPrefix(env.Subtype, "error_") {
			ev.Kind = KindResultError
			ev.IsError = true
		} else {
			ev.Kind = KindResultSuccess
		}
		return ev, nil
	}

	ev.Kind = KindUnknown
	return ev, nil
}

// classifyAssistant folds a full assistant message into one event. A message
// carrying any tool_use block classifies as tool use; otherwise its text
// blocks concatenate into an assistant delta.
func classifyAssistant(env *envelope, ev Event) Event {
	ev.Kind = KindAssistantDelta
	if env.Message == nil {
		return ev
	}

	var text strings.Builder
	for _, block := range env.Message.Content {
		switch block.Type {
		case "tool_use":
			ev.Kind = KindToolUse
			ev.ToolName = block.Name
			ev.ToolID = block.ID
			ev.ToolInput = block.Input
		case "text":
			text.WriteString(block.Text)
		}
	}
	if ev.Kind == KindAssistantDelta {
		ev.Text = text.String()
	}
	return ev
}

// resultContentText extracts human-readable text from a tool_result content
// field, which may be a plain string or a list of content blocks.
func resultContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var b strings.Builder
		for _, block := range blocks {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		return b.String()
	}
	return string(raw)
}
