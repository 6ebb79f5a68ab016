package stream

import (
	"context"
	"strings"
	"testing"
)

// testNDJSON uses the actual agent stream-json format:
// system (init), assistant (full message), result (summary).
const testNDJSON = `{"type":"system","subtype":"init","session_id":"abc123","model":"claude-sonnet-4-5-20250929","tools":["Bash","Read","Write"]}
{"type":"assistant","message":{"id":"msg_01","role":"assistant","content":[{"type":"text","text":"Hello, world!"}]}}
{"type":"result","subtype":"success","is_error":false,"total_cost_usd":0.08,"duration_ms":141000,"num_turns":3,"result":"Hello, world!"}
`

func TestParseNDJSON(t *testing.T) {
	ch := Parse(context.Background(), strings.NewReader(testNDJSON))

	var events []RawEvent
	for ev := range ch {
		if ev.Err != nil {
			t.Fatalf("unexpected error: %v", ev.Err)
		}
		events = append(events, ev)
	}

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Event.Kind != KindInit || events[0].Event.SessionID != "abc123" {
		t.Errorf("event[0] = %+v, want init for abc123", events[0].Event)
	}
	if events[1].Event.Kind != KindAssistantDelta || events[1].Event.Text != "Hello, world!" {
		t.Errorf("event[1] = %+v", events[1].Event)
	}
	if events[2].Event.Kind != KindResultSuccess {
		t.Errorf("event[2].Kind = %q, want %q", events[2].Event.Kind, KindResultSuccess)
	}
}

// A malformed line surfaces as RawEvent.Err and must not stop draining;
// the terminal event after it is still delivered.
func TestParseMalformedLineNotFatal(t *testing.T) {
	input := `{"type":"system","subtype":"init","session_id":"abc123"}
{garbage line
{"type":"result","subtype":"success","result":"ok"}
`
	ch := Parse(context.Background(), strings.NewReader(input))

	var total, failed int
	var sawTerminal bool
	for ev := range ch {
		total++
		if ev.Err != nil {
			failed++
			continue
		}
		if ev.Event.IsTerminal() {
			sawTerminal = true
		}
	}

	if total != 3 {
		t.Errorf("processed %d lines, want 3 (malformed line counts)", total)
	}
	if failed != 1 {
		t.Errorf("failed lines = %d, want 1", failed)
	}
	if !sawTerminal {
		t.Error("terminal event after malformed line was lost")
	}
}

func TestParseSkipsBlankLines(t *testing.T) {
	input := "\n\n" + `{"type":"result","subtype":"success"}` + "\n\n"
	ch := Parse(context.Background(), strings.NewReader(input))

	var n int
	for range ch {
		n++
	}
	if n != 1 {
		t.Errorf("got %d events, want 1", n)
	}
}

func TestParseContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled context closes the channel without hanging even when the
	// consumer stops reading.
	pr := strings.NewReader(strings.Repeat(`{"type":"system","subtype":"init"}`+"\n", 1000))
	ch := Parse(ctx, pr)
	for range ch {
	}
}
