package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/crewctl/crewctl/internal/broker"
	"github.com/crewctl/crewctl/internal/bus"
	"github.com/crewctl/crewctl/internal/stream"
	"github.com/crewctl/crewctl/internal/supervisor"
)

// printNotification renders one bus notification for a human observer.
func printNotification(n bus.Notification) {
	ts := style(colorDim, n.Time.Local().Format("15:04:05"))

	switch p := n.Payload.(type) {
	case supervisor.ProcessOutput:
		printProcessOutput(ts, p)
	case supervisor.ProcessExit:
		status := style(styleBoldGreen, "exit 0")
		if p.ExitCode != 0 {
			status = style(styleBoldRed, fmt.Sprintf("exit %d", p.ExitCode))
		}
		fmt.Printf("%s %s %s after %s\n", ts, sessionTag(p.SessionID), status, p.Duration.Round(time.Millisecond))
	case broker.InboxUpdate:
		fmt.Printf("%s %s inbox for %s (%d unread)\n", ts, style(styleBoldCyan, "✉"), p.AgentID, p.Unread)
	case broker.PendingRequest:
		printPendingRequest(ts, p)
	case broker.BacklogItem:
		fmt.Printf("%s %s backlog %s [%s] %s\n", ts, style(styleBoldCyan, "☰"), p.ID, p.Status, truncate(p.Title, 60))
	default:
		fmt.Printf("%s %s\n", ts, n.Topic)
	}
}

func printProcessOutput(ts string, p supervisor.ProcessOutput) {
	tag := sessionTag(p.SessionID)
	ev := p.Event

	switch ev.Kind {
	case stream.KindInit:
		fmt.Printf("%s %s session started (model %s)\n", ts, tag, ev.Model)
	case stream.KindAssistantDelta:
		if ev.Text != "" {
			fmt.Printf("%s %s %s\n", ts, tag, truncate(ev.Text, 100))
		}
	case stream.KindToolUse:
		fmt.Printf("%s %s %s %s\n", ts, tag, style(styleBoldYellow, "⚙ "+ev.ToolName), truncate(string(ev.ToolInput), 80))
	case stream.KindToolResult:
		fmt.Printf("%s %s %s\n", ts, tag, style(colorDim, truncate(ev.ToolResult, 80)))
	case stream.KindResultSuccess:
		fmt.Printf("%s %s %s %s\n", ts, tag, style(styleBoldGreen, "✓"), truncate(ev.ResultText, 100))
	case stream.KindResultError:
		fmt.Printf("%s %s %s %s\n", ts, tag, style(styleBoldRed, "✗"), truncate(ev.ResultText, 100))
	}
}

func printPendingRequest(ts string, p broker.PendingRequest) {
	if p.State != broker.StatePending {
		fmt.Printf("%s %s request %s %s\n", ts, style(colorDim, "◌"), p.ID, p.State)
		return
	}
	switch p.Kind {
	case broker.KindQuestion:
		q := ""
		if len(p.Questions) > 0 {
			q = p.Questions[0].Text
		}
		fmt.Printf("%s %s %s asks: %s\n", ts, style(styleBoldYellow, "?"), p.AgentID, truncate(q, 80))
	case broker.KindPermission:
		fmt.Printf("%s %s %s wants %s (%s)\n", ts, style(styleBoldYellow, "!"), p.AgentID, p.Permission, truncate(p.Reason, 60))
	case broker.KindPlanReview:
		fmt.Printf("%s %s %s submitted a plan for review\n", ts, style(styleBoldYellow, "≡"), p.AgentID)
	}
	fmt.Printf("%s   resolve with: crewctl resolve ... %s\n", ts, p.ID)
}

func sessionTag(sessionID string) string {
	return style(styleBoldCyan, "["+truncate(sessionID, 12)+"]")
}

// renderWirePayload pretty-prints a watch event payload when it is small
// enough to be useful inline.
func renderWirePayload(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return truncate(string(raw), 120)
}
