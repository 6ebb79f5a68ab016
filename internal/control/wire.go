// Package control is the local control channel between running agent
// processes and the coordination broker. The broker side listens on a
// Unix domain socket and upgrades each connection to a WebSocket; every
// message is a JSON envelope with a type discriminant. Requests on one
// connection are handled serially, which matches the calling agent's
// turn being suspended while a request is outstanding.
package control

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/crewctl/crewctl/internal/broker"
)

// Client-to-broker request types.
const (
	MsgHello          = "hello"           // Register the agent on this connection
	MsgAgentMessage   = "agent_message"   // Directed inbox message
	MsgAgentBroadcast = "agent_broadcast" // Broadcast inbox message
	MsgListInbox      = "list_inbox"      // Fetch the agent's inbox
	MsgMarkRead       = "mark_read"       // Toggle a message's read flag
	MsgAskQuestion    = "ask_question"    // Suspend until a human answers
	MsgAskPermission  = "ask_permission"  // Suspend until a human grants/denies
	MsgAskPlanReview  = "ask_plan_review" // Suspend until a human reviews the plan
	MsgBacklogAdd     = "backlog_add"     // Create a backlog item
	MsgBacklogUpdate  = "backlog_update"  // Mutate status/sort order
	MsgBacklogList    = "backlog_list"    // Fetch backlog items
)

// Operator request types, usable without a hello. The backlog and
// list_inbox verbs also work without one when the payload names an agent
// explicitly.
const (
	MsgCancelSession = "cancel_session" // Graceful interrupt of a running session
	MsgWatch         = "watch"          // Switch the connection to event streaming
	MsgListAgents    = "list_agents"    // Registered agents
	MsgListPending   = "list_pending"   // Outstanding human-decision requests
	MsgResolve       = "resolve"        // Settle one pending request
)

// Broker-to-client response types.
const (
	MsgResult = "result"
	MsgError  = "error"
	MsgEvent  = "event" // One bus notification on a watch connection
)

// WireMsg is the envelope for every message on the control socket.
type WireMsg struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WireHello registers the calling agent. Sent once, first, per
// connection.
type WireHello struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name,omitempty"`
}

// WireAgentMessage is a directed message request.
type WireAgentMessage struct {
	To       string          `json:"to"`
	Body     string          `json:"body"`
	Priority broker.Priority `json:"priority,omitempty"`
}

// WireAgentBroadcast is a broadcast message request.
type WireAgentBroadcast struct {
	Body     string          `json:"body"`
	Priority broker.Priority `json:"priority,omitempty"`
}

// WireInboxQuery selects whose inbox to list. AgentID is optional on an
// agent connection, required on an operator one.
type WireInboxQuery struct {
	AgentID string `json:"agent_id,omitempty"`
}

// WireMarkRead toggles one message's read flag. AgentID follows the same
// rule as WireInboxQuery.
type WireMarkRead struct {
	AgentID   string `json:"agent_id,omitempty"`
	MessageID string `json:"message_id"`
	Read      bool   `json:"read"`
}

// WireResolve settles one pending request. The payload field matching the
// request's kind must be set.
type WireResolve struct {
	ID      string             `json:"id"`
	Answers []string           `json:"answers,omitempty"`
	Granted *bool              `json:"granted,omitempty"`
	Review  *broker.PlanReview `json:"review,omitempty"`
}

// WireAskQuestion suspends the agent's turn on one or more questions.
type WireAskQuestion struct {
	Questions []broker.Question `json:"questions"`
}

// WireAskPermission suspends the agent's turn on a permission grant.
type WireAskPermission struct {
	Permission string `json:"permission"`
	Reason     string `json:"reason,omitempty"`
}

// WireBacklogUpdate mutates one backlog item.
type WireBacklogUpdate struct {
	ID     string               `json:"id"`
	Update broker.BacklogUpdate `json:"update"`
}

// WireCancelSession asks the supervisor to interrupt one session.
// Cancelling a session that is not running is a no-op.
type WireCancelSession struct {
	SessionID string `json:"session_id"`
}

// WireEvent is one bus notification forwarded on a watch connection.
type WireEvent struct {
	Topic   string          `json:"topic"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WireBacklogList filters backlog items.
type WireBacklogList struct {
	AgentID  string               `json:"agent_id,omitempty"`
	ParentID string               `json:"parent_id,omitempty"`
	Status   broker.BacklogStatus `json:"status,omitempty"`
}

// WireResult is the broker's reply to any request. Exactly one of the
// payload fields is set, matching the request type.
type WireResult struct {
	Messages []broker.Message        `json:"messages,omitempty"`
	Answers  []string                `json:"answers,omitempty"`
	Granted  *bool                   `json:"granted,omitempty"`
	Review   *broker.PlanReview      `json:"review,omitempty"`
	Item     *broker.BacklogItem     `json:"item,omitempty"`
	Items    []broker.BacklogItem    `json:"items,omitempty"`
	Agents   []broker.Agent          `json:"agents,omitempty"`
	Pending  []broker.PendingRequest `json:"pending,omitempty"`
}

// Error codes carried on MsgError replies.
const (
	CodeSuperseded     = "superseded"
	CodeBadRequest     = "bad_request"
	CodeUnknownRequest = "unknown_request"
)

// WireError is the broker's failure reply.
type WireError struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// EncodeMsg builds the JSON envelope for a message type and payload.
func EncodeMsg(msgType string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(WireMsg{Type: msgType, Data: data})
}

// DecodeMsg parses one envelope.
func DecodeMsg(raw []byte) (*WireMsg, error) {
	var msg WireMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("control message without type")
	}
	return &msg, nil
}

// DecodeData parses a message's payload into the given wire struct.
func DecodeData[T any](msg *WireMsg) (*T, error) {
	var data T
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return nil, fmt.Errorf("decoding %s data: %w", msg.Type, err)
		}
	}
	return &data, nil
}
