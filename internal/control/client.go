package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/coder/websocket"

	"github.com/crewctl/crewctl/internal/broker"
)

// Client is an agent-side connection to the broker's control socket.
// Requests are serial: one outstanding request per client at a time,
// matching the agent turn it suspends.
type Client struct {
	ws *websocket.Conn
}

// Dial connects to the control socket and registers the agent. The
// returned client is ready for requests.
func Dial(ctx context.Context, sockPath, agentID, name string) (*Client, error) {
	c, err := DialOperator(ctx, sockPath)
	if err != nil {
		return nil, err
	}
	if _, err := c.roundTrip(ctx, MsgHello, WireHello{AgentID: agentID, Name: name}); err != nil {
		c.ws.CloseNow()
		return nil, fmt.Errorf("registering agent: %w", err)
	}
	return c, nil
}

// DialOperator connects without registering an agent. Only the operator
// verbs (cancel, watch) work on such a connection.
func DialOperator(ctx context.Context, sockPath string) (*Client, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sockPath)
			},
		},
	}

	// The host is ignored; the transport always dials the socket.
	ws, _, err := websocket.Dial(ctx, "ws://crewctl/control", &websocket.DialOptions{
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing control socket: %w", err)
	}
	ws.SetReadLimit(maxControlMessage)
	return &Client{ws: ws}, nil
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

func (c *Client) roundTrip(ctx context.Context, msgType string, payload any) (*WireResult, error) {
	data, err := EncodeMsg(msgType, payload)
	if err != nil {
		return nil, err
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return nil, fmt.Errorf("writing %s request: %w", msgType, err)
	}

	_, raw, err := c.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading %s reply: %w", msgType, err)
	}
	msg, err := DecodeMsg(raw)
	if err != nil {
		return nil, err
	}
	switch msg.Type {
	case MsgResult:
		return DecodeData[WireResult](msg)
	case MsgError:
		wireErr, err := DecodeData[WireError](msg)
		if err != nil {
			return nil, err
		}
		switch wireErr.Code {
		case CodeSuperseded:
			return nil, broker.ErrRequestSuperseded
		case CodeUnknownRequest:
			return nil, broker.ErrUnknownRequest
		}
		return nil, errors.New(wireErr.Error)
	default:
		return nil, fmt.Errorf("unexpected reply type %q", msg.Type)
	}
}

// SendMessage delivers a directed message to another agent's inbox.
func (c *Client) SendMessage(ctx context.Context, to, body string, priority broker.Priority) (broker.Message, error) {
	res, err := c.roundTrip(ctx, MsgAgentMessage, WireAgentMessage{To: to, Body: body, Priority: priority})
	if err != nil {
		return broker.Message{}, err
	}
	if len(res.Messages) == 0 {
		return broker.Message{}, errors.New("empty send reply")
	}
	return res.Messages[0], nil
}

// Broadcast delivers a message to every other registered agent.
func (c *Client) Broadcast(ctx context.Context, body string, priority broker.Priority) ([]broker.Message, error) {
	res, err := c.roundTrip(ctx, MsgAgentBroadcast, WireAgentBroadcast{Body: body, Priority: priority})
	if err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// ListInbox fetches this agent's inbox in creation order.
func (c *Client) ListInbox(ctx context.Context) ([]broker.Message, error) {
	return c.InboxOf(ctx, "")
}

// InboxOf fetches another agent's inbox. Operator connections must name
// the agent.
func (c *Client) InboxOf(ctx context.Context, agentID string) ([]broker.Message, error) {
	res, err := c.roundTrip(ctx, MsgListInbox, WireInboxQuery{AgentID: agentID})
	if err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// MarkRead toggles one message's read flag in this agent's inbox.
func (c *Client) MarkRead(ctx context.Context, messageID string, read bool) error {
	return c.MarkReadFor(ctx, "", messageID, read)
}

// MarkReadFor toggles a read flag in the named agent's inbox.
func (c *Client) MarkReadFor(ctx context.Context, agentID, messageID string, read bool) error {
	_, err := c.roundTrip(ctx, MsgMarkRead, WireMarkRead{AgentID: agentID, MessageID: messageID, Read: read})
	return err
}

// ListAgents fetches every registered agent.
func (c *Client) ListAgents(ctx context.Context) ([]broker.Agent, error) {
	res, err := c.roundTrip(ctx, MsgListAgents, nil)
	if err != nil {
		return nil, err
	}
	return res.Agents, nil
}

// ListPending fetches every outstanding human-decision request.
func (c *Client) ListPending(ctx context.Context) ([]broker.PendingRequest, error) {
	res, err := c.roundTrip(ctx, MsgListPending, nil)
	if err != nil {
		return nil, err
	}
	return res.Pending, nil
}

// ResolveQuestion answers a pending question on the operator's behalf.
func (c *Client) ResolveQuestion(ctx context.Context, id string, answers []string) error {
	if answers == nil {
		answers = []string{}
	}
	_, err := c.roundTrip(ctx, MsgResolve, WireResolve{ID: id, Answers: answers})
	return err
}

// ResolvePermission grants or denies a pending permission request.
func (c *Client) ResolvePermission(ctx context.Context, id string, granted bool) error {
	_, err := c.roundTrip(ctx, MsgResolve, WireResolve{ID: id, Granted: &granted})
	return err
}

// ResolvePlanReview settles a pending plan review.
func (c *Client) ResolvePlanReview(ctx context.Context, id string, review broker.PlanReview) error {
	_, err := c.roundTrip(ctx, MsgResolve, WireResolve{ID: id, Review: &review})
	return err
}

// AskQuestion suspends until a human answers, the request is superseded,
// or ctx is done.
func (c *Client) AskQuestion(ctx context.Context, questions []broker.Question) ([]string, error) {
	res, err := c.roundTrip(ctx, MsgAskQuestion, WireAskQuestion{Questions: questions})
	if err != nil {
		return nil, err
	}
	return res.Answers, nil
}

// AskPermission suspends until a human grants or denies the permission.
func (c *Client) AskPermission(ctx context.Context, permission, reason string) (bool, error) {
	res, err := c.roundTrip(ctx, MsgAskPermission, WireAskPermission{Permission: permission, Reason: reason})
	if err != nil {
		return false, err
	}
	if res.Granted == nil {
		return false, errors.New("empty permission reply")
	}
	return *res.Granted, nil
}

// AskPlanReview suspends until a human reviews the plan.
func (c *Client) AskPlanReview(ctx context.Context) (broker.PlanReview, error) {
	res, err := c.roundTrip(ctx, MsgAskPlanReview, nil)
	if err != nil {
		return broker.PlanReview{}, err
	}
	if res.Review == nil {
		return broker.PlanReview{}, errors.New("empty plan review reply")
	}
	return *res.Review, nil
}

// BacklogAdd creates a backlog item owned by this agent unless the item
// names another owner.
func (c *Client) BacklogAdd(ctx context.Context, item broker.BacklogItem) (broker.BacklogItem, error) {
	res, err := c.roundTrip(ctx, MsgBacklogAdd, item)
	if err != nil {
		return broker.BacklogItem{}, err
	}
	if res.Item == nil {
		return broker.BacklogItem{}, errors.New("empty backlog reply")
	}
	return *res.Item, nil
}

// BacklogUpdate mutates one item's status or sort order.
func (c *Client) BacklogUpdate(ctx context.Context, id string, upd broker.BacklogUpdate) (broker.BacklogItem, error) {
	res, err := c.roundTrip(ctx, MsgBacklogUpdate, WireBacklogUpdate{ID: id, Update: upd})
	if err != nil {
		return broker.BacklogItem{}, err
	}
	if res.Item == nil {
		return broker.BacklogItem{}, errors.New("empty backlog reply")
	}
	return *res.Item, nil
}

// CancelSession asks the serving process to interrupt one session.
func (c *Client) CancelSession(ctx context.Context, sessionID string) error {
	_, err := c.roundTrip(ctx, MsgCancelSession, WireCancelSession{SessionID: sessionID})
	return err
}

// Watch switches the connection to event streaming. Events arrive on the
// returned channel until the connection drops or ctx is done; the channel
// is closed either way. No other request may follow on this client.
func (c *Client) Watch(ctx context.Context) (<-chan WireEvent, error) {
	if _, err := c.roundTrip(ctx, MsgWatch, nil); err != nil {
		return nil, err
	}

	events := make(chan WireEvent, 64)
	go func() {
		defer close(events)
		for {
			_, raw, err := c.ws.Read(ctx)
			if err != nil {
				return
			}
			msg, err := DecodeMsg(raw)
			if err != nil || msg.Type != MsgEvent {
				continue
			}
			ev, err := DecodeData[WireEvent](msg)
			if err != nil {
				continue
			}
			select {
			case events <- *ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// BacklogList fetches items matching the filter.
func (c *Client) BacklogList(ctx context.Context, filter broker.BacklogFilter) ([]broker.BacklogItem, error) {
	res, err := c.roundTrip(ctx, MsgBacklogList, WireBacklogList{
		AgentID:  filter.AgentID,
		ParentID: filter.ParentID,
		Status:   filter.Status,
	})
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}
