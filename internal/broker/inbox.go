package broker

import (
	"errors"
	"time"

	"github.com/crewctl/crewctl/internal/bus"
	"github.com/crewctl/crewctl/internal/hexid"
)

// Priority orders messages by urgency for display; delivery itself is
// strictly creation-ordered.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Message is one directed or broadcast inbox entry. From is empty for
// system-generated messages.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from,omitempty"`
	FromName  string    `json:"from_name,omitempty"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}

// InboxUpdate is the payload published on TopicInboxUpdated.
type InboxUpdate struct {
	AgentID string `json:"agent_id"`
	Unread  int    `json:"unread"`
}

// SendMessage appends a directed message to the recipient's inbox. The
// recipient must be registered; the sender need not be.
func (b *Broker) SendMessage(from, fromName, to, body string, priority Priority) (Message, error) {
	if to == "" {
		return Message{}, errors.New("recipient is required")
	}
	if body == "" {
		return Message{}, errors.New("message body is required")
	}
	if priority == "" {
		priority = PriorityNormal
	}

	b.mu.Lock()
	if _, ok := b.agents[to]; !ok {
		b.mu.Unlock()
		return Message{}, ErrUnknownAgent
	}
	m := Message{
		ID:        hexid.New(),
		From:      from,
		FromName:  fromName,
		To:        to,
		Body:      body,
		Priority:  priority,
		CreatedAt: b.now().UTC(),
	}
	b.inboxes[to] = append(b.inboxes[to], m)
	unread := unreadCount(b.inboxes[to])
	b.mu.Unlock()

	b.publish(bus.TopicInboxUpdated, InboxUpdate{AgentID: to, Unread: unread})
	return m, nil
}

// Broadcast appends the message to every registered agent's inbox except
// the sender's, publishing one inbox-updated notification per recipient.
func (b *Broker) Broadcast(from, fromName, body string, priority Priority) ([]Message, error) {
	if body == "" {
		return nil, errors.New("message body is required")
	}
	if priority == "" {
		priority = PriorityNormal
	}

	b.mu.Lock()
	var out []Message
	var updates []InboxUpdate
	for id := range b.agents {
		if id == from {
			continue
		}
		m := Message{
			ID:        hexid.New(),
			From:      from,
			FromName:  fromName,
			To:        id,
			Body:      body,
			Priority:  priority,
			CreatedAt: b.now().UTC(),
		}
		b.inboxes[id] = append(b.inboxes[id], m)
		out = append(out, m)
		updates = append(updates, InboxUpdate{AgentID: id, Unread: unreadCount(b.inboxes[id])})
	}
	b.mu.Unlock()

	for _, u := range updates {
		b.publish(bus.TopicInboxUpdated, u)
	}
	return out, nil
}

// ListInbox returns the agent's messages in creation order.
func (b *Broker) ListInbox(agentID string) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.inboxes[agentID]))
	copy(out, b.inboxes[agentID])
	return out
}

// UnreadCount returns the number of unread messages in the agent's inbox.
func (b *Broker) UnreadCount(agentID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return unreadCount(b.inboxes[agentID])
}

// MarkRead toggles the read flag on one message.
func (b *Broker) MarkRead(agentID, messageID string, read bool) error {
	b.mu.Lock()
	msgs := b.inboxes[agentID]
	idx := -1
	for i := range msgs {
		if msgs[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mu.Unlock()
		return errors.New("no such message")
	}
	msgs[idx].Read = read
	unread := unreadCount(msgs)
	b.mu.Unlock()

	b.publish(bus.TopicInboxUpdated, InboxUpdate{AgentID: agentID, Unread: unread})
	return nil
}

// DeleteMessage removes one message from the agent's inbox.
func (b *Broker) DeleteMessage(agentID, messageID string) error {
	b.mu.Lock()
	msgs := b.inboxes[agentID]
	idx := -1
	for i := range msgs {
		if msgs[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mu.Unlock()
		return errors.New("no such message")
	}
	b.inboxes[agentID] = append(msgs[:idx], msgs[idx+1:]...)
	unread := unreadCount(b.inboxes[agentID])
	b.mu.Unlock()

	b.publish(bus.TopicInboxUpdated, InboxUpdate{AgentID: agentID, Unread: unread})
	return nil
}

// ClearInbox removes every message from the agent's inbox.
func (b *Broker) ClearInbox(agentID string) {
	b.mu.Lock()
	b.inboxes[agentID] = nil
	b.mu.Unlock()

	b.publish(bus.TopicInboxUpdated, InboxUpdate{AgentID: agentID, Unread: 0})
}

func unreadCount(msgs []Message) int {
	n := 0
	for i := range msgs {
		if !msgs[i].Read {
			n++
		}
	}
	return n
}
