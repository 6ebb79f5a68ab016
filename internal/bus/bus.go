// Package bus fans out orchestrator state changes to any number of
// observers. Delivery is best-effort: nothing is persisted when no
// subscriber is attached at publish time, and a slow subscriber drops
// rather than blocking the publisher.
package bus

import (
	"sync"
	"time"

	"github.com/crewctl/crewctl/internal/debug"
	"github.com/crewctl/crewctl/internal/eventq"
)

// Topics published by the supervisor and the broker.
const (
	TopicProcessOutput     = "process-output"
	TopicProcessExit       = "process-exit"
	TopicInboxUpdated      = "inbox-updated"
	TopicPendingQuestion   = "pending-question"
	TopicPendingPermission = "pending-permission"
	TopicPendingPlanReview = "pending-plan-review"
	TopicBacklogUpdated    = "backlog-updated"
)

// Notification is one published state change.
type Notification struct {
	Topic   string
	Payload any
	Time    time.Time
}

const subscriberBuffer = 256

// Bus is a topic-based publish/subscribe fan-out.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// Subscription receives notifications on C until Cancel is called.
type Subscription struct {
	C <-chan Notification

	id     int
	bus    *Bus
	ch     chan Notification
	topics map[string]bool // nil means all topics
	once   sync.Once
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe attaches an observer. With no topics given, every topic is
// delivered; otherwise only the named ones.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	ch := make(chan Notification, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}
	if len(topics) > 0 {
		sub.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Cancel detaches the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// Publish delivers a notification to every matching subscriber. Per
// subscriber, notifications from one publisher arrive in publish order
// until its buffer overflows.
func (b *Bus) Publish(topic string, payload any) {
	n := Notification{Topic: topic, Payload: payload, Time: time.Now().UTC()}

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.topics == nil || s.topics[topic] {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if !eventq.Offer(s.ch, n) {
			debug.LogKV("bus", "dropping notification for slow subscriber", "topic", topic, "sub_id", s.id)
		}
	}
}

// SubscriberCount returns the number of attached subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
